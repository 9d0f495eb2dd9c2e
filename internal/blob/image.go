package blob

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp" // WebP decoder
)

// ErrNotImage is returned when uploaded bytes are not a supported image.
var ErrNotImage = errors.New("not a supported image")

const jpegQuality = 90

// Image formats accepted for upload.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatGIF  = "gif"
	FormatWebP = "webp"
)

// NormalizeImage checks that data decodes as a supported image, applies its
// EXIF orientation and re-encodes it, dropping metadata. WebP has no pure Go
// encoder, so WebP input is validated and kept as is.
func NormalizeImage(data []byte) ([]byte, string, error) {
	format := DetectFormat(data)
	if format == "" {
		return nil, "", ErrNotImage
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrNotImage, err)
	}
	if format == FormatWebP {
		return data, format, nil
	}

	img = applyOrientation(img, readOrientation(bytes.NewReader(data)))

	var buf bytes.Buffer
	switch format {
	case FormatPNG:
		err = png.Encode(&buf, img)
	case FormatGIF:
		err = gif.Encode(&buf, img, nil)
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	}
	if err != nil {
		return nil, "", fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), format, nil
}

// DetectFormat sniffs the image format of data. It returns "" for anything
// that is not jpeg, png, gif or webp. TIFF is rejected outright
// (CVE-2023-36308 in disintegration/imaging).
func DetectFormat(data []byte) string {
	contentType := http.DetectContentType(data)
	switch {
	case strings.Contains(contentType, "tiff"):
		return ""
	case strings.Contains(contentType, "jpeg"):
		return FormatJPEG
	case strings.Contains(contentType, "png"):
		return FormatPNG
	case strings.Contains(contentType, "gif"):
		return FormatGIF
	case strings.Contains(contentType, "webp"):
		return FormatWebP
	default:
		return ""
	}
}

// readOrientation returns the EXIF orientation tag, or 1 when absent.
func readOrientation(r io.Reader) int {
	x, err := exif.Decode(r)
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	o, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return o
}

func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
