package domain

// ImageSourceKind tells which cover image source is selected.
type ImageSourceKind int

const (
	ImageNone ImageSourceKind = iota
	ImageFile
	ImageURL
)

func (k ImageSourceKind) String() string {
	switch k {
	case ImageFile:
		return "file"
	case ImageURL:
		return "url"
	default:
		return "none"
	}
}

// ImageSource is the cover image selection of a composer: nothing, a file
// to upload, or a URL to use verbatim. Only one can be held at a time.
type ImageSource struct {
	kind     ImageSourceKind
	fileName string
	data     []byte
	url      string
}

// NoImage selects no cover image.
func NoImage() ImageSource {
	return ImageSource{kind: ImageNone}
}

// FileImage selects a file to upload as the cover image.
func FileImage(name string, data []byte) ImageSource {
	return ImageSource{kind: ImageFile, fileName: name, data: data}
}

// URLImage selects an existing URL as the cover image.
func URLImage(url string) ImageSource {
	return ImageSource{kind: ImageURL, url: url}
}

// Kind reports which source is selected.
func (s ImageSource) Kind() ImageSourceKind {
	return s.kind
}

// File returns the selected file name and contents.
func (s ImageSource) File() (name string, data []byte, ok bool) {
	if s.kind != ImageFile {
		return "", nil, false
	}
	return s.fileName, s.data, true
}

// URL returns the selected URL.
func (s ImageSource) URL() (string, bool) {
	if s.kind != ImageURL {
		return "", false
	}
	return s.url, true
}
