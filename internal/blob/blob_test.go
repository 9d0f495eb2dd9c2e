package blob

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/blogapp/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		want    string
		wantErr bool
	}{
		{"plain", "blog-covers/1718000000123_beach.jpg", "blog-covers/1718000000123_beach.jpg", false},
		{"spaces", "blog-covers/1_my beach.jpg", "blog-covers/1_my-beach.jpg", false},
		{"transliterated", "blog-covers/1_Café del Mar!.jpg", "blog-covers/1_Cafe-del-Mar-.jpg", false},
		{"no namespace", "photo.png", "photo.png", false},
		{"empty", "", "", true},
		{"absolute", "/etc/passwd", "", true},
		{"traversal", "blog-covers/../../etc/passwd", "", true},
		{"empty segment", "blog-covers//a.png", "", true},
		{"backslash", `blog-covers\a.png`, "", true},
		{"only symbols", "blog-covers/!!!", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeKey(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeImage(t *testing.T) {
	out, format, err := NormalizeImage(pngBytes(t, 4, 3))
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, format)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Width)
	assert.Equal(t, 3, cfg.Height)

	_, format, err = NormalizeImage(jpegBytes(t, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, FormatJPEG, format)
}

func TestNormalizeImage_Rejects(t *testing.T) {
	_, _, err := NormalizeImage([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrNotImage)

	// Looks like a PNG but does not decode.
	truncated := pngBytes(t, 4, 4)[:20]
	_, _, err = NormalizeImage(truncated)
	assert.ErrorIs(t, err, ErrNotImage)
}

func TestApplyOrientation(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for _, o := range []int{5, 6, 7, 8} {
		b := applyOrientation(img, o).Bounds()
		assert.Equal(t, 2, b.Dx(), "orientation %d", o)
		assert.Equal(t, 4, b.Dy(), "orientation %d", o)
	}
	for _, o := range []int{1, 2, 3, 4} {
		b := applyOrientation(img, o).Bounds()
		assert.Equal(t, 4, b.Dx(), "orientation %d", o)
	}
}

func newTestStore(t *testing.T, maxBytes int64) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), "https://blog.test", maxBytes, testLogger())
	require.NoError(t, err)
	return s
}

func TestStore_UploadAndURL(t *testing.T) {
	s := newTestStore(t, 1<<20)
	ctx := context.Background()

	ref, err := s.Upload(ctx, "blog-covers/1718000000123_my beach.png", pngBytes(t, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, "blog-covers/1718000000123_my-beach.png", ref.Key)

	_, err = os.Stat(filepath.Join(s.Root(), "blog-covers", "1718000000123_my-beach.png"))
	require.NoError(t, err)

	url, err := s.URL(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "https://blog.test/blobs/blog-covers/1718000000123_my-beach.png", url)

	key, ok := s.KeyFromURL(url)
	require.True(t, ok)
	assert.Equal(t, ref.Key, key)
}

func TestStore_URLMissing(t *testing.T) {
	s := newTestStore(t, 0)

	_, err := s.URL(context.Background(), domain.BlobRef{Key: "blog-covers/nope.png"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_UploadTooLarge(t *testing.T) {
	s := newTestStore(t, 10)

	_, err := s.Upload(context.Background(), "blog-covers/a.png", pngBytes(t, 2, 2))
	var tooLarge *TooLargeError
	require.True(t, errors.As(err, &tooLarge))
	assert.Equal(t, int64(10), tooLarge.Limit)
	assert.Contains(t, err.Error(), "10 B limit")
}

func TestStore_UploadNotImage(t *testing.T) {
	s := newTestStore(t, 0)

	_, err := s.Upload(context.Background(), "blog-covers/a.png", []byte("hello"))
	assert.ErrorIs(t, err, ErrNotImage)

	objects, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestStore_KeyFromURL(t *testing.T) {
	s := newTestStore(t, 0)

	key, ok := s.KeyFromURL("http://127.0.0.1:3000/blobs/blog-covers/a.png")
	require.True(t, ok)
	assert.Equal(t, "blog-covers/a.png", key)

	_, ok = s.KeyFromURL("https://blog.test/other/a.png")
	assert.False(t, ok)
	_, ok = s.KeyFromURL("https://blog.test/blobs/")
	assert.False(t, ok)
}

type staticCovers []string

func (c staticCovers) CoverImages(context.Context) ([]string, error) {
	return c, nil
}

func TestSweeper(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	for _, key := range []string{"blog-covers/kept.png", "blog-covers/orphan.png", "blog-covers/fresh.png"} {
		_, err := s.Upload(ctx, key, pngBytes(t, 1, 1))
		require.NoError(t, err)
	}
	old := time.Now().Add(-48 * time.Hour)
	for _, name := range []string{"kept.png", "orphan.png"} {
		require.NoError(t, os.Chtimes(filepath.Join(s.Root(), "blog-covers", name), old, old))
	}

	sw := NewSweeper(s, staticCovers{
		"https://blog.test/blobs/blog-covers/kept.png",
		"https://images.example.com/unrelated.jpg",
	}, 24*time.Hour, testLogger())

	removed, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	objects, err := s.List(ctx)
	require.NoError(t, err)
	var keys []string
	for _, o := range objects {
		keys = append(keys, o.Key)
	}
	assert.ElementsMatch(t, []string{"blog-covers/kept.png", "blog-covers/fresh.png"}, keys)
}

func TestSweeper_InvalidSchedule(t *testing.T) {
	sw := NewSweeper(newTestStore(t, 0), staticCovers{}, time.Hour, testLogger())
	assert.Error(t, sw.Start("not a schedule"))
	sw.Stop()
}
