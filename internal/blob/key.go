package blob

import (
	"errors"
	"path"
	"strings"

	"github.com/mozillazg/go-unidecode"
)

// ErrInvalidKey is returned for keys that are empty or escape the store.
var ErrInvalidKey = errors.New("invalid blob key")

const maxNameLength = 120

// NormalizeKey cleans a namespaced blob key. Directory segments must already
// be plain ASCII; the final filename segment is transliterated to ASCII and
// every character outside [A-Za-z0-9._-] becomes a hyphen.
func NormalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}

	segments := strings.Split(key, "/")
	for _, s := range segments[:len(segments)-1] {
		if s == "" || s == "." || s == ".." || s != safeName(s) {
			return "", ErrInvalidKey
		}
	}

	name := safeName(unidecode.Unidecode(segments[len(segments)-1]))
	name = strings.Trim(name, "-.")
	if name == "" {
		return "", ErrInvalidKey
	}
	if len(name) > maxNameLength {
		ext := path.Ext(name)
		if len(ext) > 10 {
			ext = ""
		}
		name = name[:maxNameLength-len(ext)] + ext
	}
	segments[len(segments)-1] = name

	return strings.Join(segments, "/"), nil
}

func safeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastHyphen := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_':
			b.WriteRune(r)
			lastHyphen = false
		case r == '-' || !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return b.String()
}
