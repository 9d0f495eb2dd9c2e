package domain

import (
	"html"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

const (
	// ExcerptLength is the number of characters kept from the plain text of
	// a post body.
	ExcerptLength = 150

	// ExcerptSuffix is appended to every excerpt.
	ExcerptSuffix = "..."

	// DateLayout renders dates as "Month Day, Year".
	DateLayout = "Jan 2, 2006"

	// UnknownDate is shown when a post has no creation time yet.
	UnknownDate = "Recently"

	// FallbackCoverImage replaces a cover image that failed to load.
	FallbackCoverImage = "https://images.unsplash.com/photo-1499750310159-5b5f8f9460a5?ixlib=rb-1.2.1&auto=format&fit=crop&w=800&q=80"
)

// textPolicy strips every tag and keeps only text content.
var textPolicy = bluemonday.StrictPolicy()

// Card is the summary view of a post shown in the feed.
type Card struct {
	PostID     string
	Title      string
	AuthorName string
	Date       string
	Excerpt    string
	Link       string

	mu          sync.Mutex
	coverImage  string
	imageFailed bool
}

// RenderCard projects a post into a card.
func RenderCard(p Post) *Card {
	return &Card{
		PostID:     p.ID,
		Title:      p.Title,
		AuthorName: p.Author.Name,
		Date:       FormatDate(p.CreatedAt),
		Excerpt:    Excerpt(p.Body),
		Link:       PostPath(p.ID),
		coverImage: p.CoverImage,
	}
}

// CoverImage returns the image to display, or "" when the post has none.
func (c *Card) CoverImage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coverImage
}

// ImageFailed records that the cover image could not be loaded. The first
// call swaps in FallbackCoverImage and returns true; later calls do nothing.
func (c *Card) ImageFailed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.coverImage == "" || c.imageFailed {
		return false
	}
	c.imageFailed = true
	c.coverImage = FallbackCoverImage
	return true
}

// FormatDate renders t for display, or UnknownDate when t is nil.
func FormatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return UnknownDate
	}
	return t.Format(DateLayout)
}

// PlainText strips all markup from a rich-text body.
func PlainText(body string) string {
	return html.UnescapeString(textPolicy.Sanitize(body))
}

// Excerpt returns the first ExcerptLength characters of the plain text of
// body followed by ExcerptSuffix. The cut ignores word boundaries.
func Excerpt(body string) string {
	text := []rune(PlainText(body))
	if len(text) > ExcerptLength {
		text = text[:ExcerptLength]
	}
	return string(text) + ExcerptSuffix
}

// PostPath is the view path of a single post.
func PostPath(id string) string {
	return "/post/" + id
}
