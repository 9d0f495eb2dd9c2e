package domain

import (
	"strings"
	"time"
)

// Post is a single blog entry as held by the post store.
type Post struct {
	// ID is assigned by the store when the post is created.
	ID string

	// Title is the required headline.
	Title string

	// Body is the rich-text (HTML) content of the post.
	Body string

	// CoverImage is either a blob-store URL or a user-supplied URL. An empty
	// string means the post has no cover image.
	CoverImage string

	// Author is a snapshot of the creating user, fixed at creation time.
	Author Author

	// CreatedAt is assigned by the store. It may be nil for a write the store
	// has not acknowledged yet.
	CreatedAt *time.Time

	// UpdatedAt is set by the store on every update.
	UpdatedAt *time.Time

	// CommentsCount starts at zero and is not changed by this application.
	CommentsCount int
}

// Author is the author snapshot embedded in a Post.
type Author struct {
	ID    string
	Name  string
	Email string
}

// User is the identity of a signed-in user as reported by a Session.
type User struct {
	ID    string
	Email string
}

// AuthorFromUser captures an author snapshot for the given user. The display
// name is the local part of the e-mail address.
func AuthorFromUser(u User) Author {
	name, _, _ := strings.Cut(u.Email, "@")
	return Author{
		ID:    u.ID,
		Name:  name,
		Email: u.Email,
	}
}

// NewPost carries the attributes of a post being created.
type NewPost struct {
	Title      string
	Body       string
	CoverImage string
	Author     Author
}

// PostPatch carries the attributes an edit may change. Author, CreatedAt and
// CommentsCount are never part of an update.
type PostPatch struct {
	Title      string
	Body       string
	CoverImage string
}

// Validate reports ErrValidation when a required field is blank.
func (p NewPost) Validate() error {
	return validateRequired(p.Title, p.Body)
}

// Validate reports ErrValidation when a required field is blank.
func (p PostPatch) Validate() error {
	return validateRequired(p.Title, p.Body)
}

func validateRequired(title, body string) error {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(body) == "" {
		return ErrValidation
	}
	return nil
}
