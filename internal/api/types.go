// Package api defines the JSON documents exchanged between the blog server
// and its clients.
package api

import (
	"time"

	"github.com/blackmichael/blogapp/internal/domain"
)

// Post is the wire form of domain.Post.
type Post struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	CoverImage    string     `json:"coverImage,omitempty"`
	Author        Author     `json:"author"`
	CreatedAt     *time.Time `json:"createdAt"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
	CommentsCount int        `json:"commentsCount"`
}

// Author is the wire form of domain.Author.
type Author struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// FromPost converts a domain post.
func FromPost(p domain.Post) Post {
	return Post{
		ID:            p.ID,
		Title:         p.Title,
		Content:       p.Body,
		CoverImage:    p.CoverImage,
		Author:        Author(p.Author),
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		CommentsCount: p.CommentsCount,
	}
}

// FromPosts converts a snapshot. The result is never nil.
func FromPosts(posts []domain.Post) []Post {
	out := make([]Post, 0, len(posts))
	for _, p := range posts {
		out = append(out, FromPost(p))
	}
	return out
}

// Domain converts back to a domain post.
func (p Post) Domain() domain.Post {
	return domain.Post{
		ID:            p.ID,
		Title:         p.Title,
		Body:          p.Content,
		CoverImage:    p.CoverImage,
		Author:        domain.Author(p.Author),
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		CommentsCount: p.CommentsCount,
	}
}

// ToPosts converts a wire snapshot. The result is never nil.
func ToPosts(posts []Post) []domain.Post {
	out := make([]domain.Post, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.Domain())
	}
	return out
}

// CreatePostRequest is the body of POST /api/posts.
type CreatePostRequest struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	CoverImage string `json:"coverImage,omitempty"`
	Author     Author `json:"author"`
}

// UpdatePostRequest is the body of PATCH /api/posts/{id}.
type UpdatePostRequest struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	CoverImage string `json:"coverImage,omitempty"`
}

// CreatedResponse is returned when a post is created.
type CreatedResponse struct {
	ID string `json:"id"`
}

// Credentials is the body of the sign-up and login requests.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// User is the signed-in identity.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// BlobResponse is returned for a stored upload.
type BlobResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Card is a post rendered for the feed.
type Card struct {
	PostID     string `json:"postId"`
	Title      string `json:"title"`
	AuthorName string `json:"authorName"`
	Date       string `json:"date"`
	Excerpt    string `json:"excerpt"`
	CoverImage string `json:"coverImage"`
	Link       string `json:"link"`
}

// FromCard converts a rendered card.
func FromCard(c *domain.Card) Card {
	return Card{
		PostID:     c.PostID,
		Title:      c.Title,
		AuthorName: c.AuthorName,
		Date:       c.Date,
		Excerpt:    c.Excerpt,
		CoverImage: c.CoverImage(),
		Link:       c.Link,
	}
}

// Error is the body of every error response.
type Error struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Frame types sent on the live feed.
const (
	FrameSnapshot = "snapshot"
	FrameError    = "error"
)

// Frame is one message on the live feed WebSocket. An error frame is the
// last frame of the connection.
type Frame struct {
	Type    string `json:"type"`
	Posts   []Post `json:"posts,omitempty"`
	Message string `json:"message,omitempty"`
}
