package domain

import "context"

// Unsubscribe releases a subscription. Once it returns, no further callbacks
// are delivered. It is safe to call more than once but must not be called
// from inside a subscription callback.
type Unsubscribe func()

// PostSubscriber opens live views of the post collection.
type PostSubscriber interface {
	// SubscribePosts delivers a full snapshot of all posts, ordered by
	// CreatedAt descending, immediately and again after every change to the
	// collection. onError is called at most once, after which the
	// subscription delivers nothing more.
	SubscribePosts(ctx context.Context, onSnapshot func([]Post), onError func(error)) (Unsubscribe, error)
}

// PostStore defines the document operations the application needs.
type PostStore interface {
	PostSubscriber

	// CreatePost inserts a new post and returns the identifier the store
	// assigned. The store also assigns CreatedAt and sets CommentsCount to 0.
	CreatePost(ctx context.Context, post NewPost) (string, error)

	// GetPost fetches a post by ID. Returns ErrNotFound if it does not exist.
	GetPost(ctx context.Context, id string) (*Post, error)

	// UpdatePost applies a partial update and stamps UpdatedAt. Returns
	// ErrNotFound if the post does not exist.
	UpdatePost(ctx context.Context, id string, patch PostPatch) error
}

// BlobRef identifies an uploaded blob.
type BlobRef struct {
	// Key is the namespaced path the blob was stored under.
	Key string
}

// BlobStore stores uploaded files.
type BlobStore interface {
	// Upload stores data under key and returns a reference to it. The store
	// may normalize the key; the returned reference is authoritative.
	Upload(ctx context.Context, key string, data []byte) (BlobRef, error)

	// URL returns a retrievable URL for a stored blob.
	URL(ctx context.Context, ref BlobRef) (string, error)
}

// Session supplies the identity of the current user.
type Session interface {
	// CurrentUser returns the signed-in user, or false when signed out.
	CurrentUser() (User, bool)

	// SignOut ends the current session.
	SignOut(ctx context.Context) error
}

// Notifier shows short-lived messages to the user.
type Notifier interface {
	Notify(n Notice)
}

// Navigator moves the user to another view.
type Navigator interface {
	Navigate(path string)
}
