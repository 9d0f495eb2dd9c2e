package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// CoverKeyPrefix namespaces uploaded cover images in the blob store.
const CoverKeyPrefix = "blog-covers/"

// ComposerState is the lifecycle state of a Composer.
type ComposerState int

const (
	StateLoading ComposerState = iota
	StateEditing
	StateSubmitting
	StateDone
)

func (s ComposerState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateEditing:
		return "editing"
	case StateSubmitting:
		return "submitting"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("ComposerState(%d)", int(s))
	}
}

// ComposerDeps are the collaborators a Composer works with.
type ComposerDeps struct {
	Posts     PostStore
	Blobs     BlobStore
	Session   Session
	Notifier  Notifier
	Navigator Navigator
	Logger    *slog.Logger

	// Now defaults to time.Now. It names uploaded files.
	Now func() time.Time
}

// Outcome describes a successful submission.
type Outcome struct {
	PostID     string
	CoverImage string
	Redirect   string
}

// Composer holds the form state of the create and edit flows and performs
// the single store write on submission.
type Composer struct {
	deps ComposerDeps

	mu       sync.Mutex
	state    ComposerState
	postID   string // empty in create mode
	existing string // cover image of the post being edited
	title    string
	body     string
	image    ImageSource
}

// NewComposer starts the create flow.
func NewComposer(deps ComposerDeps) *Composer {
	return &Composer{
		deps:  withDefaults(deps),
		state: StateEditing,
	}
}

// LoadComposer starts the edit flow for post id. The post is fetched and its
// author compared with the current user; on any failure the user is sent
// back to "/" and no composer is returned.
func LoadComposer(ctx context.Context, deps ComposerDeps, id string) (*Composer, error) {
	deps = withDefaults(deps)
	c := &Composer{deps: deps, state: StateLoading, postID: id}

	post, err := deps.Posts.GetPost(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.reject(MsgPostNotFound)
			return nil, fmt.Errorf("load post %s: %w", id, ErrNotFound)
		}
		deps.Logger.Error("error fetching post", "post_id", id, "error", err)
		c.reject(MsgLoadFailed)
		return nil, fmt.Errorf("load post %s: %w", id, err)
	}

	user, ok := deps.Session.CurrentUser()
	if !ok || user.ID != post.Author.ID {
		deps.Logger.Warn("edit rejected for non-owner", "post_id", id, "author_id", post.Author.ID, "user_id", user.ID)
		c.reject(MsgNoPermission)
		return nil, fmt.Errorf("edit post %s: %w", id, ErrForbidden)
	}

	c.title = post.Title
	c.body = post.Body
	c.existing = post.CoverImage
	c.state = StateEditing
	return c, nil
}

func (c *Composer) reject(msg string) {
	c.deps.Notifier.Notify(errorNotice(msg))
	c.deps.Navigator.Navigate("/")
}

// IsEdit reports whether the composer edits an existing post.
func (c *Composer) IsEdit() bool {
	return c.postID != ""
}

// PostID returns the ID of the post being edited, or "" in create mode.
func (c *Composer) PostID() string {
	return c.postID
}

// State returns the current lifecycle state.
func (c *Composer) State() ComposerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Title returns the current title.
func (c *Composer) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title
}

// Body returns the current body.
func (c *Composer) Body() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.body
}

// CurrentCoverImage returns the cover image of the post being edited.
func (c *Composer) CurrentCoverImage() string {
	return c.existing
}

// Image returns the selected image source.
func (c *Composer) Image() ImageSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.image
}

// SetTitle replaces the title.
func (c *Composer) SetTitle(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.title = title
}

// SetBody replaces the body.
func (c *Composer) SetBody(body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.body = body
}

// SelectFile selects a file to upload as the cover image. It fails with
// ErrImageSourceInUse while a URL is selected.
func (c *Composer) SelectFile(name string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.image.Kind() == ImageURL {
		return ErrImageSourceInUse
	}
	c.image = FileImage(name, data)
	return nil
}

// SetImageURL selects a URL as the cover image. It fails with
// ErrImageSourceInUse while a file is selected. An empty url clears a URL
// selection.
func (c *Composer) SetImageURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.image.Kind() == ImageFile {
		return ErrImageSourceInUse
	}
	if url == "" {
		c.image = NoImage()
		return nil
	}
	c.image = URLImage(url)
	return nil
}

// ClearImage drops any selected image source.
func (c *Composer) ClearImage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.image = NoImage()
}

// Submit validates the form, resolves the cover image and writes the post.
// On failure the composer goes back to editing; on success it is done.
func (c *Composer) Submit(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	switch c.state {
	case StateSubmitting:
		c.mu.Unlock()
		return Outcome{}, ErrSubmitting
	case StateDone:
		c.mu.Unlock()
		return Outcome{}, ErrClosed
	}
	title, body, image := c.title, c.body, c.image
	if err := validateRequired(title, body); err != nil {
		c.mu.Unlock()
		c.deps.Notifier.Notify(errorNotice(MsgRequiredFields))
		return Outcome{}, err
	}
	user, ok := c.deps.Session.CurrentUser()
	if !ok {
		c.mu.Unlock()
		c.deps.Notifier.Notify(errorNotice(MsgSignedOut))
		return Outcome{}, ErrSignedOut
	}
	c.state = StateSubmitting
	c.mu.Unlock()

	outcome, err := c.submit(ctx, user, title, body, image)
	c.mu.Lock()
	if err != nil {
		c.state = StateEditing
	} else {
		c.state = StateDone
	}
	c.mu.Unlock()

	if err != nil {
		return Outcome{}, err
	}
	c.deps.Navigator.Navigate(outcome.Redirect)
	return outcome, nil
}

func (c *Composer) submit(ctx context.Context, user User, title, body string, image ImageSource) (Outcome, error) {
	cover, err := c.resolveCoverImage(ctx, image)
	if err != nil {
		c.deps.Logger.Error("storage upload failed", "error", err)
		c.deps.Notifier.Notify(errorNotice(MsgUploadFailed))
		return Outcome{}, fmt.Errorf("%w: %w", ErrUpload, err)
	}

	if c.IsEdit() {
		patch := PostPatch{Title: title, Body: body, CoverImage: cover}
		if err := c.deps.Posts.UpdatePost(ctx, c.postID, patch); err != nil {
			c.deps.Logger.Error("error updating document", "post_id", c.postID, "error", err)
			c.deps.Notifier.Notify(errorNotice(MsgUpdateFailed))
			return Outcome{}, fmt.Errorf("%w: %w", ErrWrite, err)
		}
		c.deps.Notifier.Notify(successNotice(MsgUpdated))
		return Outcome{PostID: c.postID, CoverImage: cover, Redirect: PostPath(c.postID)}, nil
	}

	post := NewPost{
		Title:      title,
		Body:       body,
		CoverImage: cover,
		Author:     AuthorFromUser(user),
	}
	id, err := c.deps.Posts.CreatePost(ctx, post)
	if err != nil {
		c.deps.Logger.Error("error adding document", "error", err)
		c.deps.Notifier.Notify(errorNotice("Failed: " + err.Error()))
		return Outcome{}, fmt.Errorf("%w: %w", ErrWrite, err)
	}
	c.deps.Notifier.Notify(successNotice(MsgPublished))
	return Outcome{PostID: id, CoverImage: cover, Redirect: "/"}, nil
}

// resolveCoverImage applies the image policy: an uploaded file wins, then a
// URL, then the existing cover (edit) or none (create).
func (c *Composer) resolveCoverImage(ctx context.Context, image ImageSource) (string, error) {
	switch image.Kind() {
	case ImageFile:
		name, data, _ := image.File()
		key := CoverKey(c.deps.Now(), name)
		ref, err := c.deps.Blobs.Upload(ctx, key, data)
		if err != nil {
			return "", fmt.Errorf("upload %s: %w", key, err)
		}
		url, err := c.deps.Blobs.URL(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("resolve url for %s: %w", ref.Key, err)
		}
		return url, nil
	case ImageURL:
		url, _ := image.URL()
		return url, nil
	default:
		return c.existing, nil
	}
}

// CoverKey builds the blob key for an uploaded cover image.
func CoverKey(at time.Time, fileName string) string {
	return fmt.Sprintf("%s%d_%s", CoverKeyPrefix, at.UnixMilli(), fileName)
}

func withDefaults(deps ComposerDeps) ComposerDeps {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = discardNotifier{}
	}
	if deps.Navigator == nil {
		deps.Navigator = discardNavigator{}
	}
	return deps
}

type discardNotifier struct{}

func (discardNotifier) Notify(Notice) {}

type discardNavigator struct{}

func (discardNavigator) Navigate(string) {}
