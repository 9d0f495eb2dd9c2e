package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/blogapp/internal/auth"
	"github.com/blackmichael/blogapp/internal/changefeed"
	"github.com/blackmichael/blogapp/internal/domain"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "blog.db"))
	require.NoError(t, err)

	hub := changefeed.NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	clock := &testClock{now: time.UnixMilli(1718000000000)}
	repo := NewRepository(db, hub, WithClock(clock.Now))
	t.Cleanup(func() {
		hub.Close()
		_ = repo.Close()
	})
	return repo
}

var jane = domain.Author{ID: "u1", Name: "jane", Email: "jane@example.com"}

func TestCreateAndGetPost(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.CreatePost(ctx, domain.NewPost{
		Title:  "Hello",
		Body:   "<p>World</p>",
		Author: jane,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := repo.GetPost(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, id, got.ID)
	assert.Equal(t, "Hello", got.Title)
	assert.Equal(t, "<p>World</p>", got.Body)
	assert.Empty(t, got.CoverImage)
	assert.Equal(t, jane, got.Author)
	assert.Equal(t, 0, got.CommentsCount)
	require.NotNil(t, got.CreatedAt)
	assert.Nil(t, got.UpdatedAt)
}

func TestGetPost_NotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetPost(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdatePost(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.CreatePost(ctx, domain.NewPost{Title: "Draft", Body: "body", Author: jane})
	require.NoError(t, err)

	err = repo.UpdatePost(ctx, id, domain.PostPatch{
		Title:      "Final",
		Body:       "new body",
		CoverImage: "https://example.com/a.jpg",
	})
	require.NoError(t, err)

	got, err := repo.GetPost(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Final", got.Title)
	assert.Equal(t, "new body", got.Body)
	assert.Equal(t, "https://example.com/a.jpg", got.CoverImage)
	assert.Equal(t, jane, got.Author)
	require.NotNil(t, got.UpdatedAt)
	assert.True(t, got.UpdatedAt.After(*got.CreatedAt))

	err = repo.UpdatePost(ctx, "missing", domain.PostPatch{Title: "x", Body: "y"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListPosts_NewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	posts, err := repo.ListPosts(ctx)
	require.NoError(t, err)
	assert.Empty(t, posts)

	first, err := repo.CreatePost(ctx, domain.NewPost{Title: "one", Body: "b", Author: jane})
	require.NoError(t, err)
	second, err := repo.CreatePost(ctx, domain.NewPost{Title: "two", Body: "b", Author: jane})
	require.NoError(t, err)

	posts, err = repo.ListPosts(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, second, posts[0].ID)
	assert.Equal(t, first, posts[1].ID)
}

func TestCoverImages(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.CreatePost(ctx, domain.NewPost{Title: "a", Body: "b", Author: jane, CoverImage: "/blobs/blog-covers/1_a.jpg"})
	require.NoError(t, err)
	_, err = repo.CreatePost(ctx, domain.NewPost{Title: "c", Body: "d", Author: jane})
	require.NoError(t, err)

	covers, err := repo.CoverImages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/blobs/blog-covers/1_a.jpg"}, covers)
}

func TestSubscribePosts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	var (
		mu        sync.Mutex
		snapshots [][]domain.Post
	)
	release, err := repo.SubscribePosts(ctx, func(posts []domain.Post) {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, posts)
	}, func(err error) {
		t.Errorf("unexpected error: %v", err)
	})
	require.NoError(t, err)
	defer release()

	latest := func() []domain.Post {
		mu.Lock()
		defer mu.Unlock()
		if len(snapshots) == 0 {
			return nil
		}
		return snapshots[len(snapshots)-1]
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snapshots) >= 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, latest())

	id, err := repo.CreatePost(ctx, domain.NewPost{Title: "live", Body: "b", Author: jane})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		posts := latest()
		return len(posts) == 1 && posts[0].ID == id
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, repo.UpdatePost(ctx, id, domain.PostPatch{Title: "edited", Body: "b"}))

	require.Eventually(t, func() bool {
		posts := latest()
		return len(posts) == 1 && posts[0].Title == "edited"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAccounts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	acct, err := repo.CreateAccount(ctx, "jane@example.com", "hash")
	require.NoError(t, err)
	assert.NotEmpty(t, acct.ID)

	_, err = repo.CreateAccount(ctx, "jane@example.com", "other")
	assert.ErrorIs(t, err, auth.ErrEmailTaken)

	got, err := repo.GetAccountByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.True(t, acct.CreatedAt.Equal(got.CreatedAt))

	_, err = repo.GetAccountByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, auth.ErrAccountNotFound)
}

func TestSignUpAgainstStore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := auth.SignUp(ctx, repo, "Bob@Example.com", "hunter22")
	require.NoError(t, err)

	acct, err := auth.SignIn(ctx, repo, "bob@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", acct.Email)
}
