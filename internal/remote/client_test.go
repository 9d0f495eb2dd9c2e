package remote

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/blogapp/internal/api"
	"github.com/blackmichael/blogapp/internal/auth"
	"github.com/blackmichael/blogapp/internal/blob"
	"github.com/blackmichael/blogapp/internal/changefeed"
	"github.com/blackmichael/blogapp/internal/config"
	"github.com/blackmichael/blogapp/internal/domain"
	"github.com/blackmichael/blogapp/internal/httpserver"
	"github.com/blackmichael/blogapp/internal/sqlite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer runs the real HTTP server on a temporary SQLite database.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := testLogger()
	dir := t.TempDir()

	db, err := sqlite.Open(filepath.Join(dir, "blog.db"))
	require.NoError(t, err)
	hub := changefeed.NewHub(logger)
	repo := sqlite.NewRepository(db, hub)

	blobs, err := blob.NewStore(filepath.Join(dir, "uploads"), "", 1<<20, logger)
	require.NoError(t, err)

	cfg := &config.Config{
		Host:          "127.0.0.1",
		Port:          3000,
		SessionSecret: "test-secret-key-32-bytes-long!!!",
		Env:           "development",
		LoginRPS:      100,
		LoginBurst:    100,
	}
	server := httpserver.NewServer(cfg, httpserver.Deps{
		Posts:    repo,
		Accounts: repo,
		Blobs:    blobs,
		Sessions: httpserver.NewSessionManager(nil, true),
	}, logger)

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		_ = repo.Close()
	})
	return srv
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(baseURL, testLogger(), WithReconnectDelay(10*time.Millisecond))
	require.NoError(t, err)
	return c
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

type notices struct {
	mu    sync.Mutex
	items []domain.Notice
	paths []string
}

func (n *notices) Notify(x domain.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, x)
}

func (n *notices) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
}

func TestNewClient_InvalidURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:3000", "ftp://blog.test", "http://"} {
		_, err := NewClient(raw, testLogger())
		assert.Error(t, err, raw)
	}
}

func TestClient_Auth(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	_, ok := c.CurrentUser()
	assert.False(t, ok)
	_, err := c.Me(ctx)
	assert.ErrorIs(t, err, domain.ErrSignedOut)

	u, err := c.SignUp(ctx, "jane@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", u.Email)
	assert.NotEmpty(t, u.ID)

	current, ok := c.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, u, current)

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, u, me)

	require.NoError(t, c.SignOut(ctx))
	_, ok = c.CurrentUser()
	assert.False(t, ok)
	_, err = c.Me(ctx)
	assert.ErrorIs(t, err, domain.ErrSignedOut)

	_, err = c.Login(ctx, "jane@example.com", "wrong-password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	other := newTestClient(t, srv.URL)
	_, err = other.SignUp(ctx, "jane@example.com", "hunter22")
	assert.ErrorIs(t, err, auth.ErrEmailTaken)

	again, err := c.Login(ctx, "jane@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)
}

func TestClient_Posts(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	jane := newTestClient(t, srv.URL)
	u, err := jane.SignUp(ctx, "jane@example.com", "hunter22")
	require.NoError(t, err)

	id, err := jane.CreatePost(ctx, domain.NewPost{
		Title:  "Hello",
		Body:   "<p>World</p>",
		Author: domain.AuthorFromUser(u),
	})
	require.NoError(t, err)

	post, err := jane.GetPost(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Hello", post.Title)
	assert.Equal(t, "jane", post.Author.Name)
	assert.Equal(t, u.ID, post.Author.ID)
	assert.NotNil(t, post.CreatedAt)
	assert.Nil(t, post.UpdatedAt)

	_, err = jane.CreatePost(ctx, domain.NewPost{Title: " ", Body: "x", Author: domain.AuthorFromUser(u)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = jane.GetPost(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	bob := newTestClient(t, srv.URL)
	_, err = bob.SignUp(ctx, "bob@example.com", "hunter22")
	require.NoError(t, err)
	err = bob.UpdatePost(ctx, id, domain.PostPatch{Title: "Hijacked", Body: "x"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	require.NoError(t, jane.UpdatePost(ctx, id, domain.PostPatch{Title: "Hello again", Body: "<p>World</p>"}))
	posts, err := bob.ListPosts(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "Hello again", posts[0].Title)
	assert.NotNil(t, posts[0].UpdatedAt)

	anon := newTestClient(t, srv.URL)
	_, err = anon.CreatePost(ctx, domain.NewPost{Title: "a", Body: "b", Author: domain.AuthorFromUser(u)})
	assert.ErrorIs(t, err, domain.ErrSignedOut)
}

func TestClient_UploadAndURL(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	_, err := c.Upload(ctx, "blog-covers/1_a.png", pngBytes(t))
	assert.ErrorIs(t, err, domain.ErrSignedOut)

	_, err = c.SignUp(ctx, "jane@example.com", "hunter22")
	require.NoError(t, err)

	ref, err := c.Upload(ctx, "blog-covers/1718000000123_my beach.png", pngBytes(t))
	require.NoError(t, err)
	assert.Equal(t, "blog-covers/1718000000123_my-beach.png", ref.Key)

	u, err := c.URL(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/blobs/blog-covers/1718000000123_my-beach.png", u)

	resp, err := http.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = c.Upload(ctx, "blog-covers/1_notes.png", []byte("not an image"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	_, err = c.URL(ctx, domain.BlobRef{})
	assert.ErrorIs(t, err, blob.ErrInvalidKey)
}

func TestClient_SubscribePosts(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	u, err := c.SignUp(ctx, "jane@example.com", "hunter22")
	require.NoError(t, err)

	snapshots := make(chan []domain.Post, 16)
	unsubscribe, err := c.SubscribePosts(ctx,
		func(posts []domain.Post) { snapshots <- posts },
		func(err error) { t.Errorf("unexpected error: %v", err) },
	)
	require.NoError(t, err)
	defer unsubscribe()

	select {
	case posts := <-snapshots:
		assert.Empty(t, posts)
	case <-time.After(5 * time.Second):
		t.Fatal("no initial snapshot")
	}

	_, err = c.CreatePost(ctx, domain.NewPost{Title: "Live", Body: "body", Author: domain.AuthorFromUser(u)})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case posts := <-snapshots:
			return len(posts) == 1 && posts[0].Title == "Live"
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	unsubscribe()
	unsubscribe()
}

// liveServer serves the live feed endpoint with a scripted handler.
func liveServer(t *testing.T, handle func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/posts/live" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_SubscribePosts_ErrorFrame(t *testing.T) {
	srv := liveServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(api.Frame{Type: api.FrameSnapshot, Posts: []api.Post{{ID: "p1", Title: "One"}}})
		_ = conn.WriteJSON(api.Frame{Type: api.FrameError, Message: "store unavailable"})
	})
	c := newTestClient(t, srv.URL)

	var snapshots, errs atomic.Int32
	errCh := make(chan error, 2)
	unsubscribe, err := c.SubscribePosts(context.Background(),
		func([]domain.Post) { snapshots.Add(1) },
		func(err error) {
			errs.Add(1)
			errCh <- err
		},
	)
	require.NoError(t, err)
	defer unsubscribe()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrLiveFeed)
		assert.Contains(t, err.Error(), "store unavailable")
	case <-time.After(5 * time.Second):
		t.Fatal("no error reported")
	}

	// No reconnect after an error frame.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), snapshots.Load())
	assert.Equal(t, int32(1), errs.Load())
}

func TestClient_SubscribePosts_Reconnects(t *testing.T) {
	var connections atomic.Int32
	srv := liveServer(t, func(conn *websocket.Conn) {
		n := connections.Add(1)
		_ = conn.WriteJSON(api.Frame{Type: api.FrameSnapshot, Posts: []api.Post{{ID: "p", Title: strings.Repeat("x", int(n))}}})
		if n == 1 {
			return // drop the first connection
		}
		// Hold the second one open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	c := newTestClient(t, srv.URL)

	titles := make(chan string, 8)
	unsubscribe, err := c.SubscribePosts(context.Background(),
		func(posts []domain.Post) { titles <- posts[0].Title },
		func(err error) { t.Errorf("unexpected error: %v", err) },
	)
	require.NoError(t, err)

	for _, want := range []string{"x", "xx"} {
		select {
		case got := <-titles:
			assert.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("no snapshot %q", want)
		}
	}

	unsubscribe()
	assert.Equal(t, int32(2), connections.Load())
}

func TestClient_SubscribePosts_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	c := newTestClient(t, srv.URL)

	_, err := c.SubscribePosts(context.Background(), func([]domain.Post) {}, func(error) {})
	assert.Error(t, err)
}

func TestComposerAndFeedOverRemote(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	c := newTestClient(t, srv.URL)
	_, err := c.SignUp(ctx, "jane@example.com", "hunter22")
	require.NoError(t, err)

	feed := domain.NewFeedSynchronizer(c, testLogger(), nil)
	release, err := feed.Activate(ctx)
	require.NoError(t, err)
	defer release()

	require.Eventually(t, func() bool { return !feed.Loading() }, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, feed.View().Posts)

	ui := &notices{}
	deps := domain.ComposerDeps{
		Posts:     c,
		Blobs:     c,
		Session:   c,
		Notifier:  ui,
		Navigator: ui,
		Logger:    testLogger(),
		Now:       func() time.Time { return time.UnixMilli(1718000000123) },
	}

	composer := domain.NewComposer(deps)
	composer.SetTitle("Beach day")
	composer.SetBody("<p>Sun and sand</p>")
	require.NoError(t, composer.SelectFile("beach.png", pngBytes(t)))
	outcome, err := composer.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/", outcome.Redirect)
	assert.Equal(t, srv.URL+"/blobs/blog-covers/1718000000123_beach.png", outcome.CoverImage)

	require.Eventually(t, func() bool {
		posts := feed.View().Posts
		return len(posts) == 1 && posts[0].ID == outcome.PostID
	}, 5*time.Second, 10*time.Millisecond)

	card := domain.RenderCard(feed.View().Posts[0])
	assert.Equal(t, "Beach day", card.Title)
	assert.Equal(t, "jane", card.AuthorName)
	assert.Equal(t, "Sun and sand...", card.Excerpt)
	assert.Equal(t, outcome.CoverImage, card.CoverImage())

	editor, err := domain.LoadComposer(ctx, deps, outcome.PostID)
	require.NoError(t, err)
	assert.Equal(t, "Beach day", editor.Title())
	editor.SetTitle("Beach day, revisited")
	edited, err := editor.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, outcome.CoverImage, edited.CoverImage)
	assert.Equal(t, domain.PostPath(outcome.PostID), edited.Redirect)

	require.Eventually(t, func() bool {
		posts := feed.View().Posts
		return len(posts) == 1 && posts[0].Title == "Beach day, revisited"
	}, 5*time.Second, 10*time.Millisecond)

	bob := newTestClient(t, srv.URL)
	_, err = bob.SignUp(ctx, "bob@example.com", "hunter22")
	require.NoError(t, err)
	bobDeps := deps
	bobDeps.Posts, bobDeps.Blobs, bobDeps.Session = bob, bob, bob
	_, err = domain.LoadComposer(ctx, bobDeps, outcome.PostID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	ui.mu.Lock()
	defer ui.mu.Unlock()
	require.NotEmpty(t, ui.items)
	assert.Equal(t, domain.MsgNoPermission, ui.items[len(ui.items)-1].Message)
	assert.Equal(t, "/", ui.paths[len(ui.paths)-1])
}
