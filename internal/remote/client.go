// Package remote is a client for the blog server API. Client implements the
// post store, blob store and session interfaces the domain package needs, so
// the client core runs unchanged against a remote server.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/blackmichael/blogapp/internal/api"
	"github.com/blackmichael/blogapp/internal/auth"
	"github.com/blackmichael/blogapp/internal/blob"
	"github.com/blackmichael/blogapp/internal/domain"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultReconnectDelay = 5 * time.Second
)

// Client talks to a blog server. Sessions are cookie based, so a Client is
// signed in after Login or SignUp until Logout.
type Client struct {
	base           *url.URL
	baseURL        string
	httpClient     *http.Client
	logger         *slog.Logger
	reconnectDelay time.Duration

	mu       sync.RWMutex
	user     *domain.User
	blobURLs map[string]string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its cookie jar is replaced when
// it has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithReconnectDelay sets how long a live subscription waits before
// reconnecting after the connection drops.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.reconnectDelay = d }
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, logger *slog.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}

	c := &Client{
		base:           u,
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{Timeout: defaultTimeout},
		logger:         logger,
		reconnectDelay: defaultReconnectDelay,
		blobURLs:       make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		c.httpClient.Jar = jar
	}
	return c, nil
}

// SignUp creates an account and signs in as it.
func (c *Client) SignUp(ctx context.Context, email, password string) (domain.User, error) {
	var resp api.User
	if err := c.do(ctx, http.MethodPost, "/api/auth/signup", api.Credentials{Email: email, Password: password}, &resp); err != nil {
		return domain.User{}, fmt.Errorf("sign up: %w", err)
	}
	u := domain.User(resp)
	c.setUser(&u)
	return u, nil
}

// Login signs in with an e-mail address and password.
func (c *Client) Login(ctx context.Context, email, password string) (domain.User, error) {
	var resp api.User
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", api.Credentials{Email: email, Password: password}, &resp); err != nil {
		return domain.User{}, fmt.Errorf("login: %w", err)
	}
	u := domain.User(resp)
	c.setUser(&u)
	return u, nil
}

// Me asks the server who the client is signed in as.
func (c *Client) Me(ctx context.Context) (domain.User, error) {
	var resp api.User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &resp); err != nil {
		if errors.Is(err, domain.ErrSignedOut) {
			c.setUser(nil)
		}
		return domain.User{}, err
	}
	u := domain.User(resp)
	c.setUser(&u)
	return u, nil
}

// CurrentUser returns the user from the last successful sign-in.
func (c *Client) CurrentUser() (domain.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return domain.User{}, false
	}
	return *c.user, true
}

// SignOut ends the server session.
func (c *Client) SignOut(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	c.setUser(nil)
	return nil
}

// Cookies returns the cookies the server set for this client, so a session
// can be resumed by another Client with SetCookies.
func (c *Client) Cookies() []*http.Cookie {
	return c.httpClient.Jar.Cookies(c.base)
}

// SetCookies restores cookies saved from an earlier Client. Call Me to learn
// whether they still carry a session.
func (c *Client) SetCookies(cookies []*http.Cookie) {
	c.httpClient.Jar.SetCookies(c.base, cookies)
}

func (c *Client) setUser(u *domain.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = u
}

// CreatePost creates a post and returns its ID.
func (c *Client) CreatePost(ctx context.Context, post domain.NewPost) (string, error) {
	req := api.CreatePostRequest{
		Title:      post.Title,
		Content:    post.Body,
		CoverImage: post.CoverImage,
		Author:     api.Author(post.Author),
	}
	var resp api.CreatedResponse
	if err := c.do(ctx, http.MethodPost, "/api/posts", req, &resp); err != nil {
		return "", fmt.Errorf("create post: %w", err)
	}
	return resp.ID, nil
}

// GetPost fetches a post by ID.
func (c *Client) GetPost(ctx context.Context, id string) (*domain.Post, error) {
	var resp api.Post
	if err := c.do(ctx, http.MethodGet, "/api/posts/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, fmt.Errorf("get post %s: %w", id, err)
	}
	p := resp.Domain()
	return &p, nil
}

// UpdatePost applies an edit.
func (c *Client) UpdatePost(ctx context.Context, id string, patch domain.PostPatch) error {
	req := api.UpdatePostRequest{
		Title:      patch.Title,
		Content:    patch.Body,
		CoverImage: patch.CoverImage,
	}
	if err := c.do(ctx, http.MethodPatch, "/api/posts/"+url.PathEscape(id), req, nil); err != nil {
		return fmt.Errorf("update post %s: %w", id, err)
	}
	return nil
}

// ListPosts fetches the current snapshot once.
func (c *Client) ListPosts(ctx context.Context) ([]domain.Post, error) {
	var resp []api.Post
	if err := c.do(ctx, http.MethodGet, "/api/posts", nil, &resp); err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return api.ToPosts(resp), nil
}

// Upload stores data under key. The server may normalize the key; the
// returned reference carries the stored key.
func (c *Client) Upload(ctx context.Context, key string, data []byte) (domain.BlobRef, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("key", key); err != nil {
		return domain.BlobRef{}, fmt.Errorf("build upload: %w", err)
	}
	fw, err := mw.CreateFormFile("file", path.Base(key))
	if err != nil {
		return domain.BlobRef{}, fmt.Errorf("build upload: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return domain.BlobRef{}, fmt.Errorf("build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return domain.BlobRef{}, fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/blobs", &body)
	if err != nil {
		return domain.BlobRef{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp api.BlobResponse
	if err := c.send(req, &resp); err != nil {
		return domain.BlobRef{}, fmt.Errorf("upload %s: %w", key, err)
	}

	c.mu.Lock()
	c.blobURLs[resp.Key] = resp.URL
	c.mu.Unlock()
	return domain.BlobRef{Key: resp.Key}, nil
}

// URL returns the download URL of a stored blob: the one the server reported
// for blobs uploaded by this client, or one under the client's base URL.
func (c *Client) URL(_ context.Context, ref domain.BlobRef) (string, error) {
	if ref.Key == "" {
		return "", fmt.Errorf("blob url: %w", blob.ErrInvalidKey)
	}
	c.mu.RLock()
	u, ok := c.blobURLs[ref.Key]
	c.mu.RUnlock()
	if ok && u != "" {
		if strings.HasPrefix(u, "/") {
			return c.baseURL + u, nil
		}
		return u, nil
	}
	return c.baseURL + blob.URLPrefix + ref.Key, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, result any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, result)
}

func (c *Client) send(req *http.Request, result any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// APIError is a non-2xx response from the server. It unwraps to the
// matching domain or auth sentinel error where there is one.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	var payload api.Error
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		e.Code = payload.Error
		e.Message = payload.Message
	} else {
		e.Message = strings.TrimSpace(string(body))
	}
	return e
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Code == "InvalidCredentials":
		return auth.ErrInvalidCredentials
	case e.Code == "EmailTaken":
		return auth.ErrEmailTaken
	case e.Status == http.StatusUnauthorized:
		return domain.ErrSignedOut
	case e.Status == http.StatusForbidden:
		return domain.ErrForbidden
	case e.Status == http.StatusNotFound:
		return domain.ErrNotFound
	case e.Status == http.StatusBadRequest && e.Code == "InvalidRequest" && strings.Contains(e.Message, domain.ErrValidation.Error()):
		return domain.ErrValidation
	default:
		return nil
	}
}
