package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"filippo.io/csrf/gorilla"
	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/blackmichael/blogapp/internal/api"
	"github.com/blackmichael/blogapp/internal/auth"
	"github.com/blackmichael/blogapp/internal/blob"
	"github.com/blackmichael/blogapp/internal/config"
	"github.com/blackmichael/blogapp/internal/domain"
)

// PostStore is the post store the API serves.
type PostStore interface {
	domain.PostStore
	ListPosts(ctx context.Context) ([]domain.Post, error)
	Ping(ctx context.Context) error
}

// BlobStore is the blob store uploads go to.
type BlobStore interface {
	domain.BlobStore
	Root() string
	MaxBytes() int64
}

// Deps are the stores the server is built on.
type Deps struct {
	Posts    PostStore
	Accounts auth.AccountStore
	Blobs    BlobStore
	Sessions *scs.SessionManager
}

// Server is the HTTP server that serves the blog API, the live feed and
// uploaded blobs.
type Server struct {
	cfg        *config.Config
	posts      PostStore
	accounts   auth.AccountStore
	blobs      BlobStore
	sessions   *scs.SessionManager
	logger     *slog.Logger
	limiter    *limiterCache[string]
	upgrader   websocket.Upgrader
	handler    http.Handler
	httpServer *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		posts:    deps.Posts,
		accounts: deps.Accounts,
		blobs:    deps.Blobs,
		sessions: deps.Sessions,
		logger:   logger,
		limiter:  newLimiterCache[string](cfg.LoginRPS, cfg.LoginBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOrigin(cfg.BaseURL()),
		},
	}

	r := chi.NewRouter()
	if cfg.BehindProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)

	// The live feed hijacks the connection, so it stays outside the session
	// middleware, which buffers the response.
	r.Get("/api/posts/live", s.handleLive)

	r.Group(func(r chi.Router) {
		r.Use(s.sessions.LoadAndSave)
		r.Use(s.csrfProtect())

		r.Route("/api/auth", func(r chi.Router) {
			r.Post("/signup", s.handleSignUp)
			r.With(s.rateLimit).Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)
			r.Get("/me", s.handleMe)
		})

		r.Get("/api/posts", s.handleListPosts)
		r.Get("/api/posts/{id}", s.handleGetPost)
		r.Get("/api/cards", s.handleCards)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)
			r.Post("/api/posts", s.handleCreatePost)
			r.Patch("/api/posts/{id}", s.handleUpdatePost)
			r.Post("/api/blobs", s.handleUploadBlob)
		})
	})

	r.Handle(blob.URLPrefix+"*", http.StripPrefix(blob.URLPrefix, http.FileServer(filesOnly{http.Dir(s.blobs.Root())})))

	s.handler = withLogging(logger, r)
	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.posts.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// csrfProtect rejects cross-origin state-changing requests from browsers.
// Requests without Fetch metadata, such as those from the CLI, pass.
func (s *Server) csrfProtect() func(http.Handler) http.Handler {
	opts := []csrf.Option{
		csrf.ErrorHandler(http.HandlerFunc(s.handleCSRFError)),
	}
	if u, err := url.Parse(s.cfg.BaseURL()); err == nil && u.Host != "" {
		opts = append(opts, csrf.TrustedOrigins([]string{u.Host}))
	}
	return csrf.Protect([]byte(s.cfg.SessionSecret), opts...)
}

func (s *Server) handleCSRFError(w http.ResponseWriter, r *http.Request) {
	reason := "unknown"
	if err := csrf.FailureReason(r); err != nil {
		reason = err.Error()
	}
	s.logger.Warn("CSRF validation failed",
		"reason", reason,
		"method", r.Method,
		"path", r.URL.Path,
		"origin", r.Header.Get("Origin"),
	)
	writeError(w, http.StatusForbidden, "Forbidden", "cross-origin request rejected")
}

func sameOrigin(baseURL string) func(*http.Request) bool {
	base, _ := url.Parse(baseURL)
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if u.Host == r.Host {
			return true
		}
		return base != nil && u.Host == base.Host
	}
}

// filesOnly hides directories so uploads cannot be listed.
type filesOnly struct {
	fs http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, fs.ErrNotExist
	}
	return file, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, api.Error{
		Error:   errType,
		Message: message,
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack lets the live feed take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
