package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"

	"github.com/blackmichael/blogapp/internal/domain"
)

const (
	sessionUserID = "userID"
	sessionEmail  = "email"
)

// NewSessionManager creates a cookie session manager backed by store. A nil
// store keeps sessions in memory.
func NewSessionManager(store scs.Store, isDev bool) *scs.SessionManager {
	sm := scs.New()
	if store != nil {
		sm.Store = store
	}
	sm.Lifetime = 7 * 24 * time.Hour
	sm.IdleTimeout = 24 * time.Hour
	sm.Cookie.Name = "blog_session"
	sm.Cookie.HttpOnly = true
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Secure = !isDev
	return sm
}

type userKey struct{}

func (s *Server) sessionUser(ctx context.Context) (domain.User, bool) {
	id := s.sessions.GetString(ctx, sessionUserID)
	if id == "" {
		return domain.User{}, false
	}
	return domain.User{ID: id, Email: s.sessions.GetString(ctx, sessionEmail)}, true
}

func (s *Server) signIn(ctx context.Context, u domain.User) error {
	if err := s.sessions.RenewToken(ctx); err != nil {
		return err
	}
	s.sessions.Put(ctx, sessionUserID, u.ID)
	s.sessions.Put(ctx, sessionEmail, u.Email)
	return nil
}

// requireUser rejects requests without a signed-in user and stores the user
// in the request context.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := s.sessionUser(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, u)))
	})
}

func userFromContext(ctx context.Context) domain.User {
	u, _ := ctx.Value(userKey{}).(domain.User)
	return u
}
