package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/blackmichael/blogapp/internal/api"
	"github.com/blackmichael/blogapp/internal/auth"
	"github.com/blackmichael/blogapp/internal/domain"
)

const maxJSONBody = 1 << 20

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req api.Credentials
	if !decodeJSON(w, r, &req) {
		return
	}

	acct, err := auth.SignUp(r.Context(), s.accounts, req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, http.StatusConflict, "EmailTaken", err.Error())
		return
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	case err != nil:
		s.logger.Error("sign-up failed", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to create account")
		return
	}

	u := domain.User{ID: acct.ID, Email: acct.Email}
	if err := s.signIn(r.Context(), u); err != nil {
		s.logger.Error("failed to start session", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to start session")
		return
	}
	s.logger.Info("account created", "user_id", u.ID)
	writeJSON(w, http.StatusCreated, api.User(u))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.Credentials
	if !decodeJSON(w, r, &req) {
		return
	}

	acct, err := auth.SignIn(r.Context(), s.accounts, req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "InvalidCredentials", err.Error())
		return
	}
	if err != nil {
		s.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to sign in")
		return
	}

	u := domain.User{ID: acct.ID, Email: acct.Email}
	if err := s.signIn(r.Context(), u); err != nil {
		s.logger.Error("failed to start session", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to start session")
		return
	}
	writeJSON(w, http.StatusOK, api.User(u))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Destroy(r.Context()); err != nil {
		s.logger.Error("failed to end session", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to sign out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := s.sessionUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "not signed in")
		return
	}
	writeJSON(w, http.StatusOK, api.User(u))
}

// decodeJSON decodes a size-limited request body, writing a 400 response and
// returning false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed JSON body")
		return false
	}
	return true
}
