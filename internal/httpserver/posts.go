package httpserver

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"

	"github.com/blackmichael/blogapp/internal/api"
	"github.com/blackmichael/blogapp/internal/blob"
	"github.com/blackmichael/blogapp/internal/domain"
)

// bodyPolicy keeps the markup a rich-text editor produces and drops scripts,
// event handlers and other active content.
var bodyPolicy = bluemonday.UGCPolicy()

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := s.posts.ListPosts(r.Context())
	if err != nil {
		s.logger.Error("failed to list posts", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to list posts")
		return
	}
	writeJSON(w, http.StatusOK, api.FromPosts(posts))
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	post, err := s.posts.GetPost(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NotFound", "post not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get post", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to get post")
		return
	}
	writeJSON(w, http.StatusOK, api.FromPost(*post))
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	var req api.CreatePostRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Author.ID != user.ID {
		s.logger.Warn("post author does not match session", "user_id", user.ID, "author_id", req.Author.ID)
		writeError(w, http.StatusForbidden, "Forbidden", "author must be the signed-in user")
		return
	}

	post := domain.NewPost{
		Title:      req.Title,
		Body:       bodyPolicy.Sanitize(req.Content),
		CoverImage: req.CoverImage,
		Author:     domain.AuthorFromUser(user),
	}
	if err := post.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	id, err := s.posts.CreatePost(r.Context(), post)
	if err != nil {
		s.logger.Error("failed to create post", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to create post")
		return
	}
	s.logger.Info("post created", "id", id, "user_id", user.ID)
	writeJSON(w, http.StatusCreated, api.CreatedResponse{ID: id})
}

func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req api.UpdatePostRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	existing, err := s.posts.GetPost(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NotFound", "post not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get post", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to get post")
		return
	}
	if existing.Author.ID != user.ID {
		s.logger.Warn("edit by non-owner rejected", "id", id, "user_id", user.ID)
		writeError(w, http.StatusForbidden, "Forbidden", "only the author can edit this post")
		return
	}

	patch := domain.PostPatch{
		Title:      req.Title,
		Body:       bodyPolicy.Sanitize(req.Content),
		CoverImage: req.CoverImage,
	}
	if err := patch.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	if err := s.posts.UpdatePost(r.Context(), id, patch); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NotFound", "post not found")
			return
		}
		s.logger.Error("failed to update post", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to update post")
		return
	}
	s.logger.Info("post updated", "id", id, "user_id", user.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCards(w http.ResponseWriter, r *http.Request) {
	posts, err := s.posts.ListPosts(r.Context())
	if err != nil {
		s.logger.Error("failed to list posts", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to list posts")
		return
	}
	cards := make([]api.Card, 0, len(posts))
	for _, p := range posts {
		cards = append(cards, api.FromCard(domain.RenderCard(p)))
	}
	writeJSON(w, http.StatusOK, cards)
}

// multipartOverhead is the allowance for form fields and part headers on
// top of the file size limit.
const multipartOverhead = 64 << 10

func (s *Server) handleUploadBlob(w http.ResponseWriter, r *http.Request) {
	limit := s.blobs.MaxBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "TooLarge", "upload exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	key := r.FormValue("key")
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "failed to read upload")
		return
	}

	ref, err := s.blobs.Upload(r.Context(), key, data)
	if err != nil {
		var tooLarge *blob.TooLargeError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "TooLarge", err.Error())
		case errors.Is(err, blob.ErrNotImage), errors.Is(err, blob.ErrInvalidKey):
			writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		default:
			s.logger.Error("failed to store upload", "key", key, "error", err)
			writeError(w, http.StatusInternalServerError, "InternalError", "failed to store upload")
		}
		return
	}

	url, err := s.blobs.URL(r.Context(), ref)
	if err != nil {
		s.logger.Error("failed to resolve blob url", "key", ref.Key, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to resolve upload url")
		return
	}
	writeJSON(w, http.StatusCreated, api.BlobResponse{Key: ref.Key, URL: url})
}
