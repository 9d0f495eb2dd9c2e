package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/blackmichael/blogapp/internal/auth"
	"github.com/blackmichael/blogapp/internal/changefeed"
	"github.com/blackmichael/blogapp/internal/domain"
)

const postColumns = `id, title, body, cover_image, author_id, author_name, author_email,
	created_at, updated_at, comments_count`

// Repository implements domain.PostStore and auth.AccountStore using SQLite.
type Repository struct {
	db       *sql.DB
	hub      *changefeed.Hub
	notifier changefeed.Notifier
	now      func() time.Time
}

// Option configures a Repository.
type Option func(*Repository)

// WithNotifier sets who is told about writes. It defaults to the hub itself,
// which is enough when only one process serves the database.
func WithNotifier(n changefeed.Notifier) Option {
	return func(r *Repository) { r.notifier = n }
}

// WithClock overrides the clock used to stamp posts and accounts.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// NewRepository returns a Repository on db that serves live subscriptions
// through hub.
func NewRepository(db *sql.DB, hub *changefeed.Hub, opts ...Option) *Repository {
	r := &Repository{
		db:       db,
		hub:      hub,
		notifier: hub,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// DB exposes the connection for the session store.
func (r *Repository) DB() *sql.DB {
	return r.db
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// CreatePost inserts a new post and returns its generated ID.
func (r *Repository) CreatePost(ctx context.Context, post domain.NewPost) (string, error) {
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO posts (id, title, body, cover_image, author_id, author_name, author_email, created_at, comments_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		id,
		post.Title,
		post.Body,
		nullString(post.CoverImage),
		post.Author.ID,
		post.Author.Name,
		post.Author.Email,
		r.now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("insert post: %w", err)
	}
	r.changed(ctx)
	return id, nil
}

// GetPost fetches a post by ID.
func (r *Repository) GetPost(ctx context.Context, id string) (*domain.Post, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post %s: %w", id, err)
	}
	return p, nil
}

// UpdatePost overwrites the editable fields of a post and stamps updated_at.
func (r *Repository) UpdatePost(ctx context.Context, id string, patch domain.PostPatch) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE posts SET title = ?, body = ?, cover_image = ?, updated_at = ?
		WHERE id = ?`,
		patch.Title,
		patch.Body,
		nullString(patch.CoverImage),
		r.now().UnixMilli(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update post %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update post %s: %w", id, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	r.changed(ctx)
	return nil
}

// ListPosts returns every post, newest first.
func (r *Repository) ListPosts(ctx context.Context) ([]domain.Post, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	posts := []domain.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}

// CoverImages returns every distinct non-empty cover image reference.
func (r *Repository) CoverImages(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT cover_image FROM posts
		WHERE cover_image IS NOT NULL AND cover_image <> ''`)
	if err != nil {
		return nil, fmt.Errorf("query cover images: %w", err)
	}
	defer rows.Close()

	var covers []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan cover image: %w", err)
		}
		covers = append(covers, c)
	}
	return covers, rows.Err()
}

// SubscribePosts opens a live view of all posts.
func (r *Repository) SubscribePosts(ctx context.Context, onSnapshot func([]domain.Post), onError func(error)) (domain.Unsubscribe, error) {
	return r.hub.Subscribe(ctx, r.ListPosts, onSnapshot, onError)
}

// CreateAccount stores a new account.
func (r *Repository) CreateAccount(ctx context.Context, email, passwordHash string) (*auth.Account, error) {
	acct := &auth.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.UnixMilli(r.now().UnixMilli()),
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at)
		VALUES (?, ?, ?, ?)`,
		acct.ID, acct.Email, acct.PasswordHash, acct.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, auth.ErrEmailTaken
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return acct, nil
}

// GetAccountByEmail looks up an account by its normalized e-mail address.
func (r *Repository) GetAccountByEmail(ctx context.Context, email string) (*auth.Account, error) {
	var (
		acct    auth.Account
		created int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email,
	).Scan(&acct.ID, &acct.Email, &acct.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	acct.CreatedAt = time.UnixMilli(created)
	return &acct, nil
}

// changed tells the notifier about a committed write, falling back to the
// local hub when the notifier is unreachable.
func (r *Repository) changed(ctx context.Context) {
	if err := r.notifier.Notify(ctx); err != nil {
		r.hub.Publish()
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(s scanner) (*domain.Post, error) {
	var (
		p       domain.Post
		cover   sql.NullString
		created int64
		updated sql.NullInt64
	)
	err := s.Scan(
		&p.ID,
		&p.Title,
		&p.Body,
		&cover,
		&p.Author.ID,
		&p.Author.Name,
		&p.Author.Email,
		&created,
		&updated,
		&p.CommentsCount,
	)
	if err != nil {
		return nil, err
	}
	p.CoverImage = cover.String
	t := time.UnixMilli(created)
	p.CreatedAt = &t
	if updated.Valid {
		u := time.UnixMilli(updated.Int64)
		p.UpdatedAt = &u
	}
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
