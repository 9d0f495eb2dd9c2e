// Package postgres implements the post and account stores on PostgreSQL.
// Changes made by any process reach every process's live subscriptions
// through LISTEN/NOTIFY.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/blackmichael/blogapp/internal/auth"
	"github.com/blackmichael/blogapp/internal/changefeed"
	"github.com/blackmichael/blogapp/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ChangeChannel is the NOTIFY channel the posts trigger signals on.
const ChangeChannel = "posts_changed"

const (
	listenRetryDelay = 5 * time.Second
	uniqueViolation  = "23505"
)

const postColumns = `id, title, body, cover_image, author_id, author_name, author_email,
	created_at, updated_at, comments_count`

// Repository implements domain.PostStore and auth.AccountStore using
// PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	hub    *changefeed.Hub
	logger *slog.Logger
	now    func() time.Time
}

// NewRepository connects to PostgreSQL at the given URL, verifies the
// connection and runs pending migrations. The caller should call Close when
// the repository is no longer needed.
func NewRepository(ctx context.Context, databaseURL string, hub *changefeed.Hub, logger *slog.Logger) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Repository{
		pool:   pool,
		hub:    hub,
		logger: logger,
		now:    time.Now,
	}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Listen forwards change notifications from every writer of the database to
// the hub until ctx is cancelled, reconnecting after failures.
func (r *Repository) Listen(ctx context.Context) {
	for {
		err := r.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("change listener disconnected, reconnecting", "error", err, "delay", listenRetryDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(listenRetryDelay):
		}
	}
}

func (r *Repository) listen(ctx context.Context) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return fmt.Errorf("listen %s: %w", ChangeChannel, err)
	}
	r.logger.Info("listening for change events", "channel", ChangeChannel)

	// Catch up on anything missed while disconnected.
	r.hub.Publish()

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		r.hub.Publish()
	}
}

// CreatePost inserts a new post and returns its generated ID.
func (r *Repository) CreatePost(ctx context.Context, post domain.NewPost) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO posts (id, title, body, cover_image, author_id, author_name, author_email, created_at, comments_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0)`,
		id,
		post.Title,
		post.Body,
		nullable(post.CoverImage),
		post.Author.ID,
		post.Author.Name,
		post.Author.Email,
		r.now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert post: %w", err)
	}
	r.hub.Publish()
	return id, nil
}

// GetPost fetches a post by ID.
func (r *Repository) GetPost(ctx context.Context, id string) (*domain.Post, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id)
	p, err := scanPost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post %s: %w", id, err)
	}
	return p, nil
}

// UpdatePost overwrites the editable fields of a post and stamps updated_at.
func (r *Repository) UpdatePost(ctx context.Context, id string, patch domain.PostPatch) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE posts SET title = $1, body = $2, cover_image = $3, updated_at = $4
		WHERE id = $5`,
		patch.Title,
		patch.Body,
		nullable(patch.CoverImage),
		r.now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update post %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	r.hub.Publish()
	return nil
}

// ListPosts returns every post, newest first.
func (r *Repository) ListPosts(ctx context.Context) ([]domain.Post, error) {
	rows, err := r.pool.Query(ctx, `
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
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT cover_image FROM posts
		WHERE cover_image IS NOT NULL AND cover_image <> ''`)
	if err != nil {
		return nil, fmt.Errorf("query cover images: %w", err)
	}
	covers, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect cover images: %w", err)
	}
	return covers, nil
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
		CreatedAt:    r.now().UTC().Truncate(time.Microsecond),
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)`,
		acct.ID, acct.Email, acct.PasswordHash, acct.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, auth.ErrEmailTaken
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return acct, nil
}

// GetAccountByEmail looks up an account by its normalized e-mail address.
func (r *Repository) GetAccountByEmail(ctx context.Context, email string) (*auth.Account, error) {
	var acct auth.Account
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = $1`, email,
	).Scan(&acct.ID, &acct.Email, &acct.PasswordHash, &acct.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &acct, nil
}

func scanPost(row pgx.Row) (*domain.Post, error) {
	var (
		p       domain.Post
		cover   *string
		created time.Time
	)
	err := row.Scan(
		&p.ID,
		&p.Title,
		&p.Body,
		&cover,
		&p.Author.ID,
		&p.Author.Name,
		&p.Author.Email,
		&created,
		&p.UpdatedAt,
		&p.CommentsCount,
	)
	if err != nil {
		return nil, err
	}
	if cover != nil {
		p.CoverImage = *cover
	}
	p.CreatedAt = &created
	return &p, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
