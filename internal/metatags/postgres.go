package metatags

import (
	"context"
	stderrors "errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmgilman/go/errors"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type queryCloser interface {
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// PostgresSource reads articles from a table with slug, title, excerpt,
// cover_image, author_name, status and published_at columns.
type PostgresSource struct {
	pool  queryCloser
	query string
}

func NewPostgresSource(ctx context.Context, dsn, table string) (*PostgresSource, error) {
	if dsn == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "renderer.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "parse postgres dsn")
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "connect postgres")
	}
	src, err := NewPostgresSourceWithPool(pool, table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return src, nil
}

// NewPostgresSourceWithPool builds a source on an existing pool (primarily for testing).
func NewPostgresSourceWithPool(pool queryCloser, table string) (*PostgresSource, error) {
	if pool == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "pool is required")
	}
	if table == "" {
		table = "articles"
	}
	if !validTableName.MatchString(table) {
		return nil, errors.Newf(errors.CodeInvalidConfig, "invalid table name %q", table)
	}
	return &PostgresSource{
		pool: pool,
		query: fmt.Sprintf("SELECT slug, title, coalesce(excerpt, ''), coalesce(cover_image, ''), "+
			"coalesce(author_name, ''), published_at FROM %s WHERE slug = $1 AND status = '%s' LIMIT 1",
			table, statusPublished),
	}, nil
}

func (s *PostgresSource) PublishedBySlug(ctx context.Context, slug string) (Article, error) {
	var (
		a Article
		// nullable timestamptz
		publishedAt any
	)
	err := s.pool.QueryRow(ctx, s.query, slug).Scan(
		&a.Slug,
		&a.Title,
		&a.Excerpt,
		&a.CoverImage,
		&a.AuthorName,
		&publishedAt,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return Article{}, notFound(slug)
	}
	if err != nil {
		return Article{}, errors.Wrapf(err, errors.CodeDatabase, "query article %q", slug)
	}
	a.Status = statusPublished
	if t, ok := publishedAt.(time.Time); ok {
		a.PublishedAt = t.UTC()
	}
	return a, nil
}

func (s *PostgresSource) Close() {
	s.pool.Close()
}
