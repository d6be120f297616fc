// Package metatags renders the minimal article pages served to link-preview
// crawlers: Open Graph and Twitter Card tags plus a redirect to the real page.
package metatags

import (
	"context"
	"os"
	"time"

	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"
)

const statusPublished = "published"

// Article is the subset of an article record the tags are built from.
type Article struct {
	Slug        string    `yaml:"slug"`
	Title       string    `yaml:"title"`
	Excerpt     string    `yaml:"excerpt"`
	CoverImage  string    `yaml:"coverImage"`
	AuthorName  string    `yaml:"authorName"`
	Status      string    `yaml:"status"`
	PublishedAt time.Time `yaml:"publishedAt"`
}

// ArticleSource looks up published articles. A missing or unpublished slug is
// an error coded NOT_FOUND.
type ArticleSource interface {
	PublishedBySlug(ctx context.Context, slug string) (Article, error)
}

func notFound(slug string) error {
	return errors.Newf(errors.CodeNotFound, "no published article with slug %q", slug)
}

// FileSource serves articles from a YAML fixture, for local runs without a
// database.
type FileSource struct {
	bySlug map[string]Article
}

func LoadFileSource(path string) (*FileSource, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidConfig, "read article fixture %s", path)
	}
	return ParseFileSource(b)
}

func ParseFileSource(b []byte) (*FileSource, error) {
	var doc struct {
		Articles []Article `yaml:"articles"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "parse article fixture")
	}
	fs := &FileSource{bySlug: make(map[string]Article, len(doc.Articles))}
	for _, a := range doc.Articles {
		if a.Slug == "" {
			return nil, errors.New(errors.CodeInvalidConfig, "article fixture: slug is required")
		}
		if _, dup := fs.bySlug[a.Slug]; dup {
			return nil, errors.Newf(errors.CodeInvalidConfig, "article fixture: duplicate slug %q", a.Slug)
		}
		fs.bySlug[a.Slug] = a
	}
	return fs, nil
}

func (fs *FileSource) PublishedBySlug(_ context.Context, slug string) (Article, error) {
	a, ok := fs.bySlug[slug]
	if !ok || a.Status != statusPublished {
		return Article{}, notFound(slug)
	}
	return a, nil
}
