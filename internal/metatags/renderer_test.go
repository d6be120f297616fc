package metatags

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const fixture = `
articles:
  - slug: some-article
    title: Rust & "Go" in 2026
    excerpt: A look at systems languages.
    coverImage: https://abc.supabase.co/storage/v1/object/public/covers/a.png
    authorName: Sam Doe
    status: published
    publishedAt: 2026-01-02T03:04:05Z
  - slug: bare
    title: ""
    status: published
  - slug: draft-post
    title: Not yet
    status: draft
`

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	src, err := ParseFileSource([]byte(fixture))
	require.NoError(t, err)
	return NewRenderer(src, Config{
		SiteOrigin:         "https://example.com/",
		SiteName:           "Example News",
		DefaultImage:       "https://example.com/og-default.png",
		DefaultDescription: "News from Example.",
	}, zap.NewNop())
}

type failingSource struct{}

func (failingSource) PublishedBySlug(context.Context, string) (Article, error) {
	return Article{}, errors.New(errors.CodeDatabase, "connection refused")
}

func TestSlugOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "slug", slugOf("/news/slug"))
	require.Equal(t, "slug", slugOf("/news/slug/"))
	require.Equal(t, "slug", slugOf("news//slug//"))
	require.Equal(t, "", slugOf("/"))
	require.Equal(t, "", slugOf(""))
}

func TestRenderPublishedArticle(t *testing.T) {
	t.Parallel()

	page, err := newTestRenderer(t).Render(context.Background(), "/news/some-article")
	require.NoError(t, err)
	require.Equal(t, Page{
		Title:       `Rust & "Go" in 2026`,
		Description: "A look at systems languages.",
		Image:       "https://abc.supabase.co/storage/v1/object/public/covers/a.png",
		URL:         "https://example.com/news/some-article",
		SiteName:    "Example News",
		Author:      "Sam Doe",
		PublishedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}, page)
}

func TestRenderFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	page, err := newTestRenderer(t).Render(context.Background(), "culture/bare")
	require.NoError(t, err)
	require.Equal(t, "Example News", page.Title)
	require.Equal(t, "News from Example.", page.Description)
	require.Equal(t, "https://example.com/og-default.png", page.Image)
	require.Equal(t, "https://example.com/culture/bare", page.URL)
}

func TestRenderNotFound(t *testing.T) {
	t.Parallel()

	r := newTestRenderer(t)
	for _, path := range []string{"/news/missing", "/news/draft-post"} {
		_, err := r.Render(context.Background(), path)
		require.Error(t, err)
		require.Equal(t, errors.CodeNotFound, errors.GetCode(err), path)
	}

	_, err := r.Render(context.Background(), "///")
	require.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestWriteHTMLEscapesAndRedirects(t *testing.T) {
	t.Parallel()

	page, err := newTestRenderer(t).Render(context.Background(), "/news/some-article")
	require.NoError(t, err)

	var sb strings.Builder
	require.NoError(t, page.WriteHTML(&sb))
	out := sb.String()

	require.Contains(t, out, `<title>Rust &amp; &#34;Go&#34; in 2026</title>`)
	require.Contains(t, out, `<meta property="og:type" content="article">`)
	require.Contains(t, out, `<meta property="og:url" content="https://example.com/news/some-article">`)
	require.Contains(t, out, `<meta property="og:image" content="https://abc.supabase.co/storage/v1/object/public/covers/a.png">`)
	require.Contains(t, out, `<meta name="twitter:card" content="summary_large_image">`)
	require.Contains(t, out, `<link rel="canonical" href="https://example.com/news/some-article">`)
	require.Contains(t, out, `<meta http-equiv="refresh" content="0;url=https://example.com/news/some-article">`)
	require.Contains(t, strings.ReplaceAll(out, `\/`, "/"), `window.location.replace("https://example.com/news/some-article")`)
	require.Contains(t, out, `content="2026-01-02T03:04:05Z"`)
}

func TestHandler(t *testing.T) {
	t.Parallel()

	r := newTestRenderer(t)
	cases := []struct {
		name   string
		target string
		status int
		code   errors.ErrorCode
	}{
		{"rendered", "/_edge/meta?path=/news/some-article", http.StatusOK, ""},
		{"missing path", "/_edge/meta", http.StatusBadRequest, errors.CodeInvalidInput},
		{"unknown slug", "/_edge/meta?path=/news/missing", http.StatusNotFound, errors.CodeNotFound},
		{"draft", "/_edge/meta?path=/news/draft-post", http.StatusNotFound, errors.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			req.Header.Set("X-Forwarded-User-Agent", "Twitterbot/1.0")
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			require.Equal(t, tc.status, rec.Code)
			if tc.code == "" {
				require.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
				require.Contains(t, rec.Body.String(), "og:title")
				return
			}
			var body errors.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, string(tc.code), body.Code)
		})
	}
}

func TestHandlerSourceFailure(t *testing.T) {
	t.Parallel()

	r := NewRenderer(failingSource{}, Config{SiteOrigin: "https://example.com"}, zap.NewNop())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_edge/meta?path=/news/a", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestFileSourceValidation(t *testing.T) {
	t.Parallel()

	_, err := ParseFileSource([]byte("articles:\n  - title: no slug\n"))
	require.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))

	_, err = ParseFileSource([]byte("articles:\n  - slug: a\n  - slug: a\n"))
	require.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))

	path := filepath.Join(t.TempDir(), "articles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))
	src, err := LoadFileSource(path)
	require.NoError(t, err)
	a, err := src.PublishedBySlug(context.Background(), "some-article")
	require.NoError(t, err)
	require.Equal(t, "Sam Doe", a.AuthorName)
}
