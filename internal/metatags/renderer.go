package metatags

import (
	"context"
	"encoding/json"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"
	"go.uber.org/zap"
)

type Config struct {
	// SiteOrigin prefixes the article path to form the canonical URL.
	SiteOrigin         string
	SiteName           string
	DefaultImage       string
	DefaultDescription string
}

// Page holds the values written into the preview document.
type Page struct {
	Title       string
	Description string
	Image       string
	URL         string
	SiteName    string
	Author      string
	PublishedAt time.Time
}

type Renderer struct {
	source ArticleSource
	cfg    Config
	log    *zap.Logger
}

func NewRenderer(source ArticleSource, cfg Config, log *zap.Logger) *Renderer {
	cfg.SiteOrigin = strings.TrimRight(cfg.SiteOrigin, "/")
	return &Renderer{source: source, cfg: cfg, log: log}
}

// slugOf returns the last non-empty segment of path.
func slugOf(path string) string {
	segs := strings.Split(path, "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(segs[i]); s != "" {
			return s
		}
	}
	return ""
}

// Render resolves path to a published article.
func (r *Renderer) Render(ctx context.Context, path string) (Page, error) {
	slug := slugOf(path)
	if slug == "" {
		return Page{}, errors.Newf(errors.CodeInvalidInput, "path %q has no slug", path)
	}
	a, err := r.source.PublishedBySlug(ctx, slug)
	if err != nil {
		return Page{}, err
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	p := Page{
		Title:       a.Title,
		Description: a.Excerpt,
		Image:       a.CoverImage,
		URL:         r.cfg.SiteOrigin + path,
		SiteName:    r.cfg.SiteName,
		Author:      a.AuthorName,
		PublishedAt: a.PublishedAt,
	}
	if p.Title == "" {
		p.Title = r.cfg.SiteName
	}
	if p.Description == "" {
		p.Description = r.cfg.DefaultDescription
	}
	if p.Image == "" {
		p.Image = r.cfg.DefaultImage
	}
	return p, nil
}

var pageTemplate = template.Must(template.New("page").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<meta name="description" content="{{.Description}}">
<link rel="canonical" href="{{.URL}}">
<meta property="og:type" content="article">
<meta property="og:title" content="{{.Title}}">
<meta property="og:description" content="{{.Description}}">
<meta property="og:url" content="{{.URL}}">
{{- if .Image}}
<meta property="og:image" content="{{.Image}}">
{{- end}}
{{- if .SiteName}}
<meta property="og:site_name" content="{{.SiteName}}">
{{- end}}
{{- if .Author}}
<meta name="author" content="{{.Author}}">
{{- end}}
{{- if not .PublishedAt.IsZero}}
<meta property="article:published_time" content="{{.PublishedAt.Format "2006-01-02T15:04:05Z07:00"}}">
{{- end}}
<meta name="twitter:card" content="summary_large_image">
<meta name="twitter:title" content="{{.Title}}">
<meta name="twitter:description" content="{{.Description}}">
{{- if .Image}}
<meta name="twitter:image" content="{{.Image}}">
{{- end}}
<meta http-equiv="refresh" content="0;url={{.URL}}">
</head>
<body>
<script>window.location.replace({{.URL}});</script>
<a href="{{.URL}}">{{.Title}}</a>
</body>
</html>
`))

func (p Page) WriteHTML(w io.Writer) error {
	return pageTemplate.Execute(w, p)
}

// ServeHTTP answers GET ?path=/category/slug with the preview document.
func (r *Renderer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	path := req.URL.Query().Get("path")
	if path == "" {
		writeError(w, errors.New(errors.CodeInvalidInput, "path query parameter is required"))
		return
	}

	page, err := r.Render(req.Context(), path)
	if err != nil {
		if statusFor(err) >= http.StatusInternalServerError {
			r.log.Error("render meta tags", zap.String("path", path), zap.Error(err))
		} else {
			r.log.Debug("render meta tags", zap.String("path", path), zap.Error(err))
		}
		writeError(w, err)
		return
	}

	r.log.Debug("rendered meta tags",
		zap.String("path", path),
		zap.String("crawler", req.Header.Get("X-Forwarded-User-Agent")))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	if err := page.WriteHTML(w); err != nil {
		r.log.Warn("write meta page", zap.Error(err))
	}
}

func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	_ = json.NewEncoder(w).Encode(errors.ToJSON(err))
}
