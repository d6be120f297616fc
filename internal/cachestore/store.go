// Package cachestore provides named, versioned cache namespaces holding stamped
// HTTP responses. Backends: in-memory, LevelDB on local disk, and a GCS bucket.
package cachestore

import (
	"context"
	"net/http"
	"strings"

	"github.com/jmgilman/go/errors"
)

// Entry is a stored response. CachedAt is unix milliseconds and is always set by
// the writer, never copied from upstream headers.
type Entry struct {
	Key         string
	Status      int
	StatusText  string
	ContentType string
	Header      http.Header
	Body        []byte
	CachedAt    int64
}

// Meta is the side-channel record kept next to every entry. It can be read
// without loading the body.
type Meta struct {
	Key         string
	CachedAt    int64
	Size        int64
	ContentType string
}

// Cache is one namespace. Every mutation is a single atomic backend operation.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Meta(ctx context.Context, key string) (Meta, bool, error)
	Put(ctx context.Context, ent Entry) error
	Delete(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

// Storage holds every namespace.
type Storage interface {
	// Open returns the namespace, creating it when missing.
	Open(ctx context.Context, name string) (Cache, error)
	Names(ctx context.Context) ([]string, error)
	// Delete drops the namespace and all of its entries.
	Delete(ctx context.Context, name string) (bool, error)
	Close() error
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New(errors.CodeInvalidInput, "namespace name is empty")
	}
	if strings.ContainsAny(name, "\x00/") {
		return errors.Newf(errors.CodeInvalidInput, "namespace name %q contains a reserved character", name)
	}
	return nil
}

func metaOf(ent Entry) Meta {
	return Meta{
		Key:         ent.Key,
		CachedAt:    ent.CachedAt,
		Size:        int64(len(ent.Body)),
		ContentType: ent.ContentType,
	}
}

// Clone returns a deep copy so callers never share header maps or body slices
// with the backend.
func (e Entry) Clone() Entry {
	out := e
	out.Header = cloneHeader(e.Header)
	if e.Body != nil {
		out.Body = append([]byte(nil), e.Body...)
	}
	return out
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return nil
	}
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}
