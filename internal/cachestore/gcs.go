package cachestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/jmgilman/go/errors"
	"google.golang.org/api/iterator"
)

// Object layout inside the bucket:
//
//	<prefix>/<ns>/.namespace        namespace marker
//	<prefix>/<ns>/<base64url(key)>  response body, metadata carries the rest
const gcsMarker = ".namespace"

const (
	gcsMetaCachedAt   = "edge-cached-at"
	gcsMetaStatus     = "edge-status"
	gcsMetaStatusText = "edge-status-text"
	gcsMetaHeader     = "edge-header"
)

// GCSConfig captures the bucket used as a shared cache backend.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// GCS stores namespaces as object prefixes in a Cloud Storage bucket so several
// edge instances can share one image cache.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCS(client *storage.Client, cfg GCSConfig) (*GCS, error) {
	if client == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "bucket name is required")
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "edge-cache"
	}
	return &GCS{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) nsPrefix(name string) string { return g.prefix + "/" + name + "/" }

func (g *GCS) Open(ctx context.Context, name string) (Cache, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	obj := g.client.Bucket(g.bucket).Object(g.nsPrefix(name) + gcsMarker)
	if _, err := obj.Attrs(ctx); err != nil {
		if !stderrors.Is(err, storage.ErrObjectNotExist) {
			return nil, errors.Wrap(err, errors.CodeDatabase, "check namespace")
		}
		w := obj.NewWriter(ctx)
		if err := w.Close(); err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabase, "create namespace")
		}
	}
	return &gcsCache{bkt: g.client.Bucket(g.bucket), prefix: g.nsPrefix(name)}, nil
}

func (g *GCS) Names(ctx context.Context) ([]string, error) {
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: g.prefix + "/", Delimiter: "/"})
	var out []string
	for {
		attrs, err := it.Next()
		if stderrors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabase, "list namespaces")
		}
		if attrs.Prefix == "" {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(attrs.Prefix, g.prefix+"/"), "/")
		if name != "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (g *GCS) Delete(ctx context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	bkt := g.client.Bucket(g.bucket)
	it := bkt.Objects(ctx, &storage.Query{Prefix: g.nsPrefix(name)})
	deleted := false
	for {
		attrs, err := it.Next()
		if stderrors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return deleted, errors.Wrap(err, errors.CodeDatabase, "list namespace objects")
		}
		err = bkt.Object(attrs.Name).Delete(ctx)
		if err != nil && !stderrors.Is(err, storage.ErrObjectNotExist) {
			return deleted, errors.Wrapf(err, errors.CodeDatabase, "delete %s", attrs.Name)
		}
		deleted = true
	}
	return deleted, nil
}

type gcsCache struct {
	bkt    *storage.BucketHandle
	prefix string
}

func encodeObjectKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeObjectKey(name string) (string, bool) {
	if name == gcsMarker {
		return "", false
	}
	b, err := base64.RawURLEncoding.DecodeString(name)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func (c *gcsCache) object(key string) *storage.ObjectHandle {
	return c.bkt.Object(c.prefix + encodeObjectKey(key))
}

func (c *gcsCache) Meta(ctx context.Context, key string) (Meta, bool, error) {
	attrs, err := c.object(key).Attrs(ctx)
	if stderrors.Is(err, storage.ErrObjectNotExist) {
		return Meta{}, false, nil
	}
	if err != nil {
		return Meta{}, false, errors.Wrap(err, errors.CodeDatabase, "read object attrs")
	}
	return metaFromAttrs(key, attrs), true, nil
}

func metaFromAttrs(key string, attrs *storage.ObjectAttrs) Meta {
	cachedAt, _ := strconv.ParseInt(attrs.Metadata[gcsMetaCachedAt], 10, 64)
	return Meta{
		Key:         key,
		CachedAt:    cachedAt,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
	}
}

func (c *gcsCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	obj := c.object(key)
	attrs, err := obj.Attrs(ctx)
	if stderrors.Is(err, storage.ErrObjectNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errors.Wrap(err, errors.CodeDatabase, "read object attrs")
	}
	r, err := obj.Generation(attrs.Generation).NewReader(ctx)
	if stderrors.Is(err, storage.ErrObjectNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errors.Wrap(err, errors.CodeDatabase, "open object")
	}
	defer r.Close()
	body, err := io.ReadAll(r)
	if err != nil {
		return Entry{}, false, errors.Wrap(err, errors.CodeDatabase, "read object")
	}

	meta := metaFromAttrs(key, attrs)
	status, _ := strconv.Atoi(attrs.Metadata[gcsMetaStatus])
	if status == 0 {
		status = http.StatusOK
	}
	var header http.Header
	if raw := attrs.Metadata[gcsMetaHeader]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &header); err != nil {
			return Entry{}, false, errors.Wrap(err, errors.CodeDatabase, "decode stored header")
		}
	}
	return Entry{
		Key:         key,
		Status:      status,
		StatusText:  attrs.Metadata[gcsMetaStatusText],
		ContentType: attrs.ContentType,
		Header:      header,
		Body:        body,
		CachedAt:    meta.CachedAt,
	}, true, nil
}

func (c *gcsCache) Put(ctx context.Context, ent Entry) error {
	hb, err := json.Marshal(ent.Header)
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "encode header")
	}
	w := c.object(ent.Key).NewWriter(ctx)
	w.ContentType = ent.ContentType
	w.Metadata = map[string]string{
		gcsMetaCachedAt:   strconv.FormatInt(ent.CachedAt, 10),
		gcsMetaStatus:     strconv.Itoa(ent.Status),
		gcsMetaStatusText: ent.StatusText,
		gcsMetaHeader:     string(hb),
	}
	if _, err := w.Write(ent.Body); err != nil {
		closeErr := w.Close()
		if closeErr != nil {
			return errors.Wrapf(err, errors.CodeDatabase, "write object (close writer: %v)", closeErr)
		}
		return errors.Wrap(err, errors.CodeDatabase, "write object")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "close writer")
	}
	return nil
}

func (c *gcsCache) Delete(ctx context.Context, key string) (bool, error) {
	err := c.object(key).Delete(ctx)
	if stderrors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.CodeDatabase, "delete object")
	}
	return true, nil
}

func (c *gcsCache) Keys(ctx context.Context) ([]string, error) {
	it := c.bkt.Objects(ctx, &storage.Query{Prefix: c.prefix})
	var out []string
	for {
		attrs, err := it.Next()
		if stderrors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabase, "list keys")
		}
		if key, ok := decodeObjectKey(strings.TrimPrefix(attrs.Name, c.prefix)); ok {
			out = append(out, key)
		}
	}
	return out, nil
}
