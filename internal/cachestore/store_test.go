package cachestore

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Storage {
	t.Helper()

	ldb, err := OpenLevelDB(filepath.Join(t.TempDir(), "leveldb"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ldb.Close() })

	_, gcs := newGCSStorage(t)

	return map[string]Storage{
		"memory":  NewMemory(),
		"leveldb": ldb,
		"gcs":     gcs,
	}
}

func sampleEntry(key string, cachedAt int64) Entry {
	return Entry{
		Key:         key,
		Status:      http.StatusOK,
		StatusText:  "200 OK",
		ContentType: "image/png",
		Header:      http.Header{"Content-Type": {"image/png"}, "Etag": {`"abc"`}},
		Body:        []byte("png-bytes-" + key),
		CachedAt:    cachedAt,
	}
}

func TestStoragePutGetRoundTrip(t *testing.T) {
	t.Parallel()

	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c, err := st.Open(ctx, "images-v1")
			require.NoError(t, err)

			_, ok, err := c.Get(ctx, "https://x/a.png")
			require.NoError(t, err)
			require.False(t, ok)

			want := sampleEntry("https://x/a.png?w=200", 1700000000123)
			require.NoError(t, c.Put(ctx, want))

			got, ok, err := c.Get(ctx, want.Key)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, want, got)

			meta, ok, err := c.Meta(ctx, want.Key)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, int64(1700000000123), meta.CachedAt)
			require.Equal(t, int64(len(want.Body)), meta.Size)
			require.Equal(t, "image/png", meta.ContentType)
		})
	}
}

func TestStoragePutOverwritesInPlace(t *testing.T) {
	t.Parallel()

	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c, err := st.Open(ctx, "images-v1")
			require.NoError(t, err)

			require.NoError(t, c.Put(ctx, sampleEntry("k", 1)))
			next := sampleEntry("k", 2)
			next.Body = []byte("new")
			require.NoError(t, c.Put(ctx, next))

			keys, err := c.Keys(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"k"}, keys)

			got, ok, err := c.Get(ctx, "k")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, []byte("new"), got.Body)
			require.Equal(t, int64(2), got.CachedAt)
		})
	}
}

func TestStorageDeleteEntry(t *testing.T) {
	t.Parallel()

	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c, err := st.Open(ctx, "images-v1")
			require.NoError(t, err)
			require.NoError(t, c.Put(ctx, sampleEntry("a", 1)))
			require.NoError(t, c.Put(ctx, sampleEntry("b", 2)))

			ok, err := c.Delete(ctx, "a")
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = c.Delete(ctx, "a")
			require.NoError(t, err)
			require.False(t, ok)

			keys, err := c.Keys(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"b"}, keys)

			_, ok, err = c.Meta(ctx, "a")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestStorageNamespacesAreIsolated(t *testing.T) {
	t.Parallel()

	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			v1, err := st.Open(ctx, "images-v1")
			require.NoError(t, err)
			v2, err := st.Open(ctx, "images-v2")
			require.NoError(t, err)
			_, err = st.Open(ctx, "assets-v1")
			require.NoError(t, err)

			require.NoError(t, v1.Put(ctx, sampleEntry("shared", 1)))
			_, ok, err := v2.Get(ctx, "shared")
			require.NoError(t, err)
			require.False(t, ok)

			names, err := st.Names(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"assets-v1", "images-v1", "images-v2"}, names)

			ok, err = st.Delete(ctx, "images-v1")
			require.NoError(t, err)
			require.True(t, ok)

			names, err = st.Names(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"assets-v1", "images-v2"}, names)

			reopened, err := st.Open(ctx, "images-v1")
			require.NoError(t, err)
			keys, err := reopened.Keys(ctx)
			require.NoError(t, err)
			require.Empty(t, keys)
		})
	}
}

func TestStorageRejectsBadNames(t *testing.T) {
	t.Parallel()

	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.Open(context.Background(), "")
			require.Error(t, err)
			_, err = st.Open(context.Background(), "a/b")
			require.Error(t, err)
		})
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, err := NewMemory().Open(ctx, "images-v1")
	require.NoError(t, err)

	ent := sampleEntry("k", 1)
	require.NoError(t, c.Put(ctx, ent))
	ent.Body[0] = 'X'
	ent.Header.Set("Etag", "mutated")

	got, _, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, byte('p'), got.Body[0])
	require.Equal(t, `"abc"`, got.Header.Get("Etag"))
}

func TestLevelDBSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "leveldb")

	st, err := OpenLevelDB(path)
	require.NoError(t, err)
	c, err := st.Open(ctx, "images-v3")
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, sampleEntry("k", 42)))
	require.NoError(t, st.Close())

	st, err = OpenLevelDB(path)
	require.NoError(t, err)
	defer st.Close()

	names, err := st.Names(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"images-v3"}, names)

	c, err = st.Open(ctx, "images-v3")
	require.NoError(t, err)
	meta, ok, err := c.Meta(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(42), meta.CachedAt)
}
