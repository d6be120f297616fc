package edgeworker

import (
	"context"
	"testing"

	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"edgeworker/internal/cachestore"
)

func TestLifecyclePurgesOldVersionsOnActivate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := cachestore.NewMemory()
	for _, name := range []string{"images-v1", "images-v2", "assets-v1"} {
		c, err := st.Open(ctx, name)
		require.NoError(t, err)
		require.NoError(t, c.Put(ctx, cachestore.Entry{Key: name + "/k", Body: []byte("x")}))
	}

	lc := NewLifecycle(st, CacheConfig{AssetsNamespace: "assets-v1", ImagesNamespace: "images-v2"}, zap.NewNop())
	require.False(t, lc.Active())
	require.NoError(t, lc.Install(ctx))
	require.False(t, lc.Active())

	purged, err := lc.Activate(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"images-v1"}, purged)
	require.True(t, lc.Active())

	names, err := st.Names(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"assets-v1", "images-v2"}, names)

	// Current namespaces keep their entries.
	_, ok, err := lc.Images().Get(ctx, "images-v2/k")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLifecycleInstallCreatesCurrentNamespaces(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := cachestore.NewMemory()
	lc := NewLifecycle(st, CacheConfig{AssetsNamespace: "assets-v3", ImagesNamespace: "images-v3"}, zap.NewNop())
	require.Nil(t, lc.Images())
	require.NoError(t, lc.Install(ctx))
	require.NotNil(t, lc.Images())

	names, err := st.Names(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"assets-v3", "images-v3"}, names)

	purged, err := lc.Activate(ctx)
	require.NoError(t, err)
	require.Empty(t, purged)
}

func TestLifecycleRejectsOutOfOrderTransitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	lc := NewLifecycle(cachestore.NewMemory(), CacheConfig{AssetsNamespace: "assets-v1", ImagesNamespace: "images-v1"}, zap.NewNop())

	_, err := lc.Activate(ctx)
	require.Error(t, err)
	require.Equal(t, errors.CodeConflict, errors.GetCode(err))
	require.False(t, lc.Active())

	require.NoError(t, lc.Install(ctx))
	err = lc.Install(ctx)
	require.Error(t, err)
	require.Equal(t, errors.CodeConflict, errors.GetCode(err))

	_, err = lc.Activate(ctx)
	require.NoError(t, err)
	_, err = lc.Activate(ctx)
	require.Error(t, err)
}
