package edgeworker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"edgeworker/internal/cachestore"
)

// StalenessPolicy decides whether a cache hit should schedule a background
// refresh. Staleness never deletes an entry on its own.
type StalenessPolicy struct {
	MaxAge time.Duration
}

func (p StalenessPolicy) IsStale(cachedAt int64, now time.Time) bool {
	return now.Sub(time.UnixMilli(cachedAt)) > p.MaxAge
}

// EvictionPolicy keeps the newest Capacity entries by write time.
//
// This is recency of write, not LRU: CachedAt is stamped once per write and a
// read never moves an entry, so a popular image written long ago is evicted
// before a rarely read one written recently.
type EvictionPolicy struct {
	Capacity int
}

type stamped struct {
	key      string
	cachedAt int64
}

// Enforce trims c back to Capacity and returns how many entries it deleted.
// Entries whose meta cannot be read are skipped and reported in the error; the
// pass still deletes what it can.
func (p EvictionPolicy) Enforce(ctx context.Context, c cachestore.Cache) (int, error) {
	keys, err := c.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list keys: %w", err)
	}
	if len(keys) <= p.Capacity {
		return 0, nil
	}

	var errs []error
	items := make([]stamped, 0, len(keys))
	for _, k := range keys {
		meta, ok, err := c.Meta(ctx, k)
		if err != nil {
			errs = append(errs, fmt.Errorf("read meta %q: %w", k, err))
			continue
		}
		if !ok {
			// deleted concurrently
			continue
		}
		items = append(items, stamped{key: k, cachedAt: meta.CachedAt})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].cachedAt != items[j].cachedAt {
			return items[i].cachedAt > items[j].cachedAt
		}
		return items[i].key < items[j].key
	})

	evicted := 0
	for i := p.Capacity; i < len(items); i++ {
		ok, err := c.Delete(ctx, items[i].key)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete %q: %w", items[i].key, err))
			continue
		}
		if ok {
			evicted++
		}
	}
	return evicted, stderrors.Join(errs...)
}
