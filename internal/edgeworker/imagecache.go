package edgeworker

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"edgeworker/internal/cachestore"
	"edgeworker/internal/metrics"
)

const refreshTimeout = 30 * time.Second

// ImageCache serves storage-origin images cache-first and revalidates stale
// entries in the background.
type ImageCache struct {
	cache     cachestore.Cache
	client    *http.Client
	clock     Clock
	staleness StalenessPolicy
	eviction  EvictionPolicy
	maxBytes  int64

	log     *zap.Logger
	warnLog *rateLimitedLogger
	stats   *statsCollector

	bgSem chan struct{}
	wg    sync.WaitGroup
}

func newImageCache(cache cachestore.Cache, client *http.Client, clock Clock, cfg CacheConfig, log *zap.Logger, stats *statsCollector) *ImageCache {
	return &ImageCache{
		cache:     cache,
		client:    client,
		clock:     clock,
		staleness: StalenessPolicy{MaxAge: cfg.maxAgeDur},
		eviction:  EvictionPolicy{Capacity: cfg.Capacity},
		maxBytes:  cfg.maxEntryBytes,
		log:       log,
		warnLog:   newRateLimitedLogger(log, time.Minute),
		stats:     stats,
		bgSem:     make(chan struct{}, cfg.RefreshConcurrency),
	}
}

// Serve answers a cacheable-image request. The caller always gets a response:
// the cached copy, the origin's response, or a synthetic 503.
func (c *ImageCache) Serve(w http.ResponseWriter, r *http.Request, target *url.URL) {
	key := target.String()
	ctx := r.Context()

	ent, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.warnLog.Warn("image cache read failed", zap.String("key", key), zap.Error(err))
		ok = false
	}
	if ok {
		writeEntry(w, ent, edgeHit)
		c.stats.Observe(edgeHit, len(ent.Body))
		if c.staleness.IsStale(ent.CachedAt, c.clock.Now()) {
			metrics.ObserveImageCache("stale")
			c.refreshAsync(key)
			return
		}
		metrics.ObserveImageCache(edgeHit)
		return
	}

	ent, err = c.fetch(ctx, key, r.Header)
	if err != nil {
		c.log.Debug("image fetch failed", zap.String("key", key), zap.Error(err))
		metrics.ObserveImageCache(edgeUnavailable)
		setEdgeHeaders(w.Header(), edgeUnavailable)
		http.Error(w, "image unavailable", http.StatusServiceUnavailable)
		return
	}
	if !c.admit(ent) {
		metrics.ObserveImageCache(edgeBypass)
		c.stats.Observe(edgeBypass, len(ent.Body))
		writeEntry(w, ent, edgeBypass)
		return
	}

	c.stamp(key, &ent)
	c.store(context.WithoutCancel(ctx), ent)
	metrics.ObserveImageCache(edgeMiss)
	c.stats.Observe(edgeMiss, len(ent.Body))
	writeEntry(w, ent, edgeMiss)
}

func (c *ImageCache) fetch(ctx context.Context, key string, in http.Header) (cachestore.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key, nil)
	if err != nil {
		return cachestore.Entry{}, err
	}
	if in != nil {
		copyHeaders(req.Header, in)
	}
	// The entry is stored under the full URL, so only whole bodies are fetched.
	req.Header.Del("Range")
	req.Header.Del("If-Range")
	req.Header.Set("Accept", preferredImageAccept)
	req.Header.Set("Accept-Encoding", "identity")
	return fetchEntry(c.client, req)
}

// admit reports whether a response may enter the image namespace: a complete
// 2xx whose content type is image/*, within the optional size bound.
func (c *ImageCache) admit(ent cachestore.Entry) bool {
	if ent.Status < 200 || ent.Status >= 300 || ent.Status == http.StatusPartialContent {
		return false
	}
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(ent.ContentType)), "image/") {
		return false
	}
	return c.maxBytes <= 0 || int64(len(ent.Body)) <= c.maxBytes
}

func (c *ImageCache) stamp(key string, ent *cachestore.Entry) {
	ent.Key = key
	ent.CachedAt = c.clock.Now().UnixMilli()
	if ent.Header != nil {
		ent.Header.Del("Set-Cookie")
	}
}

// store writes the entry and runs the eviction pass. Failures are logged and
// never reach the caller.
func (c *ImageCache) store(ctx context.Context, ent cachestore.Entry) {
	if err := c.cache.Put(ctx, ent); err != nil {
		c.warnLog.Warn("image cache write failed", zap.String("key", ent.Key), zap.Error(err))
		return
	}
	n, err := c.eviction.Enforce(ctx, c.cache)
	metrics.ObserveEvictions(n)
	if err != nil {
		c.warnLog.Warn("image cache eviction failed", zap.Int("evicted", n), zap.Error(err))
	}
}

// refreshAsync schedules one detached refresh for key. The goroutine outlives
// the request; Wait blocks until it settles.
func (c *ImageCache) refreshAsync(key string) {
	select {
	case c.bgSem <- struct{}{}:
	default:
		metrics.ObserveRefresh("skipped")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() { <-c.bgSem }()
		defer cancel()

		c.refreshOnce(ctx, key)
	}()
}

// refreshOnce overwrites the entry only with a fresh cacheable image. Anything
// else leaves the stale entry in place.
func (c *ImageCache) refreshOnce(ctx context.Context, key string) {
	ent, err := c.fetch(ctx, key, nil)
	if err != nil {
		metrics.ObserveRefresh("failed")
		c.warnLog.Warn("image refresh failed", zap.String("key", key), zap.Error(err))
		return
	}
	if !c.admit(ent) {
		metrics.ObserveRefresh("failed")
		c.warnLog.Warn("image refresh not cacheable",
			zap.String("key", key),
			zap.Int("status", ent.Status),
			zap.String("content_type", ent.ContentType))
		return
	}
	c.stamp(key, &ent)
	c.store(ctx, ent)
	metrics.ObserveRefresh("updated")
}

// Wait blocks until every scheduled refresh has finished.
func (c *ImageCache) Wait() {
	c.wg.Wait()
}
