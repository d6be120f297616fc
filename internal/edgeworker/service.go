package edgeworker

import (
	"context"
	"io"
	"net/http"
	"net/http/httputil"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"edgeworker/internal/cachestore"
	"edgeworker/internal/metrics"
)

type Service struct {
	cfg Config
	log *zap.Logger

	httpClient *http.Client
	clock      Clock

	storage    cachestore.Storage
	lifecycle  *Lifecycle
	resolver   resolver
	classifier *Classifier

	passthrough http.Handler
	crawler     *CrawlerProxy
	images      atomic.Pointer[ImageCache]

	stopCh chan struct{}
	wg     sync.WaitGroup

	stats *statsCollector
}

type Option func(*Service)

func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.httpClient = c }
}

// NewService wires the interception pipeline on top of storage. The service
// owns storage and closes it in Close. cfg must come from LoadConfig or
// ParseConfig.
func NewService(cfg Config, storage cachestore.Storage, log *zap.Logger, opts ...Option) (*Service, error) {
	if cfg.Site.originURL == nil {
		return nil, invalid("config is not normalized, load it with LoadConfig or ParseConfig")
	}
	if storage == nil {
		return nil, invalid("storage is required")
	}

	s := &Service{
		cfg:        cfg,
		log:        log,
		httpClient: &http.Client{Timeout: cfg.HTTP.timeoutDur},
		clock:      systemClock{},
		storage:    storage,
		lifecycle:  NewLifecycle(storage, cfg.Cache, log),
		resolver:   resolver{site: cfg.Site.originURL, upstream: cfg.Site.upstreamURL},
		classifier: NewClassifier(cfg.Classifier, cfg.Site.originURL),
		stopCh:     make(chan struct{}),
		stats:      newStatsCollector(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.passthrough = s.newPassthrough()
	if cfg.Renderer.endpointURL != nil {
		s.crawler = newCrawlerProxy(s.httpClient, cfg.Renderer.endpointURL, s.passthrough, log)
	}

	if every := cfg.Logging.statsEveryDur; every > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(every)
		}()
	}
	return s, nil
}

// Install opens the current namespaces. Until Activate the service forwards
// everything untouched.
func (s *Service) Install(ctx context.Context) error {
	if err := s.lifecycle.Install(ctx); err != nil {
		return err
	}
	s.images.Store(newImageCache(s.lifecycle.Images(), s.httpClient, s.clock, s.cfg.Cache, s.log, s.stats))
	return nil
}

// Activate starts interception and purges namespaces left by other versions.
func (s *Service) Activate(ctx context.Context) ([]string, error) {
	return s.lifecycle.Activate(ctx)
}

// Active reports whether requests are being intercepted.
func (s *Service) Active() bool {
	return s.lifecycle.Active()
}

func (s *Service) Close() error {
	close(s.stopCh)
	s.wg.Wait()
	if images := s.images.Load(); images != nil {
		images.Wait()
	}
	return s.storage.Close()
}

func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

func (s *Service) handle(w http.ResponseWriter, r *http.Request) {
	if !s.lifecycle.Active() {
		s.proxyPass(w, r, edgeBypass)
		return
	}

	target := s.resolver.target(r)
	class := s.classifier.Classify(target, r.UserAgent())
	metrics.ObserveRequest(string(class))

	switch class {
	case ClassIgnore:
		s.passthrough.ServeHTTP(w, r)
		return
	case ClassCrawlerContent:
		if s.crawler != nil && r.Method == http.MethodGet {
			s.crawler.Serve(w, r, target)
			return
		}
	case ClassCacheableImage:
		if images := s.images.Load(); images != nil && r.Method == http.MethodGet {
			images.Serve(w, r, target)
			return
		}
	}
	s.proxyPass(w, r, edgeBypass)
}

func (s *Service) proxyPass(w http.ResponseWriter, r *http.Request, edge string) {
	setEdgeHeaders(w.Header(), edge)
	s.passthrough.ServeHTTP(w, r)
}

// newPassthrough forwards a request to its own destination: the upstream for
// the site, the requested host for everything else. The Host header is kept.
func (s *Service) newPassthrough() *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL = s.resolver.outbound(s.resolver.target(pr.In))
			pr.SetXForwarded()
		},
		Transport: s.httpClient.Transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.log.Debug("passthrough failed", zap.String("host", r.Host), zap.String("path", r.URL.Path), zap.Error(err))
			setEdgeHeaders(w.Header(), edgeBadGateway)
			http.Error(w, "bad gateway", http.StatusBadGateway)
		},
	}
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			images := s.lifecycle.Images()
			if images == nil {
				continue
			}
			keys, err := images.Keys(context.Background())
			if err != nil {
				s.log.Warn("stats: list image keys", zap.Error(err))
				continue
			}
			ss := s.stats.Snapshot()
			s.log.Info("image cache stats",
				zap.Int("entries", len(keys)),
				zap.Uint64("hits", ss.Hits),
				zap.Uint64("misses", ss.Misses),
				zap.Uint64("bypassed", ss.Bypassed),
				zap.String("hit_ratio", strconv.FormatFloat(ss.HitRatio(), 'f', 2, 64)),
				zap.String("resp_min", formatBytes(ss.MinBytes)),
				zap.String("resp_avg", formatBytes(ss.AvgBytes)),
				zap.String("resp_max", formatBytes(ss.MaxBytes)),
			)
		}
	}
}

// OpenStorage builds the cache backend named by cfg.Backend.
func OpenStorage(ctx context.Context, cfg CacheConfig) (cachestore.Storage, error) {
	switch cfg.Backend {
	case "memory":
		return cachestore.NewMemory(), nil
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeNetwork, "create gcs client")
		}
		st, err := cachestore.NewGCS(client, cachestore.GCSConfig{Bucket: cfg.GCSBucket, Prefix: cfg.GCSPrefix})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return st, nil
	case "leveldb", "":
		path := cfg.Path
		if path == "" {
			path = "./data/leveldb"
		}
		return cachestore.OpenLevelDB(path)
	default:
		return nil, invalid("cache.backend: unknown backend %q", cfg.Backend)
	}
}

func writeEntry(w http.ResponseWriter, ent cachestore.Entry, edge string) {
	for k, vs := range ent.Header {
		if strings.EqualFold(k, headerEdge) || strings.EqualFold(k, headerEdgeCachedAt) {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if ent.CachedAt > 0 {
		w.Header().Set(headerEdgeCachedAt, time.UnixMilli(ent.CachedAt).UTC().Format(http.TimeFormat))
	}
	setEdgeHeaders(w.Header(), edge)
	w.WriteHeader(ent.Status)
	_, _ = w.Write(ent.Body)
}

func setEdgeHeaders(h http.Header, edge string) {
	if edge == "" {
		return
	}
	h.Set(headerEdge, edge)
	// Custom headers are invisible to browser JS under CORS unless exposed.
	ensureExposedHeader(h, headerEdge)
}

func ensureExposedHeader(h http.Header, name string) {
	if name == "" {
		return
	}

	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}

	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		part = strings.TrimSpace(part)
		if part == "*" || strings.EqualFold(part, name) {
			return
		}
	}
	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}

// hopHeaders are connection-scoped and never forwarded or stored.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func isHopHeader(k string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(k, h) {
			return true
		}
	}
	return false
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") || isHopHeader(k) {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

// fetchEntry performs req and buffers the whole response. Any status is a
// successful fetch; only transport and read failures are errors.
func fetchEntry(client *http.Client, req *http.Request) (cachestore.Entry, error) {
	resp, err := client.Do(req)
	if err != nil {
		return cachestore.Entry{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cachestore.Entry{}, err
	}

	hdr := make(http.Header, len(resp.Header))
	copyHeaders(hdr, resp.Header)
	hdr.Del("Content-Length")

	return cachestore.Entry{
		Status:      resp.StatusCode,
		StatusText:  strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "),
		ContentType: resp.Header.Get("Content-Type"),
		Header:      hdr,
		Body:        body,
	}, nil
}
