package edgeworker

import (
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"edgeworker/internal/metrics"
)

// CrawlerProxy hands article requests from bots to the meta tag renderer.
type CrawlerProxy struct {
	client   *http.Client
	endpoint *url.URL
	fallback http.Handler
	warnLog  *rateLimitedLogger
}

func newCrawlerProxy(client *http.Client, endpoint *url.URL, fallback http.Handler, log *zap.Logger) *CrawlerProxy {
	return &CrawlerProxy{
		client:   client,
		endpoint: endpoint,
		fallback: fallback,
		warnLog:  newRateLimitedLogger(log, time.Minute),
	}
}

// renderURL is the endpoint with the article path set as ?path=. Other query
// parameters on the endpoint are kept.
func (p *CrawlerProxy) renderURL(target *url.URL) string {
	u := *p.endpoint
	q := u.Query()
	q.Set("path", target.Path)
	u.RawQuery = q.Encode()
	return u.String()
}

// Serve forwards the crawler's request to the renderer and relays whatever it
// answers, any status included. Only a transport failure falls back to the
// original request.
func (p *CrawlerProxy) Serve(w http.ResponseWriter, r *http.Request, target *url.URL) {
	ua := r.UserAgent()

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, p.renderURL(target), nil)
	if err != nil {
		p.serveFallback(w, r, target, err)
		return
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set(headerForwardedUA, ua)

	ent, err := fetchEntry(p.client, req)
	if err != nil {
		p.serveFallback(w, r, target, err)
		return
	}
	metrics.ObserveCrawlerProxy("rendered")
	writeEntry(w, ent, edgeCrawler)
}

func (p *CrawlerProxy) serveFallback(w http.ResponseWriter, r *http.Request, target *url.URL, err error) {
	ua := r.UserAgent()

	p.warnLog.Warn("meta tag renderer unreachable, serving original page",
		zap.String("path", target.Path),
		zap.String("user_agent", ua),
		zap.Error(err))
	metrics.ObserveCrawlerProxy("fallback")
	setEdgeHeaders(w.Header(), edgeCrawlerFallback)
	p.fallback.ServeHTTP(w, r)
}
