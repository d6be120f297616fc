package edgeworker

import "time"

// Class is the handling path chosen for an inbound request.
type Class string

const (
	// ClassIgnore marks ad/analytics/tag-manager traffic. It is forwarded untouched
	// and never cached or rewritten.
	ClassIgnore Class = "ignore"
	// ClassCrawlerContent marks an article page requested by a known bot.
	ClassCrawlerContent Class = "crawler-content"
	// ClassCacheableImage marks an object fetched from the storage origin.
	ClassCacheableImage Class = "cacheable-image"
	// ClassPassthrough is everything else.
	ClassPassthrough Class = "passthrough"
)

const (
	// DefaultCapacity bounds the number of entries in the image namespace.
	DefaultCapacity = 100
	// DefaultMaxAge is how long an image entry is served before a hit triggers a
	// background refresh.
	DefaultMaxAge = 7 * 24 * time.Hour

	// preferredImageAccept widens Accept on origin image fetches so the storage
	// provider can answer with a smaller modern format.
	preferredImageAccept = "image/webp,image/avif,image/*,*/*;q=0.8"

	assetsNamespace = "assets"
	imagesNamespace = "images"
)

// Outcome markers written to the X-Edge response header.
const (
	edgeHit             = "hit"
	edgeMiss            = "miss"
	edgeBypass          = "bypass"
	edgeUnavailable     = "unavailable"
	edgeCrawler         = "crawler"
	edgeCrawlerFallback = "crawler-fallback"
	edgeBadGateway      = "bad-gateway"
)

const (
	headerEdge         = "X-Edge"
	headerEdgeCachedAt = "X-Edge-Cached-At"
	// headerForwardedUA carries the crawler's identity to the meta tag renderer.
	headerForwardedUA = "X-Forwarded-User-Agent"
)

// Clock returns the current time. Tests inject a fixed clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
