// Package metrics exposes Prometheus collectors for the edge worker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	edgeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_requests_total",
			Help: "Total number of intercepted requests, labeled by classification.",
		},
		[]string{"class"},
	)

	imageCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_image_cache_total",
			Help: "Image cache lookups, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	imageCacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edge_image_cache_evictions_total",
			Help: "Entries removed from the image cache by the capacity bound.",
		},
	)

	imageRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_image_refresh_total",
			Help: "Background refreshes of stale image entries, labeled by result.",
		},
		[]string{"result"},
	)

	crawlerProxyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_crawler_proxy_total",
			Help: "Crawler requests handed to the meta tag renderer, labeled by result.",
		},
		[]string{"result"},
	)

	purgedNamespacesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edge_lifecycle_purged_namespaces_total",
			Help: "Cache namespaces deleted on activation because their version is stale.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest counts one classified request.
func ObserveRequest(class string) {
	edgeRequestsTotal.WithLabelValues(class).Inc()
}

// ObserveImageCache counts one image cache outcome (hit, stale, miss, bypass, unavailable).
func ObserveImageCache(outcome string) {
	imageCacheTotal.WithLabelValues(outcome).Inc()
}

// ObserveEvictions adds n evicted entries.
func ObserveEvictions(n int) {
	if n > 0 {
		imageCacheEvictionsTotal.Add(float64(n))
	}
}

// ObserveRefresh counts one background refresh result (updated, failed, skipped).
func ObserveRefresh(result string) {
	imageRefreshTotal.WithLabelValues(result).Inc()
}

// ObserveCrawlerProxy counts one crawler proxy result (rendered or fallback).
func ObserveCrawlerProxy(result string) {
	crawlerProxyTotal.WithLabelValues(result).Inc()
}

// ObservePurge adds n purged namespaces.
func ObservePurge(n int) {
	if n > 0 {
		purgedNamespacesTotal.Add(float64(n))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
