package edgeworker

import (
	"net/http"
	"net/url"
	"strings"
)

// resolver maps an inbound request to the URL the client asked for and to the
// URL the edge actually connects to.
type resolver struct {
	site     *url.URL
	upstream *url.URL
}

// target reconstructs the public URL of the request. Proxy-form requests carry
// it verbatim; origin-form requests are rebuilt from Host.
func (rs resolver) target(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		u := *r.URL
		return &u
	}
	host := r.Host
	if host == "" {
		host = rs.site.Host
	}
	return &url.URL{
		Scheme:   rs.schemeFor(r, host),
		Host:     strings.ToLower(host),
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
}

func (rs resolver) schemeFor(r *http.Request, host string) string {
	if p := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto"))); p == "http" || p == "https" {
		return p
	}
	if r.TLS != nil {
		return "https"
	}
	if strings.EqualFold(host, rs.site.Host) {
		return rs.site.Scheme
	}
	return "https"
}

func (rs resolver) isSite(target *url.URL) bool {
	return strings.EqualFold(target.Host, rs.site.Host)
}

// outbound swaps the site's public origin for its upstream. Other hosts are
// contacted directly.
func (rs resolver) outbound(target *url.URL) *url.URL {
	out := *target
	if !rs.isSite(target) {
		return &out
	}
	out.Scheme = rs.upstream.Scheme
	out.Host = rs.upstream.Host
	if base := strings.TrimRight(rs.upstream.Path, "/"); base != "" {
		out.Path = base + target.Path
		out.RawPath = ""
	}
	return &out
}
