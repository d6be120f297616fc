package edgeworker

import (
	"net/url"
	"strings"
)

var defaultAdHosts = []string{
	"googlesyndication",
	"googleadservices",
	"doubleclick",
	"google-analytics",
	"googletagmanager",
	"googletagservices",
	"adservice.google",
	"pagead2",
	"analytics.google",
}

var defaultBots = []string{
	"googlebot",
	"bingbot",
	"yandex",
	"baiduspider",
	"duckduckbot",
	"slurp",
	"facebookexternalhit",
	"facebot",
	"twitterbot",
	"linkedinbot",
	"whatsapp",
	"telegrambot",
	"slackbot",
	"discordbot",
	"pinterest",
	"redditbot",
	"applebot",
	"embedly",
	"skypeuripreview",
	"vkshare",
	"quora link preview",
	"tumblr",
}

const (
	defaultStorageHost = "supabase.co"
	defaultStoragePath = "/storage/v1/object/"
)

// Classifier assigns every request exactly one Class. Rules are evaluated in
// order and the first match wins, so the result is total and exclusive.
type Classifier struct {
	adHosts     []string
	bots        []string
	storageHost string
	storagePath string
	siteOrigin  string
}

func NewClassifier(cfg ClassifierConfig, site *url.URL) *Classifier {
	return &Classifier{
		adHosts:     lowerAll(cfg.AdHosts),
		bots:        lowerAll(cfg.Bots),
		storageHost: strings.ToLower(strings.TrimSpace(cfg.StorageHost)),
		storagePath: strings.TrimSpace(cfg.StoragePath),
		siteOrigin:  originOf(site),
	}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func originOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

func (c *Classifier) Classify(target *url.URL, userAgent string) Class {
	host := strings.ToLower(target.Hostname())

	if containsAny(host, c.adHosts) {
		return ClassIgnore
	}
	if c.IsCrawler(userAgent) && originOf(target) == c.siteOrigin && isArticlePath(target.Path) {
		return ClassCrawlerContent
	}
	if c.storageHost != "" && strings.Contains(host, c.storageHost) && strings.Contains(target.Path, c.storagePath) {
		return ClassCacheableImage
	}
	return ClassPassthrough
}

// IsCrawler reports whether the user agent carries a known bot signature.
func (c *Classifier) IsCrawler(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	if ua == "" {
		return false
	}
	return containsAny(ua, c.bots)
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}

// isArticlePath reports whether the path has at least two non-empty segments,
// the /category/slug shape.
func isArticlePath(path string) bool {
	n := 0
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			n++
		}
	}
	return n >= 2
}
