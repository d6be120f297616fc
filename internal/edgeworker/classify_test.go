package edgeworker

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	googlebotUA = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
	firefoxUA   = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	var cfg ClassifierConfig
	cfg.normalize()
	site, err := parseOrigin("https://example.com")
	require.NoError(t, err)
	return NewClassifier(cfg, site)
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestClassify(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t)
	cases := []struct {
		name string
		url  string
		ua   string
		want Class
	}{
		{"crawler on article", "https://example.com/news/some-article", googlebotUA, ClassCrawlerContent},
		{"human on article", "https://example.com/news/some-article", firefoxUA, ClassPassthrough},
		{"crawler on home page", "https://example.com/", googlebotUA, ClassPassthrough},
		{"crawler on single segment", "https://example.com/news", googlebotUA, ClassPassthrough},
		{"crawler with empty segments", "https://example.com//news//", googlebotUA, ClassPassthrough},
		{"crawler on deep path", "https://example.com/news/2024/slug", googlebotUA, ClassCrawlerContent},
		{"crawler on other origin", "https://other.com/news/some-article", googlebotUA, ClassPassthrough},
		{"crawler on other scheme", "http://example.com/news/some-article", googlebotUA, ClassPassthrough},
		{"bot match is case insensitive", "https://example.com/a/b", "FACEBOOKEXTERNALHIT/1.1", ClassCrawlerContent},
		{"storage image", "https://abc.supabase.co/storage/v1/object/public/covers/a.png", firefoxUA, ClassCacheableImage},
		{"storage image with query", "https://abc.supabase.co/storage/v1/object/public/a.png?width=300", "", ClassCacheableImage},
		{"storage non object path", "https://abc.supabase.co/rest/v1/articles", firefoxUA, ClassPassthrough},
		{"storage image from a bot", "https://abc.supabase.co/storage/v1/object/public/a/b.png", googlebotUA, ClassCacheableImage},
		{"analytics", "https://www.google-analytics.com/g/collect?v=2", firefoxUA, ClassIgnore},
		{"tag manager", "https://www.googletagmanager.com/gtag/js?id=G-1", firefoxUA, ClassIgnore},
		{"ads", "https://pagead2.googlesyndication.com/pagead/js/adsbygoogle.js", firefoxUA, ClassIgnore},
		{"third party", "https://fonts.googleapis.com/css2?family=Inter", firefoxUA, ClassPassthrough},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, c.Classify(mustURL(t, tc.url), tc.ua))
		})
	}
}

func TestClassifyIgnoreWinsRegardlessOfPathShape(t *testing.T) {
	t.Parallel()

	c := NewClassifier(ClassifierConfig{
		AdHosts:     []string{"doubleclick"},
		Bots:        []string{"googlebot"},
		StorageHost: "doubleclick.net",
		StoragePath: "/storage/v1/object/",
	}, &url.URL{Scheme: "https", Host: "ad.doubleclick.net"})

	for _, raw := range []string{
		"https://ad.doubleclick.net/news/article",
		"https://ad.doubleclick.net/storage/v1/object/public/a.png",
		"https://ad.doubleclick.net/",
	} {
		require.Equal(t, ClassIgnore, c.Classify(mustURL(t, raw), googlebotUA), raw)
	}
}

func TestIsCrawler(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t)
	require.True(t, c.IsCrawler("Twitterbot/1.0"))
	require.True(t, c.IsCrawler("WhatsApp/2.23.20.0"))
	require.True(t, c.IsCrawler("Mozilla/5.0 (compatible; Discordbot/2.0; +https://discordapp.com)"))
	require.False(t, c.IsCrawler(firefoxUA))
	require.False(t, c.IsCrawler(""))
}

func TestIsArticlePath(t *testing.T) {
	t.Parallel()

	require.True(t, isArticlePath("/category/slug"))
	require.True(t, isArticlePath("category/slug/"))
	require.False(t, isArticlePath("/"))
	require.False(t, isArticlePath(""))
	require.False(t, isArticlePath("///slug"))
}
