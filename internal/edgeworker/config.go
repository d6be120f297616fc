package edgeworker

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Site struct {
		// Origin is the public origin of the site, e.g. https://example.com.
		Origin string `yaml:"origin"`
		// Upstream is where requests for Origin are actually sent. Defaults to Origin.
		Upstream string `yaml:"upstream"`

		originURL   *url.URL
		upstreamURL *url.URL
	} `yaml:"site"`

	Cache CacheConfig `yaml:"cache"`

	Classifier ClassifierConfig `yaml:"classifier"`

	Renderer RendererConfig `yaml:"renderer"`

	Logging struct {
		Development bool   `yaml:"development"`
		StatsEvery  string `yaml:"statsEvery"`

		statsEveryDur time.Duration
	} `yaml:"logging"`

	HTTP struct {
		Timeout string `yaml:"timeout"`

		timeoutDur time.Duration
	} `yaml:"http"`
}

type CacheConfig struct {
	// Version names the current namespaces as assets-<version> and
	// images-<version> unless they are set explicitly.
	Version         string `yaml:"version"`
	AssetsNamespace string `yaml:"assetsNamespace"`
	ImagesNamespace string `yaml:"imagesNamespace"`

	// Backend is one of leveldb, memory or gcs.
	Backend   string `yaml:"backend"`
	Path      string `yaml:"path"`
	GCSBucket string `yaml:"gcsBucket"`
	GCSPrefix string `yaml:"gcsPrefix"`

	Capacity           int    `yaml:"capacity"`
	MaxAge             string `yaml:"maxAge"`
	MaxEntrySize       string `yaml:"maxEntrySize"`
	RefreshConcurrency int    `yaml:"refreshConcurrency"`

	maxAgeDur     time.Duration
	maxEntryBytes int64
}

type ClassifierConfig struct {
	AdHosts     []string `yaml:"adHosts"`
	Bots        []string `yaml:"bots"`
	StorageHost string   `yaml:"storageHost"`
	StoragePath string   `yaml:"storagePath"`
}

type RendererConfig struct {
	// Endpoint receives crawler requests as ?path=<article path>. Defaults to the
	// in-process renderer when Source is set. With neither, crawlers get the
	// normal page.
	Endpoint string `yaml:"endpoint"`
	// Source is postgres, file, or empty when the in-process renderer is disabled.
	Source             string `yaml:"source"`
	DSN                string `yaml:"dsn"`
	Table              string `yaml:"table"`
	File               string `yaml:"file"`
	SiteName           string `yaml:"siteName"`
	DefaultImage       string `yaml:"defaultImage"`
	DefaultDescription string `yaml:"defaultDescription"`

	endpointURL *url.URL
}

func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, errors.Wrap(err, errors.CodeInvalidConfig, "parse config")
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func invalid(format string, args ...any) error {
	return errors.Newf(errors.CodeInvalidConfig, format, args...)
}

// normalize applies defaults and compiles durations, sizes and URLs.
func (cfg *Config) normalize() error {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Site.Origin == "" {
		return invalid("site.origin is required")
	}
	origin, err := parseOrigin(cfg.Site.Origin)
	if err != nil {
		return invalid("site.origin: %v", err)
	}
	cfg.Site.originURL = origin
	cfg.Site.Origin = origin.String()

	if cfg.Site.Upstream == "" {
		cfg.Site.Upstream = cfg.Site.Origin
	}
	upstream, err := url.Parse(strings.TrimRight(cfg.Site.Upstream, "/"))
	if err != nil || (upstream.Scheme != "http" && upstream.Scheme != "https") || upstream.Host == "" {
		return invalid("site.upstream: must be an absolute http(s) URL, got %q", cfg.Site.Upstream)
	}
	cfg.Site.upstreamURL = upstream

	if err := cfg.Cache.normalize(); err != nil {
		return err
	}
	cfg.Classifier.normalize()

	if cfg.Renderer.Endpoint == "" && cfg.Renderer.Source != "" {
		cfg.Renderer.Endpoint = fmt.Sprintf("http://127.0.0.1:%d/_edge/meta", cfg.Server.Port)
	}
	if cfg.Renderer.Endpoint != "" {
		ep, err := url.Parse(cfg.Renderer.Endpoint)
		if err != nil || !ep.IsAbs() {
			return invalid("renderer.endpoint: must be an absolute URL, got %q", cfg.Renderer.Endpoint)
		}
		cfg.Renderer.endpointURL = ep
	}
	switch cfg.Renderer.Source {
	case "":
	case "postgres":
		if cfg.Renderer.DSN == "" {
			return invalid("renderer.dsn is required for the postgres source")
		}
	case "file":
		if cfg.Renderer.File == "" {
			return invalid("renderer.file is required for the file source")
		}
	default:
		return invalid("renderer.source: unknown source %q", cfg.Renderer.Source)
	}

	if cfg.Logging.StatsEvery != "" {
		d, err := time.ParseDuration(cfg.Logging.StatsEvery)
		if err != nil {
			return invalid("logging.statsEvery: %v", err)
		}
		cfg.Logging.statsEveryDur = d
	}

	cfg.HTTP.timeoutDur = 30 * time.Second
	if cfg.HTTP.Timeout != "" {
		d, err := time.ParseDuration(cfg.HTTP.Timeout)
		if err != nil {
			return invalid("http.timeout: %v", err)
		}
		cfg.HTTP.timeoutDur = d
	}
	return nil
}

func (c *CacheConfig) normalize() error {
	if c.Version == "" {
		c.Version = "v1"
	}
	if c.AssetsNamespace == "" {
		c.AssetsNamespace = assetsNamespace + "-" + c.Version
	}
	if c.ImagesNamespace == "" {
		c.ImagesNamespace = imagesNamespace + "-" + c.Version
	}
	for _, ns := range []string{c.AssetsNamespace, c.ImagesNamespace} {
		if strings.ContainsAny(ns, "/\x00") {
			return invalid("cache namespace %q contains a reserved character", ns)
		}
	}
	if c.AssetsNamespace == c.ImagesNamespace {
		return invalid("cache.assetsNamespace and cache.imagesNamespace must differ")
	}
	if c.Backend == "" {
		c.Backend = "leveldb"
	}
	switch c.Backend {
	case "leveldb":
		if c.Path == "" {
			c.Path = "./data/leveldb"
		}
	case "memory":
	case "gcs":
		if c.GCSBucket == "" {
			return invalid("cache.gcsBucket is required for the gcs backend")
		}
	default:
		return invalid("cache.backend: unknown backend %q", c.Backend)
	}

	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.Capacity < 0 {
		return invalid("cache.capacity must be positive")
	}
	c.maxAgeDur = DefaultMaxAge
	if c.MaxAge != "" {
		d, err := time.ParseDuration(c.MaxAge)
		if err != nil {
			return invalid("cache.maxAge: %v", err)
		}
		c.maxAgeDur = d
	}
	if c.MaxEntrySize != "" {
		n, err := parseBytes(c.MaxEntrySize)
		if err != nil {
			return invalid("cache.maxEntrySize: %v", err)
		}
		c.maxEntryBytes = n
	}
	if c.RefreshConcurrency <= 0 {
		c.RefreshConcurrency = 32
	}
	return nil
}

func (c *ClassifierConfig) normalize() {
	if len(c.AdHosts) == 0 {
		c.AdHosts = append([]string(nil), defaultAdHosts...)
	}
	if len(c.Bots) == 0 {
		c.Bots = append([]string(nil), defaultBots...)
	}
	if c.StorageHost == "" {
		c.StorageHost = defaultStorageHost
	}
	if c.StoragePath == "" {
		c.StoragePath = defaultStoragePath
	}
}

func parseOrigin(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	return &url.URL{Scheme: strings.ToLower(u.Scheme), Host: strings.ToLower(u.Host)}, nil
}
