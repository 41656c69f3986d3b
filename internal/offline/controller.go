package offline

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"
)

// requestClass is the outcome of classifying one incoming request. First
// match wins, in the order below.
type requestClass int

const (
	classBypass requestClass = iota
	classNavigation
	classImage
	classStatic
	classOther
)

const defaultNetworkTimeout = 3 * time.Second

// placeholderImage is returned when an image can be fetched neither from
// cache nor network, so the page never shows a broken image.
const placeholderImage = `<svg xmlns="http://www.w3.org/2000/svg" width="640" height="360" viewBox="0 0 640 360"><rect width="640" height="360" fill="#e8e4de"/><text x="320" y="186" font-family="sans-serif" font-size="20" fill="#8a8378" text-anchor="middle">image unavailable</text></svg>`

const offlineBody = "You appear to be offline. Clearpath Coaching will be back as soon as your connection returns."

// Config wires a Controller.
type Config struct {
	// VersionTag names the current cache generation, e.g. "v3". Partitions
	// of other generations are deleted on Activate.
	VersionTag string
	// Transport performs the actual network fetches.
	Transport http.RoundTripper
	// Host is the site's own host; responses for other hosts are never
	// written into the dynamic cache.
	Host string
	// StaticManifest and ImageManifest are the critical URLs precached
	// during Install.
	StaticManifest []string
	ImageManifest  []string
	// NetworkTimeout bounds the network race for unclassified requests.
	NetworkTimeout time.Duration
	Storage        *Storage
}

// Controller fronts the public site with per-class cache strategies.
type Controller struct {
	tag       string
	transport http.RoundTripper
	host      string
	storage   *Storage
	static    []string
	images    []string
	timeout   time.Duration
}

func New(cfg Config) *Controller {
	if cfg.Storage == nil {
		cfg.Storage = NewStorage()
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	if cfg.NetworkTimeout <= 0 {
		cfg.NetworkTimeout = defaultNetworkTimeout
	}
	if cfg.VersionTag == "" {
		cfg.VersionTag = "v1"
	}
	return &Controller{
		tag:       cfg.VersionTag,
		transport: cfg.Transport,
		host:      cfg.Host,
		storage:   cfg.Storage,
		static:    cfg.StaticManifest,
		images:    cfg.ImageManifest,
		timeout:   cfg.NetworkTimeout,
	}
}

func (c *Controller) staticCache() *Cache  { return c.storage.Open(c.tag + "-static") }
func (c *Controller) dynamicCache() *Cache { return c.storage.Open(c.tag + "-dynamic") }
func (c *Controller) imageCache() *Cache   { return c.storage.Open(c.tag + "-images") }

// Install precaches the critical static and image manifests. All-or-nothing:
// any failed prefetch fails the installation and nothing is committed.
func (c *Controller) Install(ctx context.Context) error {
	staged := make(map[string]map[string]*CachedResponse)
	manifests := []struct {
		cache string
		urls  []string
	}{
		{c.tag + "-static", c.static},
		{c.tag + "-images", c.images},
	}
	for _, manifest := range manifests {
		staged[manifest.cache] = make(map[string]*CachedResponse)
		for _, rawURL := range manifest.urls {
			response, err := c.fetchURL(ctx, rawURL)
			if err != nil {
				return fmt.Errorf("precache %s: %w", rawURL, err)
			}
			if !response.ok() {
				return fmt.Errorf("precache %s: status %d", rawURL, response.Status)
			}
			staged[manifest.cache][rawURL] = response
		}
	}
	for name, entries := range staged {
		cache := c.storage.Open(name)
		for key, response := range entries {
			cache.Put(key, response)
		}
	}
	return nil
}

// Activate deletes every cache partition that does not belong to the current
// generation, reclaiming space from prior deploys.
func (c *Controller) Activate() {
	prefix := c.tag + "-"
	for _, name := range c.storage.Names() {
		if !strings.HasPrefix(name, prefix) {
			log.Printf("offline: dropping stale cache generation %s", name)
			c.storage.Delete(name)
		}
	}
}

func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch classify(r) {
	case classBypass:
		c.passThrough(w, r)
	case classNavigation:
		c.serveNavigation(w, r)
	case classImage:
		c.serveCacheFirst(w, r, c.imageCache(), c.imageFallback)
	case classStatic:
		c.serveCacheFirst(w, r, c.staticCache(), nil)
	default:
		c.serveNetworkFirst(w, r)
	}
}

func classify(r *http.Request) requestClass {
	if r.Method != http.MethodGet {
		return classBypass
	}
	if scheme := r.URL.Scheme; scheme != "" && scheme != "http" && scheme != "https" {
		return classBypass
	}
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" ||
		strings.Contains(r.Header.Get("Accept"), "text/html") {
		return classNavigation
	}
	switch r.Header.Get("Sec-Fetch-Dest") {
	case "image":
		return classImage
	case "style", "script", "font":
		return classStatic
	}
	switch strings.ToLower(path.Ext(r.URL.Path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico", ".avif":
		return classImage
	case ".css", ".js", ".mjs", ".woff", ".woff2", ".ttf":
		return classStatic
	}
	return classOther
}

// passThrough forwards the request untouched, with no caching either way.
func (c *Controller) passThrough(w http.ResponseWriter, r *http.Request) {
	response, err := c.fetch(r.Context(), r)
	if err != nil {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	writeCached(w, response)
}

// serveNavigation is network-first: successful page loads are written through
// to the dynamic cache; offline falls back to the cached root document and,
// failing that, a synthesized offline page. The user never sees a raw
// network error for a navigation.
func (c *Controller) serveNavigation(w http.ResponseWriter, r *http.Request) {
	response, err := c.fetch(r.Context(), r)
	if err == nil {
		if response.ok() {
			c.dynamicCache().Put(cacheKey(r), response)
		}
		writeCached(w, response)
		return
	}

	if cached, ok := c.dynamicCache().Get("/"); ok {
		writeCached(w, cached)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = io.WriteString(w, offlineBody)
}

// serveCacheFirst serves images and static assets: a cache hit skips the
// network entirely; a miss fetches and stores on success. fallback, when
// set, substitutes for a total failure.
func (c *Controller) serveCacheFirst(w http.ResponseWriter, r *http.Request, cache *Cache, fallback func(http.ResponseWriter)) {
	key := cacheKey(r)
	if cached, ok := cache.Get(key); ok {
		writeCached(w, cached)
		return
	}

	response, err := c.fetch(r.Context(), r)
	if err != nil {
		if fallback != nil {
			fallback(w)
			return
		}
		http.Error(w, "asset unavailable", http.StatusBadGateway)
		return
	}
	if response.ok() {
		cache.Put(key, response)
	}
	writeCached(w, response)
}

func (c *Controller) imageFallback(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, placeholderImage)
}

// serveNetworkFirst handles everything else: race the network against a
// fixed timeout, fall back to whatever is cached for the exact request, and
// only cache same-origin successes so third-party calls cannot grow the
// dynamic partition without bound.
func (c *Controller) serveNetworkFirst(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
	defer cancel()

	key := cacheKey(r)
	response, err := c.fetch(ctx, r)
	if err == nil {
		if response.ok() && c.sameOrigin(r) {
			c.dynamicCache().Put(key, response)
		}
		writeCached(w, response)
		return
	}

	if cached, ok := c.dynamicCache().Get(key); ok {
		writeCached(w, cached)
		return
	}
	if ctx.Err() != nil {
		http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
		return
	}
	http.Error(w, "upstream unavailable", http.StatusBadGateway)
}

func (c *Controller) sameOrigin(r *http.Request) bool {
	host := r.URL.Host
	if host == "" {
		return true
	}
	if c.host != "" {
		return host == c.host
	}
	return host == r.Host
}

func (c *Controller) fetch(ctx context.Context, r *http.Request) (*CachedResponse, error) {
	out := r.Clone(ctx)
	if out.URL.Scheme == "" {
		out.URL.Scheme = "http"
	}
	if out.URL.Host == "" {
		out.URL.Host = r.Host
		if out.URL.Host == "" {
			out.URL.Host = c.host
		}
	}
	out.RequestURI = ""
	return c.roundTrip(out)
}

func (c *Controller) fetchURL(ctx context.Context, rawURL string) (*CachedResponse, error) {
	if strings.HasPrefix(rawURL, "/") {
		rawURL = "http://" + c.host + rawURL
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.roundTrip(request)
}

func (c *Controller) roundTrip(r *http.Request) (*CachedResponse, error) {
	resp, err := c.transport.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &CachedResponse{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}

// cacheKey addresses cache entries by path and query, matching how the
// browser keys cache storage by request URL.
func cacheKey(r *http.Request) string {
	return r.URL.RequestURI()
}

func writeCached(w http.ResponseWriter, response *CachedResponse) {
	for key, values := range response.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(response.Status)
	_, _ = w.Write(response.Body)
}
