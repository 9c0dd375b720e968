package cachectl

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"dospill/internal/pkg/logx"
)

// State is a controller's lifecycle position.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled // waiting for activation
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Defaults applied by NewController when the Config leaves them empty.
const (
	DefaultShellURL        = "/index.html"
	DefaultOfflineURL      = "/offline.html"
	DefaultAPIPrefix       = "/api/"
	DefaultInstallAttempts = 2
)

const (
	revalidateTimeout = 30 * time.Second
	installRetryDelay = 100 * time.Millisecond
)

// DefaultManifest is the app shell fetched at install time.
var DefaultManifest = []string{
	"/",
	"/index.html",
	"/styles/main.css",
	"/js/app.js",
	"/manifest.json",
	"/offline.html",
}

// Config describes one controller generation.
type Config struct {
	Version string
	Origin  *url.URL

	// Manifest entries are resolved against Origin; absolute cross-origin URLs are allowed.
	Manifest []string

	// CDNHosts are the cross-origin asset hosts served cache-first.
	CDNHosts []string

	ShellURL        string
	OfflineURL      string
	APIPrefix       string
	InstallAttempts int
}

// Controller applies the caching policy of one version.
type Controller struct {
	cfg     Config
	network Network
	storage Storage

	mu    sync.RWMutex
	state State
	cache Cache

	// bg tracks background revalidations.
	bg sync.WaitGroup

	logger zerolog.Logger
}

// NewController returns a controller in the parsed state.
func NewController(cfg Config, network Network, storage Storage) (*Controller, error) {
	if cfg.Version == "" {
		return nil, fmt.Errorf("cachectl: empty version tag")
	}
	if cfg.Origin == nil || cfg.Origin.Host == "" {
		return nil, fmt.Errorf("cachectl: origin must be an absolute URL")
	}
	if cfg.Manifest == nil {
		cfg.Manifest = DefaultManifest
	}
	if cfg.ShellURL == "" {
		cfg.ShellURL = DefaultShellURL
	}
	if cfg.OfflineURL == "" {
		cfg.OfflineURL = DefaultOfflineURL
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = DefaultAPIPrefix
	}
	if cfg.InstallAttempts <= 0 {
		cfg.InstallAttempts = DefaultInstallAttempts
	}

	return &Controller{
		cfg:     cfg,
		network: network,
		storage: storage,
		state:   StateParsed,
		logger:  logx.Component("cachectl").With().Str("cache_version", cfg.Version).Logger(),
	}, nil
}

// Version returns the cache version tag.
func (c *Controller) Version() string { return c.cfg.Version }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// transition moves from one of the allowed states into next.
func (c *Controller) transition(next State, from ...State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Contains(from, c.state) {
		return fmt.Errorf("cachectl: cannot move from %s to %s", c.state, next)
	}
	c.state = next
	return nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Install opens the versioned cache and populates it with the manifest.
// Population is best effort: same-origin entries get InstallAttempts tries each and
// failures are logged; cross-origin failures are ignored. Install only fails when the
// cache itself cannot be opened, in which case the controller becomes redundant.
func (c *Controller) Install(ctx context.Context) error {
	if err := c.transition(StateInstalling, StateParsed); err != nil {
		return err
	}

	cache, err := c.storage.Open(c.cfg.Version)
	if err != nil {
		c.setState(StateRedundant)
		return fmt.Errorf("open cache %s: %w", c.cfg.Version, err)
	}
	c.mu.Lock()
	c.cache = cache
	c.mu.Unlock()

	stored := 0
	for _, entry := range c.cfg.Manifest {
		if ctx.Err() != nil {
			break
		}
		if c.precache(ctx, cache, entry) {
			stored++
		}
	}

	c.logger.Info().
		Int("stored", stored).
		Int("manifest", len(c.cfg.Manifest)).
		Msg("App shell installed")

	c.setState(StateInstalled)
	return nil
}

func (c *Controller) precache(ctx context.Context, cache Cache, entry string) bool {
	u, err := c.cfg.Origin.Parse(entry)
	if err != nil {
		c.logger.Warn().Err(err).Str("entry", entry).Msg("Skipping invalid manifest entry")
		return false
	}

	local := sameOrigin(c.cfg.Origin, u)
	req := &Request{Method: http.MethodGet, URL: u, Mode: ModeSameOrigin}
	attempts := c.cfg.InstallAttempts
	if !local {
		req.Mode = ModeNoCORS
		if c.IsCDNHost(u.Host) {
			req.Mode = ModeCORS
		}
		attempts = 1
	}

	attempt := 0
	var resp *Response
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(installRetryDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		r, err := c.network.Fetch(ctx, req)
		if err == nil && !r.OK() {
			err = fmt.Errorf("status %d", r.Status)
		}
		if err != nil {
			if !local {
				return err
			}
			c.logger.Warn().Err(err).Str("url", u.String()).Int("attempt", attempt).Msg("Failed to fetch manifest entry")
			return retry.RetryableError(err)
		}
		resp = r
		return nil
	})
	if err != nil || !storable(resp) {
		return false
	}
	if err := cache.Put(req.cacheKey(), resp); err != nil {
		c.logger.Warn().Err(err).Str("url", u.String()).Msg("Failed to store manifest entry")
		return false
	}
	return true
}

// storable reports whether a response may be written to the cache: status exactly
// 200 from the origin itself. Cross-origin responses, readable or opaque, are
// returned to the caller but never stored.
func storable(resp *Response) bool {
	return resp.OK() && resp.Type == TypeBasic
}

// Activate deletes every cache whose name differs from the version tag and then
// takes control. Only an installed controller can activate.
func (c *Controller) Activate(ctx context.Context) error {
	if err := c.transition(StateActivating, StateInstalled); err != nil {
		return err
	}

	names, err := c.storage.Keys()
	if err != nil {
		c.setState(StateRedundant)
		return fmt.Errorf("list caches: %w", err)
	}

	for _, name := range names {
		if name == c.cfg.Version {
			continue
		}
		if _, err := c.storage.Delete(name); err != nil {
			c.logger.Error().Err(err).Str("cache", name).Msg("Failed to delete old cache")
			continue
		}
		c.logger.Info().Str("cache", name).Msg("Old cache cleared")
	}

	c.setState(StateActivated)
	c.logger.Info().Msg("Cache controller activated")
	return nil
}

// markRedundant stops new background work without waiting for running work.
func (c *Controller) markRedundant() {
	c.setState(StateRedundant)
}

// retire marks the controller redundant and waits for its background work.
func (c *Controller) retire() {
	c.markRedundant()
	c.bg.Wait()
}

// Wait blocks until every background revalidation started so far has finished.
func (c *Controller) Wait() {
	c.bg.Wait()
}

// IsCDNHost reports whether host is one of the cross-origin asset hosts.
func (c *Controller) IsCDNHost(host string) bool {
	return slices.Contains(c.cfg.CDNHosts, host)
}

// Handle serves an intercepted request. The second result is false when the request
// is not intercepted and must go to the network untouched.
func (c *Controller) Handle(ctx context.Context, req *Request) (*Response, bool) {
	if c.State() != StateActivated {
		return nil, false
	}
	if req.Method != http.MethodGet {
		return nil, false
	}

	local := sameOrigin(c.cfg.Origin, req.URL)
	if local && strings.HasPrefix(req.URL.Path, c.cfg.APIPrefix) {
		return nil, false
	}

	switch {
	case req.Mode == ModeNavigate && local:
		return c.networkFirst(ctx, req), true
	case !local && c.IsCDNHost(req.URL.Host):
		return c.cacheFirst(ctx, req), true
	case local:
		return c.staleWhileRevalidate(ctx, req), true
	default:
		return nil, false
	}
}

func (c *Controller) currentCache() Cache {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache
}

func (c *Controller) match(key string) (*Response, bool) {
	cache := c.currentCache()
	if cache == nil {
		return nil, false
	}
	resp, ok, err := cache.Match(key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return resp, true
}

func (c *Controller) matchPath(path string) (*Response, bool) {
	u, err := c.cfg.Origin.Parse(path)
	if err != nil {
		return nil, false
	}
	return c.match((&Request{URL: u}).cacheKey())
}

// put stores a copy of resp if allowed. Failures are logged and otherwise ignored.
func (c *Controller) put(req *Request, resp *Response) {
	if !storable(resp) {
		return
	}
	cache := c.currentCache()
	if cache == nil {
		return
	}
	if err := cache.Put(req.cacheKey(), resp.Clone()); err != nil {
		c.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Cache write failed")
	}
}

// networkFirst serves top-level page loads. Offline it falls back to the cached page,
// then to the cached shell when the shell itself was requested, then to the offline page.
func (c *Controller) networkFirst(ctx context.Context, req *Request) *Response {
	resp, err := c.network.Fetch(ctx, req)
	if err == nil {
		c.put(req, resp)
		return resp
	}
	c.logger.Debug().Err(err).Str("url", req.URL.String()).Msg("Navigation fetch failed")

	if cached, ok := c.match(req.cacheKey()); ok {
		return cached
	}
	if c.isShellRoute(req.URL.Path) {
		if shell, ok := c.matchPath(c.cfg.ShellURL); ok {
			return shell
		}
	}
	if offline, ok := c.matchPath(c.cfg.OfflineURL); ok {
		return offline
	}
	return unavailable()
}

func (c *Controller) isShellRoute(path string) bool {
	return path == "/" || path == c.cfg.ShellURL
}

// cacheFirst serves cross-origin asset hosts.
func (c *Controller) cacheFirst(ctx context.Context, req *Request) *Response {
	if cached, ok := c.match(req.cacheKey()); ok {
		return cached
	}

	resp, err := c.network.Fetch(ctx, req)
	if err != nil {
		c.logger.Debug().Err(err).Str("url", req.URL.String()).Msg("Asset fetch failed")
		return unavailable()
	}
	c.put(req, resp)
	return resp
}

// staleWhileRevalidate serves same-origin resources from cache while refreshing the
// entry in the background.
func (c *Controller) staleWhileRevalidate(ctx context.Context, req *Request) *Response {
	if cached, ok := c.match(req.cacheKey()); ok {
		c.revalidate(req)
		return cached
	}

	resp, err := c.network.Fetch(ctx, req)
	if err == nil {
		c.put(req, resp)
		return resp
	}
	c.logger.Debug().Err(err).Str("url", req.URL.String()).Msg("Resource fetch failed")

	if req.AcceptsHTML() {
		if shell, ok := c.matchPath(c.cfg.ShellURL); ok {
			return shell
		}
	}
	return unavailable()
}

// revalidate refreshes one entry on a detached context; errors are dropped.
func (c *Controller) revalidate(req *Request) {
	// Add under the state lock so retire never races a late Add.
	c.mu.RLock()
	if c.state != StateActivated {
		c.mu.RUnlock()
		return
	}
	c.bg.Add(1)
	c.mu.RUnlock()

	go func() {
		defer c.bg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), revalidateTimeout)
		defer cancel()

		resp, err := c.network.Fetch(ctx, req)
		if err != nil {
			return
		}
		c.put(req, resp)
	}()
}
