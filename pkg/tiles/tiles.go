// Package tiles proxies map tiles from an upstream slippy-map server,
// keeping recently served tiles in memory and staying under the
// upstream's request rate.
package tiles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/NERVsystems/mapty/pkg/cache"
	"github.com/NERVsystems/mapty/pkg/core"
	"github.com/NERVsystems/mapty/pkg/monitoring"
	"github.com/NERVsystems/mapty/pkg/tracing"
)

const (
	// LocalURL is the tile layer template the browser uses when tiles are
	// proxied.
	LocalURL = "/tiles/{z}/{x}/{y}.png"

	MaxZoom  = 19
	CacheTTL = 24 * time.Hour

	maxTileBytes = 1 << 20
)

// ErrInvalidTile is returned for coordinates outside the tile pyramid.
var ErrInvalidTile = errors.New("invalid tile coordinates")

// Config configures a Proxy.
type Config struct {
	Upstream  string     // template with {z} {x} {y} and optionally {s}
	RateLimit rate.Limit // upstream requests per second
	Burst     int
	CacheSize int
	CacheTTL  time.Duration
	Client    *http.Client
	Retry     core.RetryOptions
}

// DefaultConfig follows the OSM tile usage policy: a modest request rate
// and aggressive caching.
func DefaultConfig(upstream string) Config {
	return Config{
		Upstream:  upstream,
		RateLimit: 2,
		Burst:     4,
		CacheSize: 2000,
		CacheTTL:  CacheTTL,
		Retry:     core.DefaultRetryOptions,
	}
}

// Proxy fetches and caches tiles.
type Proxy struct {
	cfg     Config
	limiter *rate.Limiter
	cache   *cache.TTLCache[[]byte]
	logger  *slog.Logger
}

// NewProxy creates a proxy. Call Close to stop the cache cleanup loop.
func NewProxy(cfg Config, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = CacheTTL
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Proxy{
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.Burst),
		cache:   cache.NewTTLCache[[]byte]("tile", cfg.CacheTTL, time.Minute, cfg.CacheSize),
		logger:  logger.With("component", "tiles"),
	}
}

// Close stops background cache maintenance.
func (p *Proxy) Close() {
	p.cache.Stop()
}

// Validate checks that z/x/y address a tile that exists.
func Validate(z, x, y int) error {
	if z < 0 || z > MaxZoom {
		return fmt.Errorf("%w: zoom %d out of range 0-%d", ErrInvalidTile, z, MaxZoom)
	}
	n := 1 << z
	if x < 0 || x >= n || y < 0 || y >= n {
		return fmt.Errorf("%w: %d/%d out of range at zoom %d", ErrInvalidTile, x, y, z)
	}
	return nil
}

// URL expands the upstream template for a tile. {s} rotates through the
// a/b/c subdomains.
func (p *Proxy) URL(z, x, y int) string {
	r := strings.NewReplacer(
		"{s}", string("abc"[(x+y)%3]),
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	)
	return r.Replace(p.cfg.Upstream)
}

// Fetch returns the PNG bytes of a tile.
func (p *Proxy) Fetch(ctx context.Context, z, x, y int) ([]byte, error) {
	if err := Validate(z, x, y); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%d/%d/%d", z, x, y)
	if data, ok := p.cache.Get(key); ok {
		tracing.SetAttributes(ctx, tracing.CacheAttributes("tile", true)...)
		return data, nil
	}
	tracing.SetAttributes(ctx, tracing.CacheAttributes("tile", false)...)

	data, err := p.fetchUpstream(ctx, p.URL(z, x, y))
	if err != nil {
		return nil, err
	}
	p.cache.Set(key, data)
	return data, nil
}

// Probe requests the root tile directly, bypassing the cache. It is used
// as the upstream health check.
func (p *Proxy) Probe(ctx context.Context) error {
	_, err := p.fetchUpstream(ctx, p.URL(0, 0, 0))
	return err
}

func (p *Proxy) fetchUpstream(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	monitoring.RecordRateLimitWait(tracing.ServiceTiles, time.Since(start))

	resp, err := core.Get(ctx, p.cfg.Client, tracing.ServiceTiles, url, p.cfg.Retry)
	if err != nil {
		p.logger.Warn("tile fetch failed", "url", url, "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return nil, core.NewError(core.ErrNetworkError, "failed to read tile data")
	}
	return data, nil
}

// Handler serves GET /tiles/{z}/{x}/{y}.png.
func (p *Proxy) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		z, errZ := strconv.Atoi(r.PathValue("z"))
		x, errX := strconv.Atoi(r.PathValue("x"))
		y, errY := strconv.Atoi(strings.TrimSuffix(r.PathValue("y"), ".png"))
		if errZ != nil || errX != nil || errY != nil {
			http.Error(w, "invalid tile path", http.StatusBadRequest)
			return
		}

		data, err := p.Fetch(r.Context(), z, x, y)
		if err != nil {
			var mcpErr *core.MCPError
			switch {
			case errors.Is(err, ErrInvalidTile):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.As(err, &mcpErr):
				http.Error(w, mcpErr.Message, mcpErr.HTTPStatus())
			default:
				http.Error(w, "tile unavailable", http.StatusBadGateway)
			}
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}
}
