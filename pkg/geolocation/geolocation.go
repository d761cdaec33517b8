// Package geolocation answers the one question the app asks at startup:
// where is the user right now.
package geolocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/NERVsystems/mapty/pkg/coords"
	"github.com/NERVsystems/mapty/pkg/core"
	"github.com/NERVsystems/mapty/pkg/geo"
	"github.com/NERVsystems/mapty/pkg/tracing"
)

// ErrUnavailable is returned when no position can be determined.
var ErrUnavailable = errors.New("position unavailable")

// Locator resolves the current position once per call.
type Locator interface {
	CurrentPosition(ctx context.Context) (geo.Location, error)
}

// Static always reports the same position.
type Static struct {
	Location geo.Location
}

// NewStatic parses a position in any notation pkg/coords understands.
func NewStatic(position string) (*Static, error) {
	p, err := coords.Parse(position)
	if err != nil {
		return nil, fmt.Errorf("parse location: %w", err)
	}
	return &Static{Location: p.Location}, nil
}

func (s *Static) CurrentPosition(ctx context.Context) (geo.Location, error) {
	if err := ctx.Err(); err != nil {
		return geo.Location{}, err
	}
	return s.Location, nil
}

// Unavailable is used when no position source is configured.
type Unavailable struct{}

func (Unavailable) CurrentPosition(context.Context) (geo.Location, error) {
	return geo.Location{}, ErrUnavailable
}

// DefaultIPLookupURL is an ip-api compatible endpoint.
const DefaultIPLookupURL = "http://ip-api.com/json/?fields=status,message,lat,lon"

// IPLookup approximates the position from the public IP address.
type IPLookup struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	retry   core.RetryOptions
	logger  *slog.Logger
}

// NewIPLookup creates a locator querying url (DefaultIPLookupURL when
// empty). The free ip-api tier allows 45 requests per minute. A lookup is
// a single request; failures are reported, never retried.
func NewIPLookup(url string, client *http.Client, logger *slog.Logger) *IPLookup {
	if url == "" {
		url = DefaultIPLookupURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IPLookup{
		url:     url,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(45.0/60.0), 1),
		retry:   core.RetryOptions{MaxAttempts: 1},
		logger:  logger.With("component", "geolocation"),
	}
}

type ipAPIResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
}

func (l *IPLookup) CurrentPosition(ctx context.Context) (loc geo.Location, err error) {
	ctx, span := tracing.StartSpan(ctx, "geolocation.ip_lookup")
	defer func() { tracing.End(span, err) }()

	if err := l.limiter.Wait(ctx); err != nil {
		return geo.Location{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := core.Get(ctx, l.client, tracing.ServiceGeolocation, l.url, l.retry)
	if err != nil {
		l.logger.Warn("ip lookup failed", "error", err)
		return geo.Location{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var body ipAPIResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return geo.Location{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if body.Status != "" && body.Status != "success" {
		return geo.Location{}, fmt.Errorf("%w: %s", ErrUnavailable, body.Message)
	}
	if body.Lat == nil || body.Lon == nil {
		return geo.Location{}, fmt.Errorf("%w: response has no coordinates", ErrUnavailable)
	}

	loc = geo.NewLocation(*body.Lat, *body.Lon)
	if err := loc.Validate(); err != nil {
		return geo.Location{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	l.logger.Debug("position resolved", "location", loc.String())
	return loc, nil
}
