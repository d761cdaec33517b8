package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/mapty/pkg/monitoring"
	"github.com/NERVsystems/mapty/pkg/tracing"
	"github.com/NERVsystems/mapty/pkg/version"
)

// RetryOptions configures retry behavior for HTTP requests
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryOptions is used for tile and geolocation upstreams.
var DefaultRetryOptions = RetryOptions{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
	Multiplier:   2.0,
}

// DefaultClient is the shared upstream client.
var DefaultClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// UserAgent identifies mapty to upstream services; the OSM tile usage
// policy requires one.
func UserAgent() string {
	return "mapty/" + version.BuildVersion
}

// RequestFactory builds a fresh request for every attempt.
type RequestFactory func() (*http.Request, error)

// Get fetches url with retries, labelling metrics and spans with service.
func Get(ctx context.Context, client *http.Client, service, url string, options RetryOptions) (*http.Response, error) {
	factory := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", UserAgent())
		return req, nil
	}
	return WithRetryFactory(ctx, service, factory, client, options)
}

// WithRetryFactory performs requests created by factory, backing off
// exponentially between attempts. Only a 200 response counts as success;
// the caller owns its body.
func WithRetryFactory(ctx context.Context, service string, factory RequestFactory, client *http.Client, options RetryOptions) (*http.Response, error) {
	ctx, span := tracing.StartSpan(ctx, "http.request "+service,
		trace.WithAttributes(
			attribute.String(tracing.AttrServiceName, service),
			attribute.Int("http.retry.max_attempts", options.MaxAttempts),
		),
	)
	defer span.End()

	if client == nil {
		client = DefaultClient
	}
	logger := slog.Default().With("service", service)
	start := time.Now()

	var lastErr error
	delay := options.InitialDelay

	for attempt := 0; attempt < options.MaxAttempts; attempt++ {
		if attempt > 0 {
			tracing.AddEvent(ctx, "retry_attempt",
				trace.WithAttributes(
					attribute.Int("attempt", attempt+1),
					attribute.Int64("delay_ms", delay.Milliseconds()),
				),
			)
			logger.Info("retrying request",
				"attempt", attempt+1,
				"max_attempts", options.MaxAttempts,
				"delay", delay,
				"last_error", lastErr,
			)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				span.SetStatus(codes.Error, "request cancelled")
				monitoring.RecordExternalServiceRequest(service, "get", time.Since(start), false)
				return nil, ctx.Err()
			}

			delay = time.Duration(float64(delay) * options.Multiplier)
			if delay > options.MaxDelay {
				delay = options.MaxDelay
			}
		}

		req, err := factory()
		if err != nil {
			// A factory error will not fix itself on retry.
			span.SetStatus(codes.Error, "request creation failed")
			return nil, NewError(ErrInternalError, fmt.Sprintf("failed to create request: %v", err))
		}

		resp, err := client.Do(req)
		if err == nil && resp.StatusCode == http.StatusOK {
			span.SetAttributes(
				attribute.String("http.url", req.URL.String()),
				attribute.Int(tracing.AttrHTTPStatusCode, resp.StatusCode),
				attribute.Int("http.retry.attempts", attempt+1),
			)
			span.SetStatus(codes.Ok, "")
			monitoring.RecordExternalServiceRequest(service, "get", time.Since(start), true)
			logger.Debug("request successful", "url", req.URL.String(), "attempts", attempt+1)
			return resp, nil
		}

		if err != nil {
			lastErr = err
			logger.Warn("request failed", "error", err, "attempt", attempt+1, "url", req.URL.String())
			continue
		}

		lastErr = ServiceError(service, resp.StatusCode, fmt.Sprintf("HTTP status %d", resp.StatusCode))
		logger.Warn("request returned error status",
			"status", resp.StatusCode,
			"attempt", attempt+1,
			"url", req.URL.String(),
		)
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Warn("failed to close response body", "error", cerr)
		}
		// Client errors other than throttling are final.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "request failed")
	monitoring.RecordExternalServiceRequest(service, "get", time.Since(start), false)

	if mcpErr, ok := lastErr.(*MCPError); ok {
		return nil, mcpErr
	}
	return nil, NewError(ErrNetworkError, fmt.Sprintf("%s unreachable: %v", service, lastErr)).
		WithGuidance("The request failed after multiple attempts. Please try again later")
}
