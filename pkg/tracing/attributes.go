package tracing

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/NERVsystems/mapty/pkg/geo"
)

// Attribute keys
const (
	AttrOperation   = "mapty.operation"
	AttrWorkoutID   = "mapty.workout.id"
	AttrWorkoutType = "mapty.workout.type"
	AttrLatitude    = "mapty.location.lat"
	AttrLongitude   = "mapty.location.lng"

	AttrStoreBackend = "mapty.store.backend"
	AttrStoreKey     = "mapty.store.key"

	AttrServiceName      = "mapty.service.name"
	AttrServiceOperation = "mapty.service.operation"
	AttrServiceURL       = "mapty.service.url"
	AttrServiceStatus    = "mapty.service.status"

	AttrCacheType = "mapty.cache.type"
	AttrCacheHit  = "mapty.cache.hit"

	AttrMCPToolName     = "mcp.tool.name"
	AttrMCPToolStatus   = "mcp.tool.status"
	AttrMCPToolDuration = "mcp.tool.duration_ms"
	AttrMCPResultSize   = "mcp.result.size"

	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
	AttrHTTPPath       = "http.path"
	AttrHTTPRequestID  = "http.request_id"

	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// Tool outcomes
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Service names
const (
	ServiceTiles       = "tiles"
	ServiceGeolocation = "geolocation"
)

// WorkoutAttributes describes the workout an operation acted on.
func WorkoutAttributes(id, kind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrWorkoutID, id),
		attribute.String(AttrWorkoutType, kind),
	}
}

// LocationAttributes describes a coordinate.
func LocationAttributes(loc geo.Location) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Float64(AttrLatitude, loc.Latitude),
		attribute.Float64(AttrLongitude, loc.Longitude),
	}
}

// ServiceAttributes returns attributes for external service calls
func ServiceAttributes(service, operation, url string, status int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrServiceName, service),
		attribute.String(AttrServiceOperation, operation),
		attribute.String(AttrServiceURL, url),
		attribute.Int(AttrServiceStatus, status),
	}
}

// CacheAttributes returns attributes for cache lookups
func CacheAttributes(cacheType string, hit bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCacheType, cacheType),
		attribute.Bool(AttrCacheHit, hit),
	}
}

// ErrorAttributes returns attributes for errors
func ErrorAttributes(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String(AttrErrorType, "error"),
		attribute.String(AttrErrorMessage, err.Error()),
	}
}
