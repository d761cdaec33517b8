package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/NERVsystems/mapty/pkg/app"
	"github.com/NERVsystems/mapty/pkg/geo"
	"github.com/NERVsystems/mapty/pkg/geolocation"
	"github.com/NERVsystems/mapty/pkg/mapview"
	"github.com/NERVsystems/mapty/pkg/store"
	"github.com/NERVsystems/mapty/pkg/workout"
)

// toolRequest builds a CallToolRequest the way a client would send it.
func toolRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// resultText returns the first text block of a result.
func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			return text.Text
		}
	}
	t.Fatal("result has no text content")
	return ""
}

// decodeResult unmarshals a successful result into v.
func decodeResult(t *testing.T, result *mcp.CallToolResult, v any) {
	t.Helper()
	require.False(t, result.IsError, "unexpected error result: %s", resultText(t, result))
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), v))
}

// decodeError unmarshals an error result into its code and field.
func decodeError(t *testing.T, result *mcp.CallToolResult) (code, field string) {
	t.Helper()
	require.True(t, result.IsError, "expected an error result, got %s", resultText(t, result))
	var body struct {
		Code  string `json:"code"`
		Field string `json:"field"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &body))
	return body.Code, body.Field
}

// newTestRegistry returns a registry over a started controller with its
// map centered on home.
func newTestRegistry(t *testing.T, locator geolocation.Locator) (*Registry, *app.App, *mapview.Scene) {
	t.Helper()
	if locator == nil {
		locator = &geolocation.Static{Location: geo.NewLocation(52.52, 13.405)}
	}
	now := time.Date(2024, time.May, 3, 7, 0, 0, 0, time.UTC)
	scene := mapview.NewScene(nil)
	a, err := app.New(app.Config{
		Store:   store.NewMemory(),
		Maps:    scene,
		Locator: locator,
		Clock: workout.ClockFunc(func() time.Time {
			now = now.Add(time.Minute)
			return now
		}),
	})
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	return NewRegistry(nil, a, scene), a, scene
}
