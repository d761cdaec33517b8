// Package tools exposes the workout log controller as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/mapty/pkg/app"
	"github.com/NERVsystems/mapty/pkg/core"
	"github.com/NERVsystems/mapty/pkg/mapview"
	"github.com/NERVsystems/mapty/pkg/tracing"
)

// ToolHandler is the signature shared by every tool.
type ToolHandler = func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

// Registry builds the tool set for one controller.
type Registry struct {
	logger  *slog.Logger
	factory *core.ToolFactory
	app     *app.App
	scene   *mapview.Scene
}

// NewRegistry creates a registry whose tools act on a and its map scene.
func NewRegistry(logger *slog.Logger, a *app.App, scene *mapview.Scene) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger.With("component", "tools"),
		factory: core.NewToolFactory(),
		app:     a,
		scene:   scene,
	}
}

// ToolDefinition pairs a tool schema with its handler.
type ToolDefinition struct {
	Name        string
	Description string
	Tool        mcp.Tool
	Handler     ToolHandler
}

// GetToolDefinitions returns the list of all available tools.
func (r *Registry) GetToolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "get_version",
			Description: "Get the version and build information of mapty",
			Tool:        r.factory.CreateBasicTool("get_version", "Get the version and build information of mapty"),
			Handler:     HandleGetVersion,
		},
		{
			Name:        "click_map",
			Description: "Click the map at a position. Opens the workout form with that position pending.",
			Tool: r.factory.CreateLocationTool("click_map",
				"Click the map at a position. Opens the workout form with that position pending. Parameters: latitude (number), longitude (number)"),
			Handler: r.HandleClickMap,
		},
		{
			Name:        "set_workout_type",
			Description: "Switch the form between running (cadence) and cycling (elevation gain)",
			Tool:        SetWorkoutTypeTool(),
			Handler:     r.HandleSetWorkoutType,
		},
		{
			Name:        "log_workout",
			Description: "Submit the workout form for the pending map position",
			Tool: r.factory.CreateWorkoutTool("log_workout",
				"Log a workout at the pending map position. Give latitude and longitude to click the map first. Running needs cadence, cycling needs elevation."),
			Handler: r.HandleLogWorkout,
		},
		{
			Name:        "list_workouts",
			Description: "List logged workouts, newest first",
			Tool:        ListWorkoutsTool(),
			Handler:     r.HandleListWorkouts,
		},
		{
			Name:        "select_workout",
			Description: "Pan the map to a logged workout",
			Tool:        r.factory.CreateIDTool("select_workout", "Pan the map to a logged workout and show its popup"),
			Handler:     r.HandleSelectWorkout,
		},
	}
}

// RegisterAll registers every tool and prompt with mcpServer.
func (r *Registry) RegisterAll(mcpServer *server.MCPServer) {
	r.RegisterTools(mcpServer)
	r.RegisterPrompts(mcpServer)
}

// RegisterTools adds every tool, wrapped with tracing.
func (r *Registry) RegisterTools(mcpServer *server.MCPServer) {
	for _, def := range r.GetToolDefinitions() {
		r.logger.Debug("registering tool", "name", def.Name)
		mcpServer.AddTool(def.Tool, r.wrapWithTracing(def.Name, def.Handler))
	}
}

// RegisterPrompts adds the usage prompt.
func (r *Registry) RegisterPrompts(mcpServer *server.MCPServer) {
	prompt := mcp.NewPrompt("workout_logging",
		mcp.WithPromptDescription("How to log workouts on the map"),
	)
	mcpServer.AddPrompt(prompt, func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return mcp.NewGetPromptResult(
			"Workout logging instructions",
			[]mcp.PromptMessage{
				mcp.NewPromptMessage(mcp.RoleAssistant, mcp.NewTextContent(WorkoutLoggingPrompt)),
			},
		), nil
	})
}

// GetToolNames returns a list of all tool names.
func (r *Registry) GetToolNames() []string {
	defs := r.GetToolDefinitions()
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}

func (r *Registry) wrapWithTracing(toolName string, handler ToolHandler) ToolHandler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("mcp.tool.%s", toolName),
			trace.WithAttributes(attribute.String(tracing.AttrMCPToolName, toolName)),
		)
		defer span.End()

		start := time.Now()
		result, err := handler(ctx, req)
		durationMs := time.Since(start).Milliseconds()

		status := tracing.StatusSuccess
		switch {
		case err != nil:
			status = tracing.StatusError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case result != nil && result.IsError:
			status = tracing.StatusError
			span.SetStatus(codes.Error, "tool returned an error result")
		default:
			span.SetStatus(codes.Ok, "")
		}

		resultSize := 0
		if result != nil && result.Content != nil {
			if data, marshalErr := json.Marshal(result.Content); marshalErr == nil {
				resultSize = len(data)
			}
		}

		span.SetAttributes(
			attribute.String(tracing.AttrMCPToolStatus, status),
			attribute.Int64(tracing.AttrMCPToolDuration, durationMs),
			attribute.Int(tracing.AttrMCPResultSize, resultSize),
		)

		r.logger.Debug("tool executed",
			"tool", toolName,
			"duration_ms", durationMs,
			"status", status,
			"result_size", resultSize,
		)

		return result, err
	}
}

// WorkoutLoggingPrompt explains the tool workflow to a model.
const WorkoutLoggingPrompt = `You can log running and cycling workouts on a map.

1. Call click_map with the latitude and longitude where the workout happened.
2. Optionally call set_workout_type with "running" or "cycling".
3. Call log_workout with distance (km) and duration (minutes), plus cadence
   (steps/min) for running or elevation (meters gained) for cycling.
   Distance, duration and cadence must be positive numbers. Elevation may be
   negative for a downhill ride.

log_workout also accepts latitude and longitude, which performs step 1 for you.
Use list_workouts to see what has been logged and select_workout to pan the
map to a workout by id.`
