package tools

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/mapty/pkg/app"
	"github.com/NERVsystems/mapty/pkg/core"
	"github.com/NERVsystems/mapty/pkg/geo"
	"github.com/NERVsystems/mapty/pkg/mapview"
	"github.com/NERVsystems/mapty/pkg/render"
	"github.com/NERVsystems/mapty/pkg/version"
	"github.com/NERVsystems/mapty/pkg/workout"
)

// SetWorkoutTypeTool returns the set_workout_type definition.
func SetWorkoutTypeTool() mcp.Tool {
	return mcp.NewTool("set_workout_type",
		mcp.WithDescription("Switch the workout form between running (cadence input) and cycling (elevation input)"),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Enum(string(workout.Running), string(workout.Cycling)),
			mcp.Description("Workout type"),
		),
		mcp.WithIdempotentHintAnnotation(true),
	)
}

// ListWorkoutsTool returns the list_workouts definition.
func ListWorkoutsTool() mcp.Tool {
	return mcp.NewTool("list_workouts",
		mcp.WithDescription("List logged workouts, newest first"),
		mcp.WithString("type",
			mcp.Enum(string(workout.Running), string(workout.Cycling)),
			mcp.Description("Only list workouts of this type"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// WorkoutSummary is one workout as reported to tool clients.
type WorkoutSummary struct {
	*workout.Workout
	Summary string `json:"summary"`
}

func summarize(w *workout.Workout) WorkoutSummary {
	s := render.PopupContent(w) + ": " + render.Number(w.Distance) + " km, " + render.Number(w.Duration) + " min"
	for _, row := range workout.Rows(w.Type) {
		v := render.Number(row.Value(w))
		if row.Fixed1 {
			v = render.Fixed1(row.Value(w))
		}
		s += ", " + v + " " + row.Unit
	}
	return WorkoutSummary{Workout: w, Summary: s}
}

// ListWorkoutsResponse is the list_workouts result.
type ListWorkoutsResponse struct {
	Count    int              `json:"count"`
	Workouts []WorkoutSummary `json:"workouts"`
}

// LogWorkoutResponse is the log_workout result.
type LogWorkoutResponse struct {
	Workout WorkoutSummary `json:"workout"`
	Warning string         `json:"warning,omitempty"`
}

// HandleGetVersion reports build information.
func HandleGetVersion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(slog.Default(), version.Info())
}

// HandleClickMap raises a click on the map, opening the form.
func (r *Registry) HandleClickMap(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	loc, err := core.ParseLocationWithLog(req, r.logger, "latitude", "longitude")
	if err != nil {
		return app.AsMCPError(err).ToMCPResult(), nil
	}
	if err := r.click(loc); err != nil {
		return app.AsMCPError(err).ToMCPResult(), nil
	}
	return jsonResult(r.logger, r.app.FormState())
}

func (r *Registry) click(loc geo.Location) error {
	if !r.scene.Dispatch(mapview.Event{Type: mapview.EventClick, LatLng: loc}) {
		return app.ErrMapNotReady
	}
	return nil
}

// HandleSetWorkoutType selects the form's workout type.
func (r *Registry) HandleSetWorkoutType(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if core.RawField(req, "type") == "" {
		return core.NewValidationError(core.ErrMissingParameter, "type is required").WithField("type").ToMCPResult(), nil
	}
	kind, err := core.ParseKind(req, "type", "")
	if err != nil {
		return app.AsMCPError(err).ToMCPResult(), nil
	}
	if err := r.app.ToggleInputFieldsForType(kind); err != nil {
		return app.AsMCPError(err).ToMCPResult(), nil
	}
	return jsonResult(r.logger, r.app.FormState())
}

// HandleLogWorkout submits the form. When latitude and longitude are
// given the map is clicked there first.
func (r *Registry) HandleLogWorkout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	_, hasLat := args["latitude"]
	_, hasLon := args["longitude"]
	if hasLat || hasLon {
		loc, err := core.ParseLocationWithLog(req, r.logger, "latitude", "longitude")
		if err != nil {
			return app.AsMCPError(err).ToMCPResult(), nil
		}
		if err := r.click(loc); err != nil {
			return app.AsMCPError(err).ToMCPResult(), nil
		}
	}

	values := app.FormValues{
		Type:      core.RawField(req, "type"),
		Distance:  core.RawField(req, "distance"),
		Duration:  core.RawField(req, "duration"),
		Cadence:   core.RawField(req, "cadence"),
		Elevation: core.RawField(req, "elevation"),
	}
	w, err := r.app.Submit(ctx, values)
	if w == nil {
		return app.AsMCPError(err).ToMCPResult(), nil
	}

	resp := LogWorkoutResponse{Workout: summarize(w)}
	if err != nil {
		r.logger.Error("workout logged but not persisted", "id", w.ID, "error", err)
		resp.Warning = "workout logged but could not be saved: " + err.Error()
	}
	return jsonResult(r.logger, resp)
}

// HandleListWorkouts lists the session's workouts, newest first.
func (r *Registry) HandleListWorkouts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := core.ParseKind(req, "type", "")
	if err != nil {
		return app.AsMCPError(err).ToMCPResult(), nil
	}

	all := r.app.Workouts()
	resp := ListWorkoutsResponse{Workouts: make([]WorkoutSummary, 0, len(all))}
	for i := len(all) - 1; i >= 0; i-- {
		if kind != "" && all[i].Type != kind {
			continue
		}
		resp.Workouts = append(resp.Workouts, summarize(all[i]))
	}
	resp.Count = len(resp.Workouts)
	return jsonResult(r.logger, resp)
}

// HandleSelectWorkout pans the map to a workout.
func (r *Registry) HandleSelectWorkout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := core.RawField(req, "id")
	if id == "" {
		return core.NewValidationError(core.ErrMissingParameter, "id is required").WithField("id").ToMCPResult(), nil
	}
	w, err := r.app.SelectExistingWorkout(id)
	if err != nil {
		return app.AsMCPError(err).ToMCPResult(), nil
	}
	return jsonResult(r.logger, summarize(w))
}

func jsonResult(logger *slog.Logger, v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("failed to marshal tool result", "error", err)
		return core.NewError(core.ErrInternalError, "failed to encode result").ToMCPResult(), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
