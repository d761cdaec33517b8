package core

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// ToolFactory builds tool definitions that share parameter conventions.
type ToolFactory struct{}

// NewToolFactory creates a new tool factory
func NewToolFactory() *ToolFactory {
	return &ToolFactory{}
}

// CreateBasicTool creates a tool without parameters.
func (f *ToolFactory) CreateBasicTool(name, description string) mcp.Tool {
	return mcp.NewTool(name, mcp.WithDescription(description))
}

// CreateLocationTool creates a tool taking a required map position.
func (f *ToolFactory) CreateLocationTool(name, description string) mcp.Tool {
	return mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithNumber("latitude",
			mcp.Required(),
			mcp.Description("Latitude of the clicked point in decimal degrees"),
		),
		mcp.WithNumber("longitude",
			mcp.Required(),
			mcp.Description("Longitude of the clicked point in decimal degrees"),
		),
	)
}

// CreateWorkoutTool creates a tool accepting the workout form fields. The
// numeric fields are optional so a missing value reaches validation the
// way an empty input would.
func (f *ToolFactory) CreateWorkoutTool(name, description string) mcp.Tool {
	return mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithString("type",
			mcp.Description("Workout type: running or cycling"),
			mcp.DefaultString("running"),
		),
		mcp.WithNumber("distance",
			mcp.Description("Distance in km, must be positive"),
		),
		mcp.WithNumber("duration",
			mcp.Description("Duration in minutes, must be positive"),
		),
		mcp.WithNumber("cadence",
			mcp.Description("Running only: steps per minute, must be positive"),
		),
		mcp.WithNumber("elevation",
			mcp.Description("Cycling only: elevation gain in meters, may be negative"),
		),
		mcp.WithNumber("latitude",
			mcp.Description("Optional: click the map here before submitting"),
		),
		mcp.WithNumber("longitude",
			mcp.Description("Optional: click the map here before submitting"),
		),
	)
}

// CreateIDTool creates a tool taking a workout id.
func (f *ToolFactory) CreateIDTool(name, description string) mcp.Tool {
	return mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Workout id as shown by list_workouts"),
		),
	)
}
