package app

import (
	"errors"

	"github.com/NERVsystems/mapty/pkg/core"
)

// AsMCPError classifies a controller error for tool and API clients.
// Errors that are already *core.MCPError pass through unchanged.
func AsMCPError(err error) *core.MCPError {
	if err == nil {
		return nil
	}

	var me *core.MCPError
	if errors.As(err, &me) {
		return me
	}

	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		code := core.ErrInvalidInput
		if ve.Field == "type" {
			code = core.ErrInvalidType
		}
		return core.NewValidationError(code, ve.Error()).
			WithField(ve.Field).
			WithGuidance(AlertInvalidInput + " Distance, duration and cadence must be positive; elevation may be negative.")
	case errors.Is(err, ErrMapNotReady):
		return core.NewError(core.ErrMapNotReady, err.Error()).
			WithGuidance("The current location could not be determined, so no map is shown. Restart with a location configured.")
	case errors.Is(err, ErrNoPendingLocation):
		return core.NewError(core.ErrNoPendingLocation, err.Error()).
			WithGuidance("Click the map first to choose where the workout happened.")
	case errors.Is(err, ErrWorkoutNotFound):
		return core.NewError(core.ErrNotFound, err.Error()).
			WithField("id").
			WithGuidance("Use an id from the workout list.")
	}
	return core.NewError(core.ErrInternalError, err.Error())
}
