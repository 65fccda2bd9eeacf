// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldCorrelationID = "correlation_id"
	FieldHandle        = "handle"
	FieldUserID        = "user_id"

	// Game instance fields
	FieldPlaceID    = "place_id"
	FieldInstanceID = "instance_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldStage     = "stage"
	FieldAttempt   = "attempt"

	// State fields
	FieldState    = "state"
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Upstream fields
	FieldEndpoint  = "endpoint"
	FieldStatus    = "status"
	FieldLocation  = "location"
	FieldErrorKind = "error_kind"
)
