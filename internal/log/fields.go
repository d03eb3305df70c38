package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID   = "session_id"
	FieldItemID      = "item_id"
	FieldClassroomID = "classroom_id"
	FieldCourseID    = "course_id"
	FieldUserID      = "user_id"
	FieldCCID        = "ccid"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Playback fields
	FieldDuration = "duration"
	FieldWatched  = "watched"
	FieldCoverage = "coverage"
	FieldCursor   = "cursor"
	FieldTick     = "tick"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
)
