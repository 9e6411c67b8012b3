package models

import "errors"

// Sentinel errors shared across the core services. Concrete request-path
// errors wrap these with internal/apperr for HTTP status mapping.
var (
	ErrNotFound          = errors.New("not found")
	ErrNoCurrentSession  = errors.New("no current session")
	ErrIllegalTransition = errors.New("illegal session status transition")
	ErrTeamExists        = errors.New("team already exists in session")
	ErrTeamNotFound      = errors.New("team not found in session")
)
