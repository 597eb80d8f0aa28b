package composition

import "errors"

// Composition-time errors. All are recoverable: the mutating call is rejected
// and the reason is surfaced to the editor.
var (
	ErrUnknownElement  = errors.New("unknown element")
	ErrInvalidConfig   = errors.New("invalid element config")
	ErrUnknownInstance = errors.New("unknown instance")
	ErrPortNotFound    = errors.New("port not found")
	ErrTypeMismatch    = errors.New("port type mismatch")
	ErrCycleDetected   = errors.New("connection would create a cycle")
	ErrNotValid        = errors.New("composition failed validation")

	ErrToolNotFound    = errors.New("tool not found")
	ErrVersionConflict = errors.New("tool was modified concurrently")
	ErrBadStatus       = errors.New("operation not allowed in current status")
)
