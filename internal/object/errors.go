package object

import "errors"

// Error kinds shared across the daemon. Callers classify failures with
// errors.Is and wrap these with fmt.Errorf("...: %w", ...) to add context.
var (
	ErrConfig     = errors.New("configuration error")
	ErrOpenFailed = errors.New("open failed")
	ErrClosed     = errors.New("object closed")
	ErrDuplicate  = errors.New("duplicate object name")
	ErrClock      = errors.New("wall clock unreadable")
	ErrIO         = errors.New("i/o error")
)
