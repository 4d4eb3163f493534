package gateway

import (
	"errors"
	"fmt"
)

// Request-level failure classes. Everything else that can go wrong during
// a request (a single account's probe, one plugin's panic) degrades the
// affected entry instead of failing the call.
var (
	// ErrInvalidRequest marks caller mistakes: unknown channel ids,
	// malformed account ids, missing required fields.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnavailable marks operations the target plugin cannot perform or
	// preconditions the system cannot currently meet (an invalid config
	// file blocking a write, a missing logout capability).
	ErrUnavailable = errors.New("unavailable")
)

func invalidRequestf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidRequest}, args...)...)
}

func unavailablef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrUnavailable}, args...)...)
}

// IsInvalidRequest reports whether err is a caller mistake.
func IsInvalidRequest(err error) bool { return errors.Is(err, ErrInvalidRequest) }

// IsUnavailable reports whether err is a missing capability or an
// unsatisfiable precondition.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }
