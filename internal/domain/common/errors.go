// Package common holds the error taxonomy shared across domains.
package common

import "errors"

var (
	ErrNotFound        = errors.New("requested item not found")
	ErrConflict        = errors.New("item already exists or conflict")
	ErrUnauthenticated = errors.New("authentication required or invalid credentials")
	ErrForbidden       = errors.New("action forbidden")
	ErrBadRequest      = errors.New("bad request")

	// Import pipeline conditions. These map 1:1 to API error codes.
	ErrFileRequired    = errors.New("statement file is required")
	ErrUnsupportedFile = errors.New("unsupported statement file type")
	ErrEmptyFile       = errors.New("statement file has no data rows")
	ErrSessionNotReady = errors.New("import session is still parsing")
	ErrRowResolved     = errors.New("import row already confirmed or skipped")
	ErrValidation      = errors.New("invalid request payload")
)

// ErrorCode returns the stable API code for a domain error, or "INTERNAL"
// when the error is not part of the taxonomy.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrFileRequired):
		return "FILE_REQUIRED"
	case errors.Is(err, ErrUnsupportedFile):
		return "UNSUPPORTED_FILE_TYPE"
	case errors.Is(err, ErrEmptyFile):
		return "EMPTY_FILE"
	case errors.Is(err, ErrSessionNotReady):
		return "SESSION_NOT_READY"
	case errors.Is(err, ErrRowResolved):
		return "ROW_ALREADY_RESOLVED"
	case errors.Is(err, ErrValidation):
		return "VALIDATION"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrUnauthenticated):
		return "UNAUTHENTICATED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrBadRequest):
		return "BAD_REQUEST"
	default:
		return "INTERNAL"
	}
}
