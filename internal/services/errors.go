package services

import "errors"

// Dispatch error taxonomy. Every lifecycle and presence operation reports
// failure as one of these sentinels (possibly wrapped); the facade maps them
// to client-facing error events and never partially applies a transition.
var (
	ErrUnknownUser         = errors.New("unknown user")
	ErrSenderNotRegistered = errors.New("sender not registered")
	ErrAlertNotFound       = errors.New("alert not found")
	ErrAlertNotActive      = errors.New("alert is no longer active")
	ErrAlreadyResponded    = errors.New("already responded to this alert")
	ErrResponderNotFound   = errors.New("responder not found on this alert")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrInvalidCoordinates  = errors.New("invalid coordinates")
)

// ErrorCode returns the stable wire code for a dispatch error, or "internal"
// for anything outside the taxonomy.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownUser):
		return "unknown_user"
	case errors.Is(err, ErrSenderNotRegistered):
		return "sender_not_registered"
	case errors.Is(err, ErrAlertNotFound):
		return "alert_not_found"
	case errors.Is(err, ErrAlertNotActive):
		return "alert_not_active"
	case errors.Is(err, ErrAlreadyResponded):
		return "already_responded"
	case errors.Is(err, ErrResponderNotFound):
		return "responder_not_found"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrInvalidCoordinates):
		return "invalid_coordinates"
	}
	return "internal"
}
