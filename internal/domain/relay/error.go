package relay

import "errors"

var (
	ErrFormNotFound       = errors.New("form not found")
	ErrMemberNotFound     = errors.New("member not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrFormInactive       = errors.New("form is not active")
	ErrDeadlinePassed     = errors.New("submission deadline has passed")
	ErrInvalidDeadline    = errors.New("form deadline is not a valid date")
	ErrMaxEntries         = errors.New("maximum number of entries reached")
	ErrAlreadySubmitted   = errors.New("already submitted")
	ErrTooManyAttempts    = errors.New("too many failed verification attempts")
	ErrNotConfigured      = errors.New("webhook URL not configured")
)

// IsRejection reports whether err is a pre-relay validation failure that
// maps to 400.
func IsRejection(err error) bool {
	return errors.Is(err, ErrFormInactive) ||
		errors.Is(err, ErrDeadlinePassed) ||
		errors.Is(err, ErrInvalidDeadline) ||
		errors.Is(err, ErrMaxEntries) ||
		errors.Is(err, ErrAlreadySubmitted)
}
