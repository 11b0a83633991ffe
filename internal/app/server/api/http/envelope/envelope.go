// Package envelope gives every response body the same outer shape:
// success and timestamp, plus message on success or error on failure.
package envelope

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

var now = func() time.Time { return time.Now().UTC() }

// Meta is embedded in every successful response body.
type Meta struct {
	Success   bool      `json:"success" doc:"Always true on 2xx responses"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

func OK(message string) Meta {
	return Meta{Success: true, Timestamp: now(), Message: message}
}

// Error is the body of every non-2xx response.
type Error struct {
	Status    int       `json:"-"`
	Success   bool      `json:"success"`
	Message   string    `json:"error"`
	Details   []string  `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *Error) Error() string  { return e.Message }
func (e *Error) GetStatus() int { return e.Status }

// NewError replaces huma.NewError. Schema validation failures, which huma
// reports as 422, are answered with 400.
func NewError(status int, msg string, errs ...error) huma.StatusError {
	if status == http.StatusUnprocessableEntity {
		status = http.StatusBadRequest
	}
	e := &Error{
		Status:    status,
		Message:   msg,
		Timestamp: now(),
	}
	for _, err := range errs {
		if err == nil {
			continue
		}
		e.Details = append(e.Details, err.Error())
	}
	if len(e.Details) > 0 && status == http.StatusBadRequest && msg == "validation failed" {
		e.Message = "Validation failed: " + e.Details[0]
	}
	return e
}

// Install makes huma build all errors through NewError.
func Install() {
	huma.NewError = NewError
}

// TooManyRequests is a 429 carrying Retry-After in whole seconds.
func TooManyRequests(msg string, retryAfterSeconds int) error {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	h := http.Header{}
	h.Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	return huma.ErrorWithHeaders(huma.Error429TooManyRequests(msg), h)
}

// Status extracts the HTTP status of an error built by NewError.
func Status(err error) int {
	var se huma.StatusError
	if errors.As(err, &se) {
		return se.GetStatus()
	}
	return http.StatusInternalServerError
}
