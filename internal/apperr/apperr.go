// Package apperr defines the error kinds shared by the fetcher, the icon
// service and the scheduler. Callers match them with errors.Is.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrNotFound is returned for unknown feed, task or record ids.
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned for malformed input such as a bad feed URL.
	ErrValidation = errors.New("validation failed")
	// ErrConflict is returned when a create collides with an existing record.
	ErrConflict = errors.New("already exists")
	// ErrUpstream covers non-2xx responses and network failures from third parties.
	ErrUpstream = errors.New("upstream error")
	// ErrParse covers malformed feed or icon payloads.
	ErrParse = errors.New("parse error")
	// ErrPersistence covers store I/O failures.
	ErrPersistence = errors.New("persistence error")
)

// HTTPStatus maps an error to the status a request layer should answer with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUpstream), errors.Is(err, ErrParse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
