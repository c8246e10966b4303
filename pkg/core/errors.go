package core

import "errors"

// ErrUnknownService is returned when a ProcessID does not name a managed service.
var ErrUnknownService = errors.New("unknown service")

// BackendError is a failure reported by the service backend itself
// (a response with success=false), as opposed to a transport failure.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	return e.Message
}
