package repository

import (
	"errors"
	"fmt"
)

// ErrTransport marks failures to reach the remote side at all (DNS, refused
// connection, timeout, aborted body).
var ErrTransport = errors.New("transport error")

// ErrStorageNotConfigured is returned for object storage URLs when no object
// storage client was configured.
var ErrStorageNotConfigured = errors.New("object storage not configured")

// APIError is a non-2xx response from the control plane or a file host.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the remote side.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}
