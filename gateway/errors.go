package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is wrapped by ConfigurationError when a request is
	// attempted before Configure.
	ErrNotConfigured = errors.New("gateway not configured")
	// ErrAlreadyConfigured is wrapped by ConfigurationError when Configure
	// is called a second time.
	ErrAlreadyConfigured = errors.New("gateway already configured")
)

// ConfigurationError indicates the gateway was misused: a request before
// Configure, a second Configure, or an invalid ServerConfig.
type ConfigurationError struct {
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// AuthRejectedError is a 403: the backend and the gateway disagree on the
// session token. This is a configuration desync, not an application error.
type AuthRejectedError struct {
	Method string
	Path   string
	Body   string
}

func (e *AuthRejectedError) Error() string {
	return fmt.Sprintf("auth rejected: %s %s: HTTP 403: %s", e.Method, e.Path, e.Body)
}

// HTTPError is any other non-2xx response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// NetworkError is a transport failure: connection refused, reset, timeout.
// During startup it usually means the backend is not listening yet.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsAuthRejected reports whether err is an AuthRejectedError.
func IsAuthRejected(err error) bool {
	var ae *AuthRejectedError
	return errors.As(err, &ae)
}

// IsNetworkError reports whether err is a NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	if IsAuthRejected(err) {
		return 403
	}
	return 0
}
