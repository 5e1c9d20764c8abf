package rest

import (
	"errors"
	"fmt"
	"strings"
)

// Common error variables returned by the REST client
var (
	// ErrNoCredentials is returned when a private endpoint is called on a
	// client constructed without an API key and secret
	ErrNoCredentials = errors.New("private endpoint requires api credentials")

	// ErrEmptyResponse is returned when the exchange replies with a body
	// that is not a valid response envelope
	ErrEmptyResponse = errors.New("empty or malformed response envelope")
)

// APIError carries the exchange's own error messages, reported in the
// "error" array of the response envelope. Kraken returns these with HTTP 200,
// so callers must not treat a 2xx status as success on its own.
type APIError struct {
	Messages []string
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("kraken api error: %s", strings.Join(e.Messages, "; "))
}

// HTTPError represents a non-2xx response from the exchange, distinct from
// both transport failures and API-reported errors.
type HTTPError struct {
	StatusCode int
	Status     string
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	return fmt.Sprintf("kraken http error: %s", e.Status)
}
