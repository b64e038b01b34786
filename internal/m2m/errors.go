package m2m

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the failure taxonomy of the remote service.
// Callers should use errors.Is to match these values.
var (
	// ErrAuth covers bad credentials and expired, un-refreshable sessions.
	ErrAuth = errors.New("authentication failed")

	// ErrInvalidParameter marks a malformed request, caught locally where
	// feasible or reported by the service.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrConflict marks a duplicate scene-list name.
	ErrConflict = errors.New("already exists")

	// ErrRateLimited marks service throttling. Always retryable with backoff.
	ErrRateLimited = errors.New("rate limited")

	// ErrProtocol marks an unexpected response shape. Never retried; indicates
	// a version mismatch between client and service.
	ErrProtocol = errors.New("unexpected response shape")

	// ErrNetwork marks a transient transport failure, retried per policy.
	ErrNetwork = errors.New("network failure")

	// ErrNotFound marks a geocode/grid/queue lookup miss. A valid empty
	// result to most callers, not a failure.
	ErrNotFound = errors.New("not found")

	// ErrService covers every other failure the service reports.
	ErrService = errors.New("service error")
)

// APIError is a failure reported in the response envelope. It unwraps to the
// sentinel matching its error code so callers can use errors.Is.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return classify(e.Code)
}

// classify maps a service error code onto the sentinel taxonomy. Codes follow
// the AUTH_*/INPUT_*/RATE_* prefix convention of the M2M API.
func classify(code string) error {
	switch {
	case code == "RATE_LIMIT", code == "RATE_LIMIT_USER":
		return ErrRateLimited
	case code == "NOT_FOUND", code == "NOT_FOUND_USER",
		code == "DOWNLOAD_NOT_FOUND", code == "ORDER_NOT_FOUND":
		return ErrNotFound
	case strings.HasPrefix(code, "AUTH_"), code == "TOKEN_EXPIRED",
		code == "TOKEN_INVALID":
		return ErrAuth
	case strings.HasPrefix(code, "INPUT_"), code == "VERSION_UNKNOWN":
		return ErrInvalidParameter
	default:
		return ErrService
	}
}
