// Package m2m implements the request layer for the USGS M2M JSON API:
// a typed transport around the service's response envelope and a session
// manager owning the X-Auth-Token lifecycle.
package m2m

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/akarpov87/m2mfetch/internal/logging"
)

// DefaultEndpoint is the stable production endpoint of the M2M API.
const DefaultEndpoint = "https://m2m.cr.usgs.gov/api/api/json/stable/"

const authHeader = "X-Auth-Token"

// envelope is the wire format every endpoint responds with. A non-null
// errorCode is authoritative over the HTTP status for failure kind.
type envelope struct {
	RequestID    int64           `json:"requestId"`
	ErrorCode    *string         `json:"errorCode"`
	ErrorMessage *string         `json:"errorMessage"`
	Data         json.RawMessage `json:"data"`
}

// Transport executes single authenticated calls against the service.
// It never retries; retry policy belongs to callers that know whether an
// operation is idempotent.
type Transport struct {
	endpoint string
	client   *http.Client
	stream   *http.Client
	limiter  *rate.Limiter
	log      logging.Logger
}

// NewTransport builds a Transport for the given endpoint. A non-positive rps
// disables client-side pacing. timeout bounds each envelope call
// (connect+read). File transfers through Get are not subject to it: a scene
// archive legitimately streams for longer than any sane envelope timeout, so
// the stream client bounds only the wait for response headers and leaves
// body duration to context cancellation.
func NewTransport(endpoint string, timeout time.Duration, rps float64, log logging.Logger) *Transport {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	streamRT := http.DefaultTransport.(*http.Transport).Clone()
	streamRT.ResponseHeaderTimeout = timeout
	return &Transport{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		stream:   &http.Client{Transport: streamRT},
		limiter:  limiter,
		log:      log,
	}
}

// Call serializes payload to the request envelope, attaches token if present,
// executes the POST and returns the raw data section. Failures are mapped to
// the sentinel taxonomy; a malformed response body is ErrProtocol.
func (t *Transport) Call(ctx context.Context, op string, payload any, token string) (json.RawMessage, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+op, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(authHeader, token)
	}

	t.log.Debug(ctx, "calling endpoint", "op", op)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrNetwork, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		// A gateway error page is not an envelope; let the status speak
		// before declaring a protocol mismatch.
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%s: http %d: %w", op, resp.StatusCode, statusError(resp.StatusCode))
		}
		return nil, fmt.Errorf("%s: %w: %v", op, ErrProtocol, err)
	}

	if env.ErrorCode != nil && *env.ErrorCode != "" {
		msg := ""
		if env.ErrorMessage != nil {
			msg = *env.ErrorMessage
		}
		return nil, fmt.Errorf("%s: %w", op, &APIError{Code: *env.ErrorCode, Message: msg})
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: http %d: %w", op, resp.StatusCode, statusError(resp.StatusCode))
	}

	return env.Data, nil
}

// Get fetches a plain (non-envelope) URL, typically a signed download link.
// The caller owns the response body. The transfer has no total deadline;
// cancel the context to abort it.
func (t *Transport) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := t.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("http %d: %w", resp.StatusCode, statusError(resp.StatusCode))
	}
	return resp, nil
}

func statusError(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuth
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusNotFound:
		return ErrNotFound
	case code >= 500:
		return ErrService
	default:
		return ErrInvalidParameter
	}
}

// DecodeData unmarshals a data section strictly: numeric and date fields must
// match the target type, and a failure is a protocol error, not a zero value.
func DecodeData(op string, data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrProtocol, err)
	}
	return nil
}
