package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// statusResourceExhausted is the Google API status for quota exhaustion.
const statusResourceExhausted = "RESOURCE_EXHAUSTED"

// APIError is a non-2xx response from the provider.
type APIError struct {
	Provider   string
	HTTPStatus int
	Status     string // Google API status, e.g. RESOURCE_EXHAUSTED
	Message    string
	RetryAfter time.Duration // From the Retry-After header, 0 if absent
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%s: API error %d (%s): %s", e.Provider, e.HTTPStatus, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: API error %d: %s", e.Provider, e.HTTPStatus, e.Message)
}

// StatusCode returns the HTTP status of the response.
func (e *APIError) StatusCode() int { return e.HTTPStatus }

// RateLimited reports whether the provider signalled quota exhaustion.
func (e *APIError) RateLimited() bool {
	return e.HTTPStatus == http.StatusTooManyRequests || e.Status == statusResourceExhausted
}

type googleErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// newAPIError builds an APIError from a failed HTTP response body.
func newAPIError(provider string, resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		Provider:   provider,
		HTTPStatus: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
	var env googleErrorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		apiErr.Message = env.Error.Message
		apiErr.Status = env.Error.Status
	}
	return apiErr
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
