package client

import (
	"errors"
	"fmt"
	"net/http"
)

// maxErrorBody caps how much of an error response body is kept.
const maxErrorBody = 500

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
)

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
	URL        string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Status, e.Body)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Status)
}

// Is lets errors.Is match an APIError against the sentinel for its status.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

func newAPIError(req *http.Request, resp *http.Response, body []byte) *APIError {
	b := string(body)
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody] + "..."
	}
	// Query strings can carry credentials (client_secret, appid).
	u := *req.URL
	u.RawQuery = ""
	return &APIError{
		StatusCode: resp.StatusCode,
		Status:     http.StatusText(resp.StatusCode),
		Body:       b,
		URL:        u.String(),
	}
}
