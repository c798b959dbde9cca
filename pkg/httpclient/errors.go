package httpclient

import (
	"fmt"
	"io"
	"net/http"
)

// StatusError describes a non-2xx response from a downstream API.
type StatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.Status, e.Body)
}

// Temporary reports whether retrying the same request later may succeed.
func (e *StatusError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout
}

// ParseResponseError consumes and closes the body of a non-2xx response and
// returns it as a *StatusError. At most 4 KiB of the body is kept.
func ParseResponseError(resp *http.Response, service string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", service, resp.StatusCode, err)
	}
	return &StatusError{Service: service, Status: resp.StatusCode, Body: string(body)}
}
