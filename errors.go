package rxfetch

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadySubscribed is delivered when a Fetch is subscribed to a
	// second time. The request is not sent again.
	ErrAlreadySubscribed = errors.New("rxfetch: can not subscribe to fetch result more than once")

	// ErrBodyConsumed is delivered when a response body is read a second time.
	ErrBodyConsumed = errors.New("rxfetch: response body already consumed")
)

// HTTPError is delivered by FailOnHTTPError and FailIfStatusNotIn when a
// response is rejected. The response is attached so callers can inspect its
// status, headers and URL.
type HTTPError struct {
	Method   string
	URL      string
	Response *Response
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP Error %d (%s) on %s: %s", e.Response.Status, e.Method, e.URL, e.Response.StatusText)
}

// StatusCode returns the status of the rejected response, or 0 if err does
// not wrap an *HTTPError.
func StatusCode(err error) int {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.Response.Status
	}
	return 0
}
