package rxfetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Request describes the single request a Fetch sends.
type Request struct {
	URL    string
	Method string
	Header http.Header
	Body   []byte
}

// RawResponse is what a Transport hands back. Body may be read only once and
// is closed by the Response that wraps it.
type RawResponse struct {
	Status     int
	StatusText string
	Header     http.Header
	URL        string
	Body       io.ReadCloser
}

// Transport performs requests on behalf of a Fetch.
type Transport interface {
	Perform(ctx context.Context, req *Request) (*RawResponse, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req *Request) (*RawResponse, error)

// Perform calls f(ctx, req).
func (f TransportFunc) Perform(ctx context.Context, req *Request) (*RawResponse, error) {
	return f(ctx, req)
}

// HTTPTransport performs requests with a net/http client.
type HTTPTransport struct {
	// Client to use. If nil, http.DefaultClient is used.
	Client *http.Client
}

var _ Transport = (*HTTPTransport)(nil)

// DefaultTransport is used by a Fetch created without a Transport.
var DefaultTransport Transport = &HTTPTransport{}

// Perform implements Transport.
func (t *HTTPTransport) Perform(ctx context.Context, req *Request) (*RawResponse, error) {
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	hreq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("rxfetch: new request: %w", err)
	}
	for k, vv := range req.Header {
		for _, v := range vv {
			hreq.Header.Add(k, v)
		}
	}

	resp, err := client.Do(hreq)
	if err != nil {
		return nil, err
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &RawResponse{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Header:     resp.Header,
		URL:        finalURL,
		Body:       resp.Body,
	}, nil
}

// statusText returns the reason phrase of resp, e.g. "Not Found" for
// "404 Not Found".
func statusText(resp *http.Response) string {
	if text, ok := strings.CutPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); ok {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
