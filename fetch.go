package rxfetch

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// Options configure a Fetch. The zero value sends a GET through
// DefaultTransport without recording.
type Options struct {
	// Method defaults to GET.
	Method string

	Header http.Header
	Body   []byte

	// RecordTo, if set, receives the nock transcript of the exchange.
	RecordTo Sink

	// Transport to send the request with. If nil, DefaultTransport is used.
	Transport Transport

	// Logger for debug output. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Fetch is a request that has not been sent yet.
//
// The request is sent when the Fetch, or any stream derived from it, is
// first subscribed to. A Fetch can be subscribed to only once; later
// subscriptions fail with ErrAlreadySubscribed without sending anything.
type Fetch struct {
	req       Request
	sink      Sink
	transport Transport
	logger    *slog.Logger

	subscribed atomic.Bool
	single     *Single[*Response]
}

// New returns a Fetch for url. opts may be nil. Nothing is sent until the
// result is subscribed to.
func New(url string, opts *Options) *Fetch {
	if opts == nil {
		opts = &Options{}
	}
	f := &Fetch{
		req: Request{
			URL:    url,
			Method: opts.Method,
			Header: opts.Header.Clone(),
			Body:   append([]byte(nil), opts.Body...),
		},
		sink:      opts.RecordTo,
		transport: opts.Transport,
		logger:    opts.Logger,
	}
	if f.req.Method == "" {
		f.req.Method = http.MethodGet
	}
	if f.transport == nil {
		f.transport = DefaultTransport
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	f.single = &Single[*Response]{subscribe: f.subscribe}
	return f
}

// RecordTo records the exchange to sink. It must be called before the Fetch
// is subscribed to.
func (f *Fetch) RecordTo(sink Sink) *Fetch {
	f.sink = sink
	return f
}

// Single returns the Fetch as a Single, for use with Map and FlatMap.
func (f *Fetch) Single() *Single[*Response] { return f.single }

// Subscribe sends the request and returns a channel that receives the
// Response or the transport error.
func (f *Fetch) Subscribe(ctx context.Context) <-chan Result[*Response] {
	return f.single.Subscribe(ctx)
}

// Await sends the request and waits for the Response.
func (f *Fetch) Await(ctx context.Context) (*Response, error) {
	return f.single.Await(ctx)
}

func (f *Fetch) subscribe(ctx context.Context) <-chan Result[*Response] {
	if !f.subscribed.CompareAndSwap(false, true) {
		return deliver(Result[*Response]{Err: ErrAlreadySubscribed})
	}

	sink := f.sink
	if sink != nil && !f.recordRequest(sink) {
		sink = nil
	}

	out := make(chan Result[*Response], 1)
	go func() {
		defer close(out)
		f.logger.Debug("rxfetch: sending request", "method", f.req.Method, "url", f.req.URL)
		raw, err := f.transport.Perform(ctx, &f.req)
		if err != nil {
			f.logger.Debug("rxfetch: request failed", "method", f.req.Method, "url", f.req.URL, "error", err)
			out <- Result[*Response]{Err: err}
			return
		}
		f.logger.Debug("rxfetch: response received", "method", f.req.Method, "url", f.req.URL, "status", raw.Status)
		out <- Result[*Response]{Value: newResponse(raw, sink, f.logger)}
	}()
	return out
}

// recordRequest writes the origin and request lines. It reports false if
// the URL cannot be recorded, in which case nothing is written.
func (f *Fetch) recordRequest(sink Sink) bool {
	origin, path, err := SplitURL(f.req.URL)
	if err != nil {
		f.logger.Warn("rxfetch: not recording request", "url", f.req.URL, "error", err)
		return false
	}
	sink.Record(OriginLine(origin))
	sink.Record(RequestLine(f.req.Method, path, string(f.req.Body)))
	return true
}

// Text sends the request, fails on HTTP errors as FailOnHTTPError does, and
// delivers the body as a string.
func (f *Fetch) Text() *Single[string] {
	return FlatMap(f.FailOnHTTPError(), (*Response).Text)
}

// JSON sends the request, fails on HTTP errors as FailOnHTTPError does, and
// delivers the parsed body.
func (f *Fetch) JSON() *Single[any] {
	return FlatMap(f.FailOnHTTPError(), (*Response).JSON)
}
