package rxfetch

import (
	"context"
	"fmt"
	"strings"
)

// FailOnHTTPError passes the Response on when OK is true and fails with an
// *HTTPError otherwise.
func (f *Fetch) FailOnHTTPError() *Single[*Response] {
	return f.failUnless(func(r *Response) bool { return r.OK })
}

// FailIfStatusNotIn passes the Response on when its status is one of
// statuses and fails with an *HTTPError otherwise.
//
// It panics if statuses is empty or holds a value that is not an HTTP
// status code.
func (f *Fetch) FailIfStatusNotIn(statuses ...int) *Single[*Response] {
	if len(statuses) == 0 {
		panic("rxfetch: FailIfStatusNotIn requires at least one status")
	}
	accept := make(map[int]bool, len(statuses))
	for _, s := range statuses {
		if s < 100 || s > 599 {
			panic(fmt.Sprintf("rxfetch: FailIfStatusNotIn: invalid status %d", s))
		}
		accept[s] = true
	}
	return f.failUnless(func(r *Response) bool { return accept[r.Status] })
}

func (f *Fetch) failUnless(accept func(*Response) bool) *Single[*Response] {
	return FlatMap(f.single, func(r *Response) *Single[*Response] {
		if accept(r) {
			return Just(r)
		}
		return f.httpError(r)
	})
}

// httpError fails with an *HTTPError for r. While recording, the body is
// read first so that the reply line is written before the error is
// delivered.
func (f *Fetch) httpError(r *Response) *Single[*Response] {
	err := &HTTPError{
		Method:   strings.ToUpper(f.req.Method),
		URL:      f.req.URL,
		Response: r,
	}
	if r.sink == nil {
		return Fail[*Response](err)
	}
	return FromFunc(func(ctx context.Context) (*Response, error) {
		if _, rerr := r.Text().Await(ctx); rerr != nil {
			f.logger.Warn("rxfetch: reading error body for recording", "url", f.req.URL, "status", r.Status, "error", rerr)
		}
		return nil, err
	})
}
