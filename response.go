package rxfetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync/atomic"

	"golang.org/x/text/encoding/htmlindex"
)

// Response is the view of a transport response handed to subscribers.
//
// The metadata fields are set once, when the response arrives, and never
// change. The body is read lazily by Text or JSON and may only be read once.
type Response struct {
	Status     int
	OK         bool // 200 <= Status < 400
	StatusText string
	Header     http.Header
	URL        string

	body   io.ReadCloser
	read   atomic.Bool
	sink   Sink
	logger *slog.Logger
}

func newResponse(raw *RawResponse, sink Sink, logger *slog.Logger) *Response {
	header := raw.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	body := raw.Body
	if body == nil {
		body = http.NoBody
	}
	return &Response{
		Status:     raw.Status,
		OK:         raw.Status >= 200 && raw.Status < 400,
		StatusText: raw.StatusText,
		Header:     header,
		URL:        raw.URL,
		body:       body,
		sink:       sink,
		logger:     logger,
	}
}

// Text returns a Single that reads the whole body and delivers it as a
// string. The body is decoded to UTF-8 according to the charset parameter
// of the Content-Type header.
//
// Only the first subscription to any Text or JSON stream of r reads the
// body; every later one fails with ErrBodyConsumed.
//
// When the request is being recorded, the reply line is written to the sink
// before the text is delivered.
func (r *Response) Text() *Single[string] {
	return FromFunc(func(context.Context) (string, error) {
		if !r.read.CompareAndSwap(false, true) {
			return "", ErrBodyConsumed
		}
		text, err := r.readBody()
		if err != nil {
			return "", err
		}
		if r.sink != nil {
			r.sink.Record(ResponseLine(r.Status, text))
		}
		return text, nil
	})
}

// JSON returns a Single that reads the body like Text and parses it into a
// generic value (map[string]any, []any, string, float64, bool or nil).
func (r *Response) JSON() *Single[any] {
	return DecodeJSON[any](r)
}

// DecodeJSON reads the body of r like Text and unmarshals it into a T.
func DecodeJSON[T any](r *Response) *Single[T] {
	return Map(r.Text(), func(text string) (T, error) {
		var v T
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return v, fmt.Errorf("rxfetch: parse json from %s: %w", r.URL, err)
		}
		return v, nil
	})
}

func (r *Response) readBody() (string, error) {
	defer r.body.Close()
	b, err := io.ReadAll(r.body)
	if err != nil {
		return "", fmt.Errorf("rxfetch: read body from %s: %w", r.URL, err)
	}
	name := charsetOf(r.Header.Get("Content-Type"))
	if name == "" || name == "utf-8" {
		return string(b), nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		r.logger.Warn("rxfetch: unknown charset, reading body as utf-8", "charset", name, "url", r.URL)
		return string(b), nil
	}
	decoded, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("rxfetch: decode %s body from %s: %w", name, r.URL, err)
	}
	return string(decoded), nil
}

func charsetOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(params["charset"])
}
