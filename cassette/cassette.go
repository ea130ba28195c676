package cassette

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v2"

	"github.com/tangledfruit/rxfetch"
)

// NoRequestError is returned when the mode is ReplayOnly and no entry
// matches the request.
type NoRequestError struct{ Request *rxfetch.Request }

// Error implements the error interface.
func (e NoRequestError) Error() string {
	return fmt.Sprintf("cassette: no recorded entry for %s %s", strings.ToUpper(e.Request.Method), e.Request.URL)
}

// Mode controls the mode of the cassette.
type Mode int

// Possible values:
const (
	// Auto replays an entry if one exists. If not, the request is sent and
	// the recorded exchange is added to the file.
	Auto Mode = iota

	// ReplayOnly only replays entries. Requests without an entry fail with
	// NoRequestError. Recorded lines are ignored.
	ReplayOnly

	// Record always sends requests. The file is overwritten with the
	// exchanges recorded in this session.
	Record

	// Passthrough always sends requests and keeps recorded entries in memory
	// only, where Lookup can find them.
	Passthrough
)

var modeNames = [...]string{"auto", "replay-only", "record", "passthrough"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode parses the String form of a Mode, ignoring case.
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return Mode(i), nil
		}
	}
	return Auto, fmt.Errorf("cassette: unknown mode %q", s)
}

// Selector chooses a recorded Entry to respond to a given request.
type Selector interface {
	Select(entries []Entry, req *rxfetch.Request) (Entry, bool)
}

// New is a convenience function for creating a new cassette.
func New(filename string, filters ...Filter) *Cassette {
	return &Cassette{
		Filename:  filename,
		Mode:      Auto,
		Transport: rxfetch.DefaultTransport,
		Filters:   filters,
	}
}

// Cassette replays saved exchanges and records new ones.
//
// Pass it as both Options.Transport and Options.RecordTo of a Fetch to get
// record-once, replay-afterwards behavior.
type Cassette struct {
	// Filename to use for saved entries. A .yml extension is added if not
	// set. Any subdirectories are created if needed. If empty, entries are
	// kept in memory only.
	Filename string

	// Mode to use. Default mode is Auto.
	Mode Mode

	// Filters to apply before an entry is saved.
	// Filters are executed in the order specified.
	Filters []Filter

	// Transport to use for real requests.
	// If nil, rxfetch.DefaultTransport is used.
	Transport rxfetch.Transport

	// An optional Selector may be specified to control which Entry answers a
	// request. If nil, the first entry with a matching method and url is
	// used.
	Selector Selector

	// Logger for warnings about recorded lines. If nil, slog.Default() is used.
	Logger *slog.Logger

	once    sync.Once
	loadErr error

	mu      sync.Mutex
	entries []Entry
	pending []string
	saveErr error
}

var (
	_ rxfetch.Transport = (*Cassette)(nil)
	_ rxfetch.Sink      = (*Cassette)(nil)
)

func (c *Cassette) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Cassette) load() {
	if c.Filename == "" || c.Mode == Passthrough || c.Mode == Record {
		return
	}
	if !strings.HasSuffix(c.Filename, ".yml") {
		c.Filename += ".yml"
	}
	existing, err := os.ReadFile(c.Filename)
	if err != nil {
		if !os.IsNotExist(err) {
			c.loadErr = fmt.Errorf("cassette: read %s: %w", c.Filename, err)
		}
		return
	}
	entries, err := decode(existing)
	if err != nil {
		c.loadErr = fmt.Errorf("cassette: %s: %w", c.Filename, err)
		return
	}
	c.mu.Lock()
	c.entries = append(entries, c.entries...)
	c.mu.Unlock()
}

func decode(data []byte) ([]Entry, error) {
	var entries []Entry
	for i, val := range bytes.Split(data, []byte("\n---\n")) {
		var e Entry
		if err := yaml.Unmarshal(val, &e); err != nil {
			return nil, fmt.Errorf("unmarshal entry %d: %w", i, err)
		}
		if e.Request == nil || e.Response == nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Perform implements rxfetch.Transport.
//
// The behavior depends on the mode set:
//
//	Auto:          If a matching entry exists, its response is returned.
//	               Otherwise the request is sent.
//	ReplayOnly:    Returns a previously recorded response, or
//	               NoRequestError if no entry matches.
//	Record:        Always sends the request.
//	Passthrough:   Always sends the request.
//
// Attempting to set another mode will cause a panic.
func (c *Cassette) Perform(ctx context.Context, req *rxfetch.Request) (*rxfetch.RawResponse, error) {
	if c.Mode < Auto || c.Mode > Passthrough {
		panic("cassette: unsupported mode")
	}

	c.once.Do(c.load)
	if c.loadErr != nil {
		return nil, c.loadErr
	}

	if c.Mode == Auto || c.Mode == ReplayOnly {
		var e Entry
		var ok bool
		if c.Selector != nil {
			e, ok = c.Selector.Select(c.Entries(), req)
		} else {
			e, ok = c.Lookup(req.Method, req.URL)
		}
		if ok {
			c.logger().Debug("cassette: replaying entry", "id", e.ID, "method", e.Request.Method, "url", e.Request.URL)
			return e.raw(req.URL), nil
		}
		if c.Mode == ReplayOnly {
			return nil, NoRequestError{Request: req}
		}
	}

	t := c.Transport
	if t == nil {
		t = rxfetch.DefaultTransport
	}
	return t.Perform(ctx, req)
}

// Record implements rxfetch.Sink. A nock line starts a new exchange and the
// reply line completes it, at which point the entry is saved.
func (c *Cassette) Record(line string) {
	if c.Mode == ReplayOnly {
		return
	}
	c.once.Do(c.load)

	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.HasPrefix(line, "nock(") {
		if len(c.pending) > 0 {
			c.logger().Warn("cassette: dropping incomplete exchange", "lines", c.pending)
		}
		c.pending = []string{line}
		return
	}
	if len(c.pending) == 0 {
		c.logger().Warn("cassette: ignoring line outside of an exchange", "line", line)
		return
	}
	c.pending = append(c.pending, line)
	if len(c.pending) < 3 {
		return
	}

	lines := c.pending
	c.pending = nil
	t, err := rxfetch.ParseTranscript(lines)
	if err != nil {
		c.logger().Warn("cassette: dropping unparsable exchange", "error", err)
		return
	}
	c.add(entryFromTranscript(t))
}

// Close implements rxfetch.Sink. It returns the first error hit while
// saving.
func (c *Cassette) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) > 0 {
		c.logger().Warn("cassette: exchange was never completed", "lines", c.pending)
		c.pending = nil
	}
	return c.saveErr
}

// add must be called with c.mu held.
func (c *Cassette) add(e Entry) {
	for _, apply := range c.Filters {
		apply(&e)
	}
	// Replayed exchanges are recorded again by the Fetch.
	if c.Mode == Auto {
		for _, old := range c.entries {
			if old.equal(e) {
				return
			}
		}
	}
	e.ID = uuid.NewString()
	c.entries = append(c.entries, e)

	if c.Filename == "" || (c.Mode != Auto && c.Mode != Record) {
		return
	}
	if err := c.save(); err != nil {
		c.logger().Error("cassette: saving entry", "id", e.ID, "file", c.Filename, "error", err)
		if c.saveErr == nil {
			c.saveErr = err
		}
	}
}

// save writes all entries, must be called with c.mu held.
func (c *Cassette) save() error {
	if !strings.HasSuffix(c.Filename, ".yml") {
		c.Filename += ".yml"
	}
	if err := os.MkdirAll(path.Dir(c.Filename), 0750); err != nil {
		return err
	}

	var buf bytes.Buffer
	for i, e := range c.entries {
		if i > 0 {
			buf.WriteString("\n---\n\n")
		}
		fmt.Fprintf(&buf, "# request %d\n", i)
		b, err := yaml.Marshal(e)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return os.WriteFile(c.Filename, buf.Bytes(), 0644)
}

// Entries returns a copy of the loaded and recorded entries.
func (c *Cassette) Entries() []Entry {
	c.once.Do(c.load)
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// Lookup returns an existing entry matching the given method and url.
// The fragment of url is ignored.
//
// The method and url are case-insensitive.
//
// Returns false if no such entry exists.
func (c *Cassette) Lookup(method, url string) (Entry, bool) {
	url = normalizeURL(url)
	for _, e := range c.Entries() {
		if e.matches(method, url) {
			return e, true
		}
	}
	return Entry{}, false
}

// WriteNock writes all entries to w as a nock script, one exchange per
// paragraph.
func (c *Cassette) WriteNock(w io.Writer) error {
	for i, e := range c.Entries() {
		t, err := e.Transcript()
		if err != nil {
			return err
		}
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, strings.Join(t.Lines(), "\n")+";\n"); err != nil {
			return err
		}
	}
	return nil
}

// LoadNock returns an in-memory ReplayOnly cassette holding the exchanges of
// a nock script, as written by WriteNock or printed by a recording sink.
func LoadNock(r io.Reader) (*Cassette, error) {
	transcripts, err := parseNock(r)
	if err != nil {
		return nil, err
	}
	c := &Cassette{Mode: ReplayOnly}
	for _, t := range transcripts {
		e := entryFromTranscript(t)
		e.ID = uuid.NewString()
		c.entries = append(c.entries, e)
	}
	return c, nil
}

func parseNock(r io.Reader) ([]rxfetch.Transcript, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var (
		out   []rxfetch.Transcript
		group []string
	)
	flush := func() error {
		if len(group) == 0 {
			return nil
		}
		t, err := rxfetch.ParseTranscript(group)
		if err != nil {
			return err
		}
		out = append(out, t)
		group = nil
		return nil
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, " \t\r;")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, "nock(") {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		group = append(group, line)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

// A Filter modifies an entry before it is saved.
//
// Filters are applied after the exchange completes, with the primary purpose
// being to remove sensitive data from the saved file.
type Filter func(entry *Entry)

// RemoveRequestBody drops the request body from the entry.
func RemoveRequestBody() Filter {
	return func(e *Entry) {
		e.Request.Body = ""
	}
}

// ReplaceInBodies replaces every occurrence of old with repl in the request
// and response bodies.
func ReplaceInBodies(old, repl string) Filter {
	return func(e *Entry) {
		e.Request.Body = strings.ReplaceAll(e.Request.Body, old, repl)
		e.Response.Body = strings.ReplaceAll(e.Response.Body, old, repl)
	}
}

// An Entry is a single recorded request-response exchange.
type Entry struct {
	ID       string    `yaml:"id,omitempty"`
	Request  *Request  `yaml:"request"`
	Response *Response `yaml:"response"`
}

// A Request is a recorded outgoing request. The URL has no fragment.
type Request struct {
	Method string `yaml:"method"`
	URL    string `yaml:"url"`
	Body   string `yaml:"body,omitempty"`
}

// A Response is a recorded incoming response. Headers are not part of a
// transcript and so are not recorded.
type Response struct {
	StatusCode int    `yaml:"status_code"`
	Body       string `yaml:"body,omitempty"`
}

// Transcript converts e back to the exchange it was recorded from.
func (e Entry) Transcript() (rxfetch.Transcript, error) {
	origin, path, err := rxfetch.SplitURL(e.Request.URL)
	if err != nil {
		return rxfetch.Transcript{}, err
	}
	return rxfetch.Transcript{
		Origin:       origin,
		Method:       e.Request.Method,
		Path:         path,
		RequestBody:  e.Request.Body,
		Status:       e.Response.StatusCode,
		ResponseBody: e.Response.Body,
	}, nil
}

func entryFromTranscript(t rxfetch.Transcript) Entry {
	return Entry{
		Request:  &Request{Method: t.Method, URL: t.URL(), Body: t.RequestBody},
		Response: &Response{StatusCode: t.Status, Body: t.ResponseBody},
	}
}

func (e Entry) matches(method, url string) bool {
	return strings.EqualFold(e.Request.Method, method) && strings.EqualFold(e.Request.URL, url)
}

func (e Entry) equal(o Entry) bool {
	return e.matches(o.Request.Method, o.Request.URL) &&
		e.Request.Body == o.Request.Body &&
		*e.Response == *o.Response
}

func (e Entry) raw(url string) *rxfetch.RawResponse {
	return &rxfetch.RawResponse{
		Status:     e.Response.StatusCode,
		StatusText: http.StatusText(e.Response.StatusCode),
		Header:     http.Header{},
		URL:        url,
		Body:       io.NopCloser(strings.NewReader(e.Response.Body)),
	}
}

func normalizeURL(raw string) string {
	origin, path, err := rxfetch.SplitURL(raw)
	if err != nil {
		return raw
	}
	return origin + path
}

// OncePerCall is a Selector that selects entries based on the method and URL,
// but it will only select any given entry at most once.
type OncePerCall struct {
	mu   sync.Mutex
	used map[int]bool
}

// Select implements Selector and chooses an entry.
func (s *OncePerCall) Select(entries []Entry, req *rxfetch.Request) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used == nil {
		s.used = map[int]bool{}
	}
	url := normalizeURL(req.URL)
	for i, e := range entries {
		if !e.matches(req.Method, url) {
			continue
		}
		if !s.used[i] {
			s.used[i] = true
			return e, true
		}
	}
	return Entry{}, false
}
