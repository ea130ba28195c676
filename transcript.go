package rxfetch

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Escape makes s safe to embed in a single-quoted script string: every '
// becomes \'. No other character is altered.
func Escape(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}

// OriginLine returns the first transcript line, naming the scheme, host and
// port the request went to.
func OriginLine(origin string) string {
	return fmt.Sprintf("nock('%s')", origin)
}

// RequestLine returns the second transcript line. get, post, put, head and
// delete (in any case) use the shorthand form; any other method is recorded
// with intercept and keeps the case it was given in. An empty body is left
// out.
func RequestLine(method, pathWithQuery, body string) string {
	var arg string
	if body != "" {
		arg = fmt.Sprintf(", '%s'", Escape(body))
	}
	if method == "" {
		method = "get"
	}
	switch verb := strings.ToLower(method); verb {
	case "get", "post", "put", "head", "delete":
		return fmt.Sprintf("  .%s('%s'%s)", verb, pathWithQuery, arg)
	default:
		return fmt.Sprintf("  .intercept('%s', '%s'%s)", method, pathWithQuery, arg)
	}
}

// ResponseLine returns the third transcript line.
func ResponseLine(status int, body string) string {
	return fmt.Sprintf("  .reply(%d, '%s')", status, Escape(body))
}

// SplitURL splits raw into the origin (scheme://host[:port]) and the path
// with its query string. The fragment and any user info are dropped, and an
// empty path becomes "/".
func SplitURL(raw string) (origin, pathWithQuery string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("rxfetch: url %q is not absolute", raw)
	}
	origin = u.Scheme + "://" + u.Host
	pathWithQuery = u.EscapedPath()
	if pathWithQuery == "" {
		pathWithQuery = "/"
	}
	if u.RawQuery != "" {
		pathWithQuery += "?" + u.RawQuery
	}
	return origin, pathWithQuery, nil
}

// A Transcript is one recorded request and its response.
type Transcript struct {
	Origin       string
	Method       string
	Path         string
	RequestBody  string
	Status       int
	ResponseBody string
}

// Lines renders t in the order it is recorded: origin, request, reply.
func (t Transcript) Lines() []string {
	return []string{
		OriginLine(t.Origin),
		RequestLine(t.Method, t.Path, t.RequestBody),
		ResponseLine(t.Status, t.ResponseBody),
	}
}

// URL returns the origin joined with the path.
func (t Transcript) URL() string {
	return t.Origin + t.Path
}

// ErrMalformedTranscript is wrapped by ParseTranscript errors.
var ErrMalformedTranscript = errors.New("rxfetch: malformed transcript")

// ParseTranscript parses the three lines produced by OriginLine, RequestLine
// and ResponseLine back into a Transcript. Shorthand methods come back upper
// cased.
//
// Escape does not escape backslashes, so a body ending in a backslash cannot
// be recovered and is reported as malformed.
func ParseTranscript(lines []string) (Transcript, error) {
	var t Transcript
	if len(lines) != 3 {
		return t, fmt.Errorf("%w: want 3 lines, got %d", ErrMalformedTranscript, len(lines))
	}

	args, err := parseCall(lines[0], "nock")
	if err != nil || len(args) != 1 {
		return t, fmt.Errorf("%w: origin line %q", ErrMalformedTranscript, lines[0])
	}
	t.Origin = args[0]

	req := strings.TrimSpace(lines[1])
	if !strings.HasPrefix(req, ".") {
		return t, fmt.Errorf("%w: request line %q", ErrMalformedTranscript, lines[1])
	}
	name := req[1:]
	if i := strings.IndexByte(name, '('); i > 0 {
		name = name[:i]
	}
	args, err = parseCall(req, "."+name)
	if err != nil {
		return t, fmt.Errorf("%w: request line %q: %v", ErrMalformedTranscript, lines[1], err)
	}
	if name == "intercept" {
		if len(args) < 2 {
			return t, fmt.Errorf("%w: request line %q", ErrMalformedTranscript, lines[1])
		}
		t.Method, args = args[0], args[1:]
	} else {
		t.Method = strings.ToUpper(name)
	}
	switch len(args) {
	case 2:
		t.RequestBody = args[1]
		fallthrough
	case 1:
		t.Path = args[0]
	default:
		return t, fmt.Errorf("%w: request line %q", ErrMalformedTranscript, lines[1])
	}

	args, err = parseCall(strings.TrimSpace(lines[2]), ".reply")
	if err != nil || len(args) != 2 {
		return t, fmt.Errorf("%w: reply line %q", ErrMalformedTranscript, lines[2])
	}
	t.Status, err = strconv.Atoi(args[0])
	if err != nil {
		return t, fmt.Errorf("%w: reply status %q", ErrMalformedTranscript, args[0])
	}
	t.ResponseBody = args[1]
	return t, nil
}

// parseCall parses `name(arg, arg, ...)` where each argument is either a
// single-quoted string or a bare token such as a status code.
func parseCall(line, name string) ([]string, error) {
	rest, ok := strings.CutPrefix(line, name+"(")
	if !ok {
		return nil, fmt.Errorf("expected %s(", name)
	}
	var args []string
	for {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			return nil, errors.New("unterminated call")
		}
		if rest[0] == ')' && len(args) == 0 {
			rest = rest[1:]
			break
		}

		var arg string
		if rest[0] == '\'' {
			var b strings.Builder
			i, closed := 1, false
			for i < len(rest) {
				c := rest[i]
				if c == '\\' && i+1 < len(rest) && rest[i+1] == '\'' {
					b.WriteByte('\'')
					i += 2
					continue
				}
				if c == '\'' {
					closed = true
					i++
					break
				}
				b.WriteByte(c)
				i++
			}
			if !closed {
				return nil, errors.New("unterminated string")
			}
			arg, rest = b.String(), rest[i:]
		} else {
			end := strings.IndexAny(rest, ",)")
			if end < 0 {
				return nil, errors.New("unterminated call")
			}
			arg, rest = strings.TrimSpace(rest[:end]), rest[end:]
		}
		args = append(args, arg)

		rest = strings.TrimLeft(rest, " ")
		switch {
		case strings.HasPrefix(rest, ","):
			rest = rest[1:]
			continue
		case strings.HasPrefix(rest, ")"):
			rest = rest[1:]
		default:
			return nil, errors.New("expected , or )")
		}
		break
	}
	if strings.TrimSpace(rest) != "" {
		return nil, fmt.Errorf("trailing text %q", rest)
	}
	return args, nil
}
