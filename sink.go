package rxfetch

import (
	"errors"
	"io"
	"sync"
)

// A Sink receives transcript lines one at a time, in order. Close signals
// that the recording session is over.
//
// A Sink may be shared between requests as long as only one of them is in
// flight at a time; lines from concurrent requests would interleave.
type Sink interface {
	Record(line string)
	Close() error
}

// Lines is an in-memory Sink. The zero value is ready to use.
type Lines struct {
	mu     sync.Mutex
	lines  []string
	closed bool
}

var _ Sink = (*Lines)(nil)

// Record appends line. Lines recorded after Close are dropped.
func (l *Lines) Record(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.lines = append(l.lines, line)
	}
}

// Close marks the recording as finished.
func (l *Lines) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

// Lines returns a copy of the recorded lines.
func (l *Lines) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// ChanSink forwards each line to a channel, which is closed by Close.
// Record blocks while the channel buffer is full.
type ChanSink struct {
	c    chan string
	once sync.Once
	mu   sync.RWMutex
	done bool
}

// NewChanSink returns a ChanSink with the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{c: make(chan string, buffer)}
}

// C returns the channel lines are delivered on.
func (s *ChanSink) C() <-chan string { return s.c }

// Record sends line on the channel. It is a no-op after Close.
func (s *ChanSink) Record(line string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.done {
		s.c <- line
	}
}

// Close closes the channel.
func (s *ChanSink) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.done = true
		close(s.c)
		s.mu.Unlock()
	})
	return nil
}

type writerSink struct {
	mu  sync.Mutex
	w   io.Writer
	err error
}

// WriterSink returns a Sink that writes each line, followed by a newline, to
// w. The first write error is kept and returned by Close; later lines are
// dropped. If w is an io.Closer it is not closed.
func WriterSink(w io.Writer) Sink {
	return &writerSink{w: w}
}

func (s *writerSink) Record(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	_, s.err = io.WriteString(s.w, line+"\n")
}

func (s *writerSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

type multiSink []Sink

// MultiSink returns a Sink that records every line to each of sinks.
func MultiSink(sinks ...Sink) Sink {
	return multiSink(append([]Sink(nil), sinks...))
}

func (m multiSink) Record(line string) {
	for _, s := range m {
		s.Record(line)
	}
}

func (m multiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
