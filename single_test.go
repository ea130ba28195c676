package rxfetch_test

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tangledfruit/rxfetch"
)

func TestFromFunc_Cold(t *testing.T) {
	var runs atomic.Int32
	s := rxfetch.FromFunc(func(context.Context) (int, error) {
		return int(runs.Add(1)), nil
	})
	if runs.Load() != 0 {
		t.Fatal("FromFunc ran before Subscribe")
	}

	for want := 1; want <= 2; want++ {
		got, err := s.Await(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("Got %d, want %d", got, want)
		}
	}
}

func TestMap(t *testing.T) {
	got, err := rxfetch.Map(rxfetch.Just(42), func(v int) (string, error) {
		return strconv.Itoa(v), nil
	}).Await(context.Background())
	if err != nil || got != "42" {
		t.Errorf("Got %q, %v; want 42", got, err)
	}

	boom := errors.New("boom")
	_, err = rxfetch.Map(rxfetch.Just(1), func(int) (string, error) {
		return "", boom
	}).Await(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("Got %v, want %v", err, boom)
	}
}

func TestFlatMap_UpstreamError(t *testing.T) {
	boom := errors.New("boom")
	called := false
	_, err := rxfetch.FlatMap(rxfetch.Fail[int](boom), func(int) *rxfetch.Single[int] {
		called = true
		return rxfetch.Just(0)
	}).Await(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("Got %v, want %v", err, boom)
	}
	if called {
		t.Error("fn was called for a failed upstream")
	}
}

func TestSubscribe_OneResultThenClose(t *testing.T) {
	ch := rxfetch.FlatMap(rxfetch.Just(1), func(v int) *rxfetch.Single[int] {
		return rxfetch.Just(v + 1)
	}).Subscribe(context.Background())

	n := 0
	for r := range ch {
		n++
		if r.Err != nil || r.Value != 2 {
			t.Errorf("Got %+v, want value 2", r)
		}
	}
	if n != 1 {
		t.Errorf("Got %d results, want 1", n)
	}
}

func TestAwait_ContextDone(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	s := rxfetch.FromFunc(func(context.Context) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Got %v, want %v", err, context.DeadlineExceeded)
	}
}
