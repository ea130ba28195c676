package rxfetch

import (
	"context"
)

// Result is the single signal delivered by a Single: either a value or an
// error, never both.
type Result[T any] struct {
	Value T
	Err   error
}

// Single is a cold stream of exactly one value or one error.
//
// Nothing happens until Subscribe is called. Each subscription runs the
// producer again, unless the producer itself refuses (as a Fetch does).
type Single[T any] struct {
	subscribe func(ctx context.Context) <-chan Result[T]
}

// Subscribe starts the stream. The returned channel receives one Result and
// is then closed. It is buffered, so the producer never blocks on a
// subscriber that has gone away.
func (s *Single[T]) Subscribe(ctx context.Context) <-chan Result[T] {
	return s.subscribe(ctx)
}

// Await subscribes and blocks until the result arrives or ctx is done.
func (s *Single[T]) Await(ctx context.Context) (T, error) {
	select {
	case r := <-s.Subscribe(ctx):
		return r.Value, r.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func deliver[T any](r Result[T]) <-chan Result[T] {
	out := make(chan Result[T], 1)
	out <- r
	close(out)
	return out
}

// Just returns a Single that delivers v.
func Just[T any](v T) *Single[T] {
	return &Single[T]{subscribe: func(context.Context) <-chan Result[T] {
		return deliver(Result[T]{Value: v})
	}}
}

// Fail returns a Single that delivers err.
func Fail[T any](err error) *Single[T] {
	return &Single[T]{subscribe: func(context.Context) <-chan Result[T] {
		return deliver(Result[T]{Err: err})
	}}
}

// FromFunc returns a Single that runs fn on its own goroutine each time it
// is subscribed to.
func FromFunc[T any](fn func(ctx context.Context) (T, error)) *Single[T] {
	return &Single[T]{subscribe: func(ctx context.Context) <-chan Result[T] {
		out := make(chan Result[T], 1)
		go func() {
			defer close(out)
			v, err := fn(ctx)
			out <- Result[T]{Value: v, Err: err}
		}()
		return out
	}}
}

// Map applies fn to the value of s. Errors from s or from fn are passed on.
func Map[A, B any](s *Single[A], fn func(A) (B, error)) *Single[B] {
	return FlatMap(s, func(a A) *Single[B] {
		b, err := fn(a)
		if err != nil {
			return Fail[B](err)
		}
		return Just(b)
	})
}

// FlatMap subscribes to the Single returned by fn for the value of s. s is
// subscribed synchronously, so side effects it performs at subscription time
// happen before FlatMap's Subscribe returns.
func FlatMap[A, B any](s *Single[A], fn func(A) *Single[B]) *Single[B] {
	return &Single[B]{subscribe: func(ctx context.Context) <-chan Result[B] {
		in := s.Subscribe(ctx)
		out := make(chan Result[B], 1)
		go func() {
			defer close(out)
			a, ok := <-in
			if !ok {
				return
			}
			if a.Err != nil {
				out <- Result[B]{Err: a.Err}
				return
			}
			if b, ok := <-fn(a.Value).Subscribe(ctx); ok {
				out <- b
			}
		}()
		return out
	}}
}
