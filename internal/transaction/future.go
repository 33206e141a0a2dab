package transaction

import (
	"context"
	"sync"
)

// Future is a single-assignment holder for a transaction Result.
// The first Complete wins; later calls are ignored.
type Future struct {
	once   sync.Once
	done   chan struct{}
	result Result
}

func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a future that is already complete.
func Resolved(r Result) *Future {
	f := NewFuture()
	f.Complete(r)
	return f
}

// Complete resolves the future. It reports whether this call set the result.
func (f *Future) Complete(r Result) bool {
	set := false
	f.once.Do(func() {
		f.result = r
		close(f.done)
		set = true
	})
	return set
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the resolved result without blocking. ok is false while the
// future is still pending.
func (f *Future) Result() (r Result, ok bool) {
	if !f.IsDone() {
		return Result{}, false
	}
	return f.result, true
}

// Await blocks until the future resolves or ctx ends.
func (f *Future) Await(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
