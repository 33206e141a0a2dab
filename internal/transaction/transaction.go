package transaction

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RenatoCabral2022/callstream/internal/metrics"
)

// Transaction is an asynchronous unit of work. Run is invoked once per
// instance and must never leave its future unresolved for good: every
// failure is reported as a failed Result rather than an error or panic.
type Transaction interface {
	Name() string
	Run(ctx context.Context) *Future
}

// Base holds what every transaction shares: a name for logs and metrics and
// the coordination lock guarding session state. The lock is taken only for
// the critical section that touches shared state, never across a wait.
type Base struct {
	name string
	lock sync.Locker
	ran  *atomic.Bool
}

func NewBase(name string, lock sync.Locker) Base {
	return Base{name: name, lock: lock, ran: new(atomic.Bool)}
}

func (b Base) Name() string { return b.name }

// WithLock runs fn while holding the coordination lock.
func (b Base) WithLock(fn func()) {
	b.lock.Lock()
	defer b.lock.Unlock()
	fn()
}

// claim marks the transaction as started. It returns false on a second Run.
func (b Base) claim() bool {
	return b.ran.CompareAndSwap(false, true)
}

// Func is a transaction whose effect completes synchronously inside Run.
type Func struct {
	Base
	fn func(ctx context.Context, b Base) Result
}

// NewFunc wraps fn as a transaction. fn gets the transaction's Base so it
// can take the coordination lock for its critical section.
func NewFunc(name string, lock sync.Locker, fn func(ctx context.Context, b Base) Result) *Func {
	return &Func{Base: NewBase(name, lock), fn: fn}
}

func (f *Func) Run(ctx context.Context) *Future {
	if !f.claim() {
		return Resolved(Fail(MsgAlreadyRun))
	}
	start := time.Now()
	r := f.fn(ctx, f.Base)
	observe(f.name, start, r)
	return Resolved(r)
}

// Async is a transaction whose completion is deferred: fn starts the work
// and hands complete to whatever signals the end of it. complete may be
// called any number of times; only the first call counts.
type Async struct {
	Base
	fn func(ctx context.Context, b Base, complete func(Result) bool)
}

func NewAsync(name string, lock sync.Locker, fn func(ctx context.Context, b Base, complete func(Result) bool)) *Async {
	return &Async{Base: NewBase(name, lock), fn: fn}
}

func (a *Async) Run(ctx context.Context) *Future {
	if !a.claim() {
		return Resolved(Fail(MsgAlreadyRun))
	}
	start := time.Now()
	fut := NewFuture()
	a.fn(ctx, a.Base, func(r Result) bool {
		if !fut.Complete(r) {
			return false
		}
		observe(a.name, start, r)
		return true
	})
	return fut
}

func observe(kind string, start time.Time, r Result) {
	metrics.TransactionsTotal.WithLabelValues(kind, r.Outcome().String()).Inc()
	metrics.TransactionDuration.WithLabelValues(kind).Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}
