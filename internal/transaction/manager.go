package transaction

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/callstream/internal/metrics"
)

var (
	ErrManagerClosed = errors.New("transaction manager closed")
	ErrQueueFull     = errors.New("transaction queue full")
)

// Receiver is handed the result of a transaction submitted to a Manager.
type Receiver func(Result)

type job struct {
	ctx      context.Context
	tx       Transaction
	receiver Receiver
}

// Manager runs submitted transactions one at a time, in submission order.
// Each transaction gets timeout to resolve; past that its receiver is told
// MsgTimedOut and the queue moves on. Nothing is retried.
type Manager struct {
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan job
	done   chan struct{}
}

func NewManager(logger *zap.Logger, timeout time.Duration, depth int) *Manager {
	m := &Manager{
		logger:  logger,
		timeout: timeout,
		queue:   make(chan job, depth),
		done:    make(chan struct{}),
	}
	go m.loop()
	return m
}

// Add enqueues tx. It fails fast when the queue is full or the manager is
// closed; receiver may be nil.
func (m *Manager) Add(ctx context.Context, tx Transaction, receiver Receiver) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrManagerClosed
	}
	select {
	case m.queue <- job{ctx: context.WithoutCancel(ctx), tx: tx, receiver: receiver}:
		metrics.QueueDepth.Inc()
		return nil
	default:
		m.logger.Warn("transaction queue full", zap.String("transaction", tx.Name()))
		return ErrQueueFull
	}
}

// Close stops accepting work and waits for queued transactions to drain.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) loop() {
	defer close(m.done)
	for j := range m.queue {
		metrics.QueueDepth.Dec()
		r := m.execute(j)
		if j.receiver != nil {
			j.receiver(r)
		}
	}
}

func (m *Manager) execute(j job) Result {
	ctx, cancel := context.WithTimeout(j.ctx, m.timeout)
	defer cancel()

	logger := m.logger.With(zap.String("transaction", j.tx.Name()))
	r, err := j.tx.Run(ctx).Await(ctx)
	if err != nil {
		logger.Warn("transaction timed out", zap.Duration("timeout", m.timeout))
		return Fail(MsgTimedOut)
	}
	if r.OK() {
		logger.Info("transaction succeeded")
	} else {
		logger.Warn("transaction failed", zap.String("message", r.Message()))
	}
	return r
}
