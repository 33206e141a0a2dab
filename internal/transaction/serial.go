package transaction

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Serial runs its steps one at a time in list order. The first failed step
// stops the pipeline: onAbort runs, the remaining steps are never started and
// the pipeline resolves with the failed step's result.
//
// Steps that resolve synchronously are chained inline; a goroutine is only
// parked when a step's future is still pending.
type Serial struct {
	Base
	steps   []Transaction
	onAbort func()
	logger  *zap.Logger
}

func NewSerial(name string, lock sync.Locker, steps []Transaction, onAbort func(), logger *zap.Logger) *Serial {
	return &Serial{
		Base:    NewBase(name, lock),
		steps:   steps,
		onAbort: onAbort,
		logger:  logger.With(zap.String("pipeline", name)),
	}
}

func (s *Serial) Run(ctx context.Context) *Future {
	if !s.claim() {
		return Resolved(Fail(MsgAlreadyRun))
	}
	out := NewFuture()
	s.advance(ctx, 0, time.Now(), out)
	return out
}

func (s *Serial) advance(ctx context.Context, i int, start time.Time, out *Future) {
	for ; i < len(s.steps); i++ {
		step := s.steps[i]
		fut := step.Run(ctx)
		if !fut.IsDone() {
			next := i
			go func() {
				<-fut.Done()
				if s.settle(next, fut, start, out) {
					s.advance(ctx, next+1, start, out)
				}
			}()
			return
		}
		if !s.settle(i, fut, start, out) {
			return
		}
	}
	s.logger.Debug("pipeline succeeded", zap.Int("steps", len(s.steps)))
	observe(s.name, start, Succeed())
	out.Complete(Succeed())
}

// settle inspects a resolved step. It returns true when the pipeline may
// move on to the next step.
func (s *Serial) settle(i int, fut *Future, start time.Time, out *Future) bool {
	r, _ := fut.Result()
	if r.OK() {
		return true
	}
	s.logger.Warn("pipeline step failed",
		zap.Int("step", i),
		zap.String("transaction", s.steps[i].Name()),
		zap.String("message", r.Message()),
	)
	if s.onAbort != nil {
		s.onAbort()
	}
	observe(s.name, start, r)
	out.Complete(Fail(r.Message()))
	return false
}
