package transaction

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Parallel starts every member at once and resolves only after all of them
// have resolved. A failed member never cancels its siblings and is only
// logged: the pipeline always reports success once everything has finished.
type Parallel struct {
	Base
	members []Transaction
	logger  *zap.Logger
}

func NewParallel(name string, lock sync.Locker, members []Transaction, logger *zap.Logger) *Parallel {
	return &Parallel{
		Base:    NewBase(name, lock),
		members: members,
		logger:  logger.With(zap.String("pipeline", name)),
	}
}

func (p *Parallel) Run(ctx context.Context) *Future {
	if !p.claim() {
		return Resolved(Fail(MsgAlreadyRun))
	}
	start := time.Now()
	out := NewFuture()
	results := make([]Result, len(p.members))

	var g errgroup.Group
	for i, m := range p.members {
		g.Go(func() error {
			fut := m.Run(ctx)
			<-fut.Done()
			results[i], _ = fut.Result()
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		r := p.aggregate(results)
		observe(p.name, start, r)
		out.Complete(r)
	}()
	return out
}

func (p *Parallel) aggregate(results []Result) Result {
	for i, r := range results {
		if r.OK() {
			continue
		}
		p.logger.Warn("pipeline member failed",
			zap.String("transaction", p.members[i].Name()),
			zap.String("message", r.Message()),
		)
	}
	return Succeed()
}
