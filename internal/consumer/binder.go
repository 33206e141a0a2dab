// Package consumer binds streaming consumer services over gRPC and delivers
// streaming notifications to them.
package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/RenatoCabral2022/callstream/internal/streaming"
)

// Options tune how consumers are bound.
type Options struct {
	// ConnectTimeout bounds the wait for the transport to become ready.
	ConnectTimeout time.Duration
	// CallTimeout bounds the health check made once the transport is ready.
	CallTimeout time.Duration
	// AllowPrivate permits consumers on loopback and private networks.
	AllowPrivate bool
}

// Binder implements streaming.Binder over gRPC client connections.
type Binder struct {
	logger   *zap.Logger
	opts     Options
	dialOpts []grpc.DialOption

	mu   sync.Mutex
	live map[*binding]struct{}
	wg   sync.WaitGroup
}

// NewBinder creates a binder. Extra dial options are appended to the
// defaults (insecure transport credentials).
func NewBinder(logger *zap.Logger, opts Options, dialOpts ...grpc.DialOption) *Binder {
	return &Binder{
		logger:   logger,
		opts:     opts,
		dialOpts: append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, dialOpts...),
		live:     make(map[*binding]struct{}),
	}
}

// Bind starts connecting to target. The returned error covers only
// failures to issue the request; the outcome of the connection is reported
// through cb from a background goroutine.
func (b *Binder) Bind(target streaming.Candidate, cb streaming.BindCallbacks) (streaming.Binding, error) {
	if err := ValidateAddress(target.Address, b.opts.AllowPrivate); err != nil {
		return nil, err
	}
	conn, err := grpc.NewClient(target.Address, b.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial consumer %s: %w", target.Package, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bd := &binding{
		binder: b,
		conn:   conn,
		cancel: cancel,
		logger: b.logger.With(zap.String("consumer", target.Package), zap.String("address", target.Address)),
	}

	b.mu.Lock()
	b.live[bd] = struct{}{}
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		bd.watch(ctx, cb)
	}()
	return bd, nil
}

// Close unbinds every live binding and waits for their watchers to exit.
func (b *Binder) Close() {
	b.mu.Lock()
	live := make([]*binding, 0, len(b.live))
	for bd := range b.live {
		live = append(live, bd)
	}
	b.mu.Unlock()

	for _, bd := range live {
		bd.Unbind()
	}
	b.wg.Wait()
}

type binding struct {
	binder *Binder
	conn   *grpc.ClientConn
	cancel context.CancelFunc
	logger *zap.Logger
	once   sync.Once
}

// Unbind tears the connection down. No callback is delivered afterwards,
// except one that was already in flight.
func (bd *binding) Unbind() {
	bd.once.Do(func() {
		bd.cancel()
		if err := bd.conn.Close(); err != nil {
			bd.logger.Debug("consumer connection close", zap.Error(err))
		}
		bd.binder.mu.Lock()
		delete(bd.binder.live, bd)
		bd.binder.mu.Unlock()
		bd.logger.Info("consumer unbound")
	})
}

func (bd *binding) watch(ctx context.Context, cb streaming.BindCallbacks) {
	opts := bd.binder.opts
	bd.conn.Connect()

	connectCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	ready := waitReady(connectCtx, bd.conn)
	cancel()
	if ctx.Err() != nil {
		return
	}
	if !ready {
		bd.logger.Warn("consumer transport never became ready", zap.String("state", bd.conn.GetState().String()))
		cb.OnBindingDied()
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, opts.CallTimeout)
	resp, err := healthpb.NewHealthClient(bd.conn).Check(checkCtx, &healthpb.HealthCheckRequest{Service: ServiceName})
	cancel()
	if ctx.Err() != nil {
		return
	}
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		bd.logger.Warn("consumer does not serve call streaming",
			zap.String("status", resp.GetStatus().String()),
			zap.Error(err),
		)
		cb.OnNullBinding()
		return
	}

	bd.logger.Info("consumer connected")
	cb.OnConnected(&grpcConsumer{conn: bd.conn})

	for {
		state := bd.conn.GetState()
		if state != connectivity.Ready {
			break
		}
		if !bd.conn.WaitForStateChange(ctx, state) {
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	bd.logger.Warn("consumer disconnected", zap.String("state", bd.conn.GetState().String()))
	cb.OnDisconnected()
}

// waitReady blocks until conn is ready, fails, or ctx ends.
func waitReady(ctx context.Context, conn *grpc.ClientConn) bool {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return true
		case connectivity.TransientFailure, connectivity.Shutdown:
			return false
		}
		if !conn.WaitForStateChange(ctx, state) {
			return false
		}
	}
}

var (
	_ streaming.Binder  = (*Binder)(nil)
	_ streaming.Binding = (*binding)(nil)
)
