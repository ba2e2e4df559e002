// Package dispatcher hands READY actions off to whatever runs them. It
// mirrors the teacher's split between an in-process worker pool and a gRPC
// front door: the in-process pool covers the common case, the gRPC server
// accepts StartAction calls from another process and hands them to a pool.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrQueueFull is returned when StartAction cannot be accepted because the
// worker pool's queue is full; StartAction never blocks waiting for room.
var ErrQueueFull = errors.New("dispatcher: queue full")

// Executor runs a single action to completion. The executor package
// implements this for the cluster-action state machine.
type Executor interface {
	Execute(ctx context.Context, actionID string) error
}

// Dispatcher hands an action off for execution. StartAction must be safe to
// call concurrently and must not block past the point of acceptance.
type Dispatcher interface {
	StartAction(ctx context.Context, actionID string) error
}

// WorkerPool is an in-process Dispatcher: a bounded pool of goroutines
// draining a channel of action ids, rate-limited per the configured token
// bucket (adapted from the teacher's k8sRateLimitPerSec/k8sRateLimitBurst
// outbound-call limiter).
type WorkerPool struct {
	exec    Executor
	log     *slog.Logger
	limiter *rate.Limiter
	queue   chan string
	group   *errgroup.Group
	ctx     context.Context
}

// Config controls WorkerPool sizing.
type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec float64
	Burst      int
}

// NewWorkerPool starts workers workers draining an actionID queue of size
// cfg.QueueSize, each accepted action gated by a cfg.RatePerSec/cfg.Burst
// token bucket. Call Stop to drain and wait for in-flight work.
func NewWorkerPool(ctx context.Context, exec Executor, log *slog.Logger, cfg Config) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Workers
	}

	g, gctx := errgroup.WithContext(ctx)
	wp := &WorkerPool{
		exec:    exec,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		queue:   make(chan string, cfg.QueueSize),
		group:   g,
		ctx:     gctx,
	}
	for i := 0; i < cfg.Workers; i++ {
		g.Go(wp.run)
	}
	return wp
}

func (wp *WorkerPool) run() error {
	for {
		select {
		case <-wp.ctx.Done():
			return nil
		case actionID, ok := <-wp.queue:
			if !ok {
				return nil
			}
			if err := wp.limiter.Wait(wp.ctx); err != nil {
				return nil
			}
			if err := wp.exec.Execute(wp.ctx, actionID); err != nil {
				wp.log.Error("action execution failed", "action_id", actionID, "error", err)
			}
		}
	}
}

// StartAction implements Dispatcher. It enqueues actionID without blocking;
// callers that need backpressure should size QueueSize accordingly.
func (wp *WorkerPool) StartAction(ctx context.Context, actionID string) error {
	select {
	case wp.queue <- actionID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for in-flight actions to finish or ctx to
// be cancelled, whichever comes first.
func (wp *WorkerPool) Stop() error {
	close(wp.queue)
	return wp.group.Wait()
}
