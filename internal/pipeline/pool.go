package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned for work submitted to, or abandoned by, a closed pool.
var ErrPoolClosed = errors.New("worker pool closed")

// DefaultWorkers is the default number of pool workers.
const DefaultWorkers = 4

// Pool runs blocking calls on a fixed set of workers.
// All workers share a single queue.
type Pool struct {
	name   string
	logger *slog.Logger

	tasks chan task
	quit  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup

	inFlight atomic.Int32
}

type task struct {
	name string
	run  func()
}

// PoolConfig configures a new Pool.
type PoolConfig struct {
	Name      string
	Logger    *slog.Logger
	Workers   int // default: DefaultWorkers
	QueueSize int // default: Workers
}

// NewPool starts the pool's workers.
func NewPool(cfg PoolConfig) *Pool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = "pipeline"
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = workers
	}

	p := &Pool{
		name:   name,
		logger: logger.With("pool", name, "workers", workers),
		tasks:  make(chan task, queueSize),
		quit:   make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case t := <-p.tasks:
			p.logger.Debug("worker picked up task", "worker_id", id, "task", t.name)
			p.inFlight.Add(1)
			t.run()
			p.inFlight.Add(-1)
		}
	}
}

// InFlight returns the number of tasks currently running.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// Close stops the workers after their current task. Queued tasks that never
// started fail with ErrPoolClosed.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.quit)
		p.wg.Wait()
		p.logger.Info("pool stopped")
	})
}

type outcome[T any] struct {
	val T
	err error
}

// Submit runs fn on the pool and waits for its result. It returns early when
// ctx ends or the pool closes; fn still sees ctx and should honour it.
func Submit[T any](ctx context.Context, p *Pool, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	done := make(chan outcome[T], 1)

	t := task{name: name, run: func() {
		var out outcome[T]
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("task panicked", "task", name, "panic", r)
				out = outcome[T]{err: fmt.Errorf("%s panicked: %v", name, r)}
			}
			done <- out
		}()
		if err := ctx.Err(); err != nil {
			out.err = err
			return
		}
		out.val, out.err = fn(ctx)
	}}

	select {
	case <-p.quit:
		return zero, ErrPoolClosed
	default:
	}

	select {
	case p.tasks <- t:
	case <-p.quit:
		return zero, ErrPoolClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case out := <-done:
		return out.val, out.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-p.quit:
		// the worker may have finished just before shutdown
		select {
		case out := <-done:
			return out.val, out.err
		default:
			return zero, ErrPoolClosed
		}
	}
}
