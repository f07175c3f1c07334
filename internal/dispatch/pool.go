// Package dispatch moves requests from the HTTP front end to worker
// goroutines and through the per-worker pipeline.
package dispatch

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/cryguy/turbox/internal/core"
	"github.com/cryguy/turbox/internal/instance"
	"github.com/cryguy/turbox/internal/routes"
	"go.uber.org/zap"
)

// Options configures a Pool.
type Options struct {
	// Workers is the number of worker goroutines; 0 means runtime.NumCPU().
	Workers  int
	Registry *routes.Registry
	// Instance is the template each worker creates its instance from.
	Instance instance.Options
	// WorkerExtensions adds per-worker extensions after Instance.Extensions.
	WorkerExtensions func(worker int) []core.Extension
	Recorder         Recorder
	Logger           *zap.Logger
}

// Pool is a fixed set of workers fed from one unbuffered queue.
type Pool struct {
	workers []*Worker
	shared  chan job
	stop    chan struct{}
	dead    chan struct{}
	alive   atomic.Int32
	rec     Recorder
	log     *zap.Logger

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPool starts the workers. Instances are created lazily by each worker
// on its first routed request.
func NewPool(opts Options) (*Pool, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("dispatch: registry is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = core.Logger()
	}

	p := &Pool{
		shared: make(chan job),
		stop:   make(chan struct{}),
		dead:   make(chan struct{}),
		rec:    opts.Recorder,
		log:    opts.Logger,
	}
	for i := 0; i < opts.Workers; i++ {
		p.workers = append(p.workers, newWorker(i, opts))
	}
	p.alive.Store(int32(len(p.workers)))
	for _, w := range p.workers {
		p.wg.Add(1)
		p.rec.WorkerStarted()
		go func(w *Worker) {
			defer p.wg.Done()
			w.run(p.shared, p.stop)
			p.rec.WorkerStopped()
			if p.alive.Add(-1) == 0 {
				close(p.dead)
			}
		}(w)
	}
	p.log.Info("worker pool started", zap.Int("workers", len(p.workers)))
	return p, nil
}

// Size returns the number of workers the pool was started with.
func (p *Pool) Size() int { return len(p.workers) }

// Alive returns the number of workers still serving.
func (p *Pool) Alive() int { return int(p.alive.Load()) }

// Dispatch hands req to the next free worker and waits for its result.
// ctx bounds the wait for a free worker and for the result; a job that a
// worker has picked up runs to completion either way.
func (p *Pool) Dispatch(ctx context.Context, req *core.Request) (*core.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j := job{req: req, reply: make(chan *core.Result, 1)}
	select {
	case p.shared <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.stop:
		return nil, core.ErrPoolClosed
	case <-p.dead:
		return nil, core.ErrPoolClosed
	}
	return p.wait(ctx, j, nil)
}

// DispatchTo hands req to worker i specifically.
func (p *Pool) DispatchTo(ctx context.Context, i int, req *core.Request) (*core.Result, error) {
	if i < 0 || i >= len(p.workers) {
		return nil, fmt.Errorf("dispatch: no worker %d (pool size %d)", i, len(p.workers))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := p.workers[i]
	j := job{req: req, reply: make(chan *core.Result, 1)}
	select {
	case w.inbox <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.stop:
		return nil, core.ErrPoolClosed
	case <-w.done:
		return nil, fmt.Errorf("worker %d: %w", i, core.ErrPoolClosed)
	}
	return p.wait(ctx, j, w.done)
}

func (p *Pool) wait(ctx context.Context, j job, done <-chan struct{}) (*core.Result, error) {
	select {
	case res := <-j.reply:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
		// The worker replies before it exits.
		select {
		case res := <-j.reply:
			return res, nil
		default:
			return nil, core.ErrPoolClosed
		}
	}
}

// Close stops every worker after its current job and closes the
// instances. It blocks until all workers have exited.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.stop)
		p.wg.Wait()
		p.log.Info("worker pool stopped")
	})
}
