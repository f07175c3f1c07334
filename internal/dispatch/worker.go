package dispatch

import (
	"runtime"

	"github.com/cryguy/turbox/internal/core"
	"github.com/cryguy/turbox/internal/funccache"
	"github.com/cryguy/turbox/internal/instance"
	"go.uber.org/zap"
)

type job struct {
	req   *core.Request
	reply chan *core.Result
}

// Worker is one pinned goroutine with its own instance manager, function
// cache and pipeline. Nothing it owns is shared with other workers.
type Worker struct {
	id       int
	inbox    chan job
	manager  *instance.Manager
	pipeline *Pipeline
	done     chan struct{}
	log      *zap.Logger
}

func newWorker(id int, opts Options) *Worker {
	log := opts.Logger.With(zap.Int("worker", id))
	iopts := opts.Instance
	iopts.Logger = log
	iopts.Extensions = append([]core.Extension(nil), opts.Instance.Extensions...)
	if opts.WorkerExtensions != nil {
		iopts.Extensions = append(iopts.Extensions, opts.WorkerExtensions(id)...)
	}

	rec := opts.Recorder
	manager := instance.NewManager(iopts, instance.Hooks{
		Created: rec.InstanceCreated,
		Failed:  func(error) { rec.InstanceFailed() },
	})
	cache := funccache.New(rec.CacheMiss)
	return &Worker{
		id:       id,
		inbox:    make(chan job),
		manager:  manager,
		pipeline: NewPipeline(id, opts.Registry, manager, cache, rec, log),
		done:     make(chan struct{}),
		log:      log,
	}
}

// ID returns the worker's index in its pool.
func (w *Worker) ID() int { return w.id }

// run serves jobs until stop is closed or the instance cannot be created.
// The goroutine stays locked to its OS thread for its whole life; after an
// instance failure it exits still locked, which makes the Go runtime
// retire that thread.
func (w *Worker) run(shared <-chan job, stop <-chan struct{}) {
	runtime.LockOSThread()
	defer close(w.done)

	for {
		var j job
		select {
		case <-stop:
			w.manager.Close()
			runtime.UnlockOSThread()
			return
		case j = <-w.inbox:
		case j = <-shared:
		}

		j.reply <- w.pipeline.Dispatch(j.req)

		if err := w.pipeline.Fatal(); err != nil {
			w.log.Error("worker exiting", zap.Error(err))
			return
		}
	}
}
