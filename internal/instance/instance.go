// Package instance owns the per-worker runtime instance: its creation,
// its execution lock and the resume/suspend protocol around it.
//
// An Instance is created by one worker and only ever touched from that
// worker's goroutine. The execution lock still exists so that misuse
// (resuming twice, using a handle after suspension) fails loudly instead
// of corrupting the engine.
package instance

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/cryguy/turbox/internal/bindings"
	"github.com/cryguy/turbox/internal/core"
	"github.com/cryguy/turbox/internal/modules"
	"go.uber.org/zap"
)

// State is the lifecycle state of an instance.
type State int32

const (
	StateUninitialized State = iota
	StateActive
	StateSuspended
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateSuspended:
		return "suspended"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Options describes how to build an instance.
type Options struct {
	Engine  core.Engine
	Runtime core.RuntimeOptions

	// WorkDir is put first on the module search path.
	WorkDir    string
	SearchPath []string
	// MainFile is the entry script, reachable as module "__main__".
	MainFile string
	Sources  *modules.SourceCache

	Extensions      []core.Extension
	CheckExtensions bool

	Logger *zap.Logger
}

var nextID atomic.Uint64

// Instance is one isolated engine heap with its own execution lock.
type Instance struct {
	id     uint64
	rt     core.JSRuntime
	loader *modules.Loader
	log    *zap.Logger

	lock  sync.Mutex
	state atomic.Int32
}

// New creates an instance and runs its one-time setup: the glue, the
// module search path and every extension. The instance is returned
// suspended. Any failure is wrapped in core.ErrInstanceCreate.
func New(opts Options) (*Instance, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("%w: no engine configured", core.ErrInstanceCreate)
	}
	if opts.CheckExtensions {
		for _, ext := range opts.Extensions {
			if !ext.MultiInstance {
				return nil, fmt.Errorf("%w: extension %q does not support multiple instances", core.ErrInstanceCreate, ext.Name)
			}
		}
	}
	log := opts.Logger
	if log == nil {
		log = core.Logger()
	}

	rt, err := opts.Engine.NewRuntime(opts.Runtime)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrInstanceCreate, opts.Engine.Name(), err)
	}

	inst := &Instance{
		id:     nextID.Add(1),
		rt:     rt,
		loader: modules.NewLoader(append([]string{opts.WorkDir}, opts.SearchPath...), opts.Sources),
	}
	inst.log = log.With(zap.Uint64("instance", inst.id))
	if opts.MainFile != "" {
		inst.loader.SetMain(opts.MainFile)
	}

	// Setup runs with the lock held, as any other interpreter work.
	inst.lock.Lock()
	inst.state.Store(int32(StateActive))
	if err := inst.setup(opts.Extensions); err != nil {
		inst.state.Store(int32(StateClosed))
		inst.lock.Unlock()
		rt.Close()
		return nil, fmt.Errorf("%w: %w", core.ErrInstanceCreate, err)
	}
	inst.state.Store(int32(StateSuspended))
	inst.lock.Unlock()

	inst.log.Debug("runtime instance created",
		zap.String("engine", opts.Engine.Name()),
		zap.Strings("search_path", inst.loader.Roots()))
	return inst, nil
}

func (i *Instance) setup(exts []core.Extension) error {
	if err := bindings.InstallGlue(i.rt); err != nil {
		return err
	}
	if err := i.loader.Install(i.rt); err != nil {
		return err
	}
	for _, ext := range exts {
		if ext.Setup == nil {
			continue
		}
		if err := ext.Setup(i.rt); err != nil {
			return fmt.Errorf("extension %s: %w", ext.Name, err)
		}
	}
	return nil
}

// ID is unique per process.
func (i *Instance) ID() uint64 { return i.id }

// State reports the current lifecycle state.
func (i *Instance) State() State { return State(i.state.Load()) }

// Loader returns the instance's module loader.
func (i *Instance) Loader() *modules.Loader { return i.loader }

// Resume acquires the execution lock. It fails with core.ErrAlreadyActive
// if the instance is already active and never waits.
func (i *Instance) Resume() (*Active, error) {
	if !i.lock.TryLock() {
		return nil, fmt.Errorf("instance %d: %w", i.id, core.ErrAlreadyActive)
	}
	if i.State() == StateClosed {
		i.lock.Unlock()
		return nil, fmt.Errorf("instance %d is closed: %w", i.id, core.ErrNotActive)
	}
	i.state.Store(int32(StateActive))
	return &Active{inst: i}, nil
}

// Run resumes the instance, calls fn and suspends again on every path,
// including a panic inside fn, which is returned as core.ErrHandlerRuntime.
func (i *Instance) Run(fn func(a *Active) error) (err error) {
	a, err := i.Resume()
	if err != nil {
		return err
	}
	defer a.Suspend()
	defer func() {
		if p := recover(); p != nil {
			i.log.Error("panic during interpreter work",
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%w: panic: %v", core.ErrHandlerRuntime, p)
		}
	}()
	return fn(a)
}

// Close releases the engine heap. It must not be called while active.
func (i *Instance) Close() {
	i.lock.Lock()
	defer i.lock.Unlock()
	if i.State() == StateClosed {
		return
	}
	i.state.Store(int32(StateClosed))
	i.rt.Close()
}

// Active proves that the caller holds an instance's execution lock. It is
// only valid until Suspend.
type Active struct {
	inst *Instance
	done bool
}

// Instance returns the instance this token belongs to.
func (a *Active) Instance() *Instance { return a.inst }

// Valid reports whether the token still holds the lock.
func (a *Active) Valid() bool {
	return a != nil && !a.done && a.inst.State() == StateActive
}

// Runtime returns the engine runtime. It returns nil once suspended.
func (a *Active) Runtime() core.JSRuntime {
	if !a.Valid() {
		return nil
	}
	return a.inst.rt
}

// Suspend releases the execution lock. Extra calls are no-ops.
func (a *Active) Suspend() {
	if a == nil || a.done {
		return
	}
	a.done = true
	a.inst.state.Store(int32(StateSuspended))
	a.inst.lock.Unlock()
}
