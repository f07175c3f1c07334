// Package turbox serves HTTP requests with JavaScript handlers running in
// per-worker runtime instances.
//
// Routes map a (method, path) pair to a handler identified by module and
// function name. Each worker goroutine owns one isolated engine instance
// and imports handler modules into it on first use, so workers execute
// handlers in parallel without sharing any interpreter state.
package turbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cryguy/turbox/internal/bindings"
	"github.com/cryguy/turbox/internal/core"
	"github.com/cryguy/turbox/internal/dispatch"
	"github.com/cryguy/turbox/internal/engines"
	"github.com/cryguy/turbox/internal/instance"
	"github.com/cryguy/turbox/internal/metrics"
	"github.com/cryguy/turbox/internal/modules"
	"github.com/cryguy/turbox/internal/routes"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// StateUnavailable is the result state when no worker could take the
// request: the pool is closed or the caller's context ended first.
const StateUnavailable = "Unavailable"

// Bridge owns the route registry and the worker pool.
type Bridge struct {
	cfg      Config
	engine   Engine
	registry *routes.Registry
	sources  *modules.SourceCache
	metrics  *metrics.Metrics
	db       *bindings.DB
	exts     []Extension
	log      *zap.Logger

	mu              sync.Mutex
	workersExplicit bool
	mainFile        string
	searchPath      []string
	pool            *dispatch.Pool
	closed          bool
}

// New creates a bridge. Workers are started on the first dispatch, so
// routes and the entry script should be registered before that.
func New(cfg Config, opts ...Option) (*Bridge, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = core.Logger()
	}
	if o.engine == nil {
		o.engine = engines.Default()
	}

	if cfg.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		cfg.WorkDir = wd
	}
	wd, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}
	cfg.WorkDir = wd
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = core.DefaultMaxBodyBytes
	}

	b := &Bridge{
		cfg:             cfg,
		engine:          o.engine,
		registry:        routes.NewRegistry(cfg.WorkDir),
		sources:         modules.NewSourceCache(),
		metrics:         metrics.New(),
		exts:            o.extensions,
		log:             o.logger,
		workersExplicit: cfg.Workers > 0,
		searchPath:      append([]string(nil), cfg.SearchPath...),
	}
	if cfg.DatabasePath != "" {
		db, err := bindings.OpenDB(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		b.db = db
	}
	return b, nil
}

// Config returns the effective configuration.
func (b *Bridge) Config() Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// Gatherer exposes the bridge's Prometheus registry.
func (b *Bridge) Gatherer() prometheus.Gatherer {
	return b.metrics.Registry()
}

// AddRoute registers ref for (method, path). A later registration for the
// same pair replaces the earlier one.
func (b *Bridge) AddRoute(method, path string, ref HandlerRef) error {
	return b.registry.Register(method, path, ref)
}

// Get registers a GET route.
func (b *Bridge) Get(path string, ref HandlerRef) error { return b.AddRoute(http.MethodGet, path, ref) }

// Post registers a POST route.
func (b *Bridge) Post(path string, ref HandlerRef) error { return b.AddRoute(http.MethodPost, path, ref) }

// Put registers a PUT route.
func (b *Bridge) Put(path string, ref HandlerRef) error { return b.AddRoute(http.MethodPut, path, ref) }

// Delete registers a DELETE route.
func (b *Bridge) Delete(path string, ref HandlerRef) error {
	return b.AddRoute(http.MethodDelete, path, ref)
}

// Patch registers a PATCH route.
func (b *Bridge) Patch(path string, ref HandlerRef) error {
	return b.AddRoute(http.MethodPatch, path, ref)
}

// Options registers an OPTIONS route.
func (b *Bridge) Options(path string, ref HandlerRef) error {
	return b.AddRoute(http.MethodOptions, path, ref)
}

// Routes lists the registered routes.
func (b *Bridge) Routes() []Route {
	return b.registry.Routes()
}

// extensions returns the extensions every instance named worker gets.
func (b *Bridge) extensions(worker string) []Extension {
	exts := []Extension{bindings.Console(b.log, worker)}
	if b.db != nil {
		exts = append(exts, b.db.Extension())
	}
	return append(exts, b.exts...)
}

func (b *Bridge) instanceOptions(exts []Extension) instance.Options {
	return instance.Options{
		Engine:          b.engine,
		Runtime:         core.RuntimeOptions{MemoryLimitMB: b.cfg.MemoryLimitMB},
		WorkDir:         b.cfg.WorkDir,
		SearchPath:      b.searchPath,
		MainFile:        b.mainFile,
		Sources:         b.sources,
		Extensions:      exts,
		CheckExtensions: b.cfg.CheckExtensions,
		Logger:          b.log,
	}
}

// LoadEntry runs the entry script in a registration runtime where route
// and server calls take effect, then discards that runtime. Handlers the
// script registers are imported again by each worker on first use. It
// must be called before the first dispatch.
func (b *Bridge) LoadEntry(file string) (*ServerSettings, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("resolving entry script: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("entry script: %w", err)
	}

	b.mu.Lock()
	if b.pool != nil || b.closed {
		b.mu.Unlock()
		return nil, errors.New("entry script must be loaded before the first dispatch")
	}
	b.mainFile = abs
	if dir := filepath.Dir(abs); !within(b.cfg.WorkDir, dir) {
		// Handlers declared in an entry script outside the working
		// directory are named after its base name; keep them importable.
		b.searchPath = append(b.searchPath, dir)
	}
	iopts := b.instanceOptions(b.extensions("main"))
	b.mu.Unlock()

	settings := bindings.DefaultServerSettings()
	reg := bindings.NewRegistrar(b.registry, settings)
	iopts.Extensions = append(iopts.Extensions, reg.Extension())

	start := time.Now()
	inst, err := instance.New(iopts)
	if err != nil {
		return nil, err
	}
	defer inst.Close()

	runErr := inst.Run(func(a *instance.Active) error {
		rt := a.Runtime()
		if err := rt.Eval(fmt.Sprintf("__turbox.runMain(%q, %q);", abs, filepath.Dir(abs))); err != nil {
			return err
		}
		rt.RunMicrotasks()
		return nil
	})

	if err := reg.Err(); err != nil {
		return nil, err
	}
	if runErr != nil {
		return nil, fmt.Errorf("running entry script %s: %w", file, runErr)
	}

	b.mu.Lock()
	if settings.IsSet("workers") && !b.workersExplicit {
		b.cfg.Workers = settings.Workers
	}
	b.mu.Unlock()

	b.log.Info("entry script loaded",
		zap.String("file", abs),
		zap.Int("routes", b.registry.Len()),
		zap.Duration("duration", time.Since(start)))
	return settings, nil
}

func within(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (b *Bridge) ensurePool() (*dispatch.Pool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, core.ErrPoolClosed
	}
	if b.pool != nil {
		return b.pool, nil
	}
	workers := b.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	pool, err := dispatch.NewPool(dispatch.Options{
		Workers:  workers,
		Registry: b.registry,
		Instance: b.instanceOptions([]Extension{bindings.WorkerShims()}),
		WorkerExtensions: func(id int) []Extension {
			return b.extensions(fmt.Sprintf("worker-%d", id))
		},
		Recorder: b.metrics,
		Logger:   b.log,
	})
	if err != nil {
		return nil, err
	}
	b.pool = pool
	return pool, nil
}

// Start starts the workers now instead of on the first dispatch.
func (b *Bridge) Start() error {
	_, err := b.ensurePool()
	return err
}

// Dispatch serves req on the next free worker. It always returns a
// result; when no worker could take the request the state is
// StateUnavailable with a 503 response.
func (b *Bridge) Dispatch(ctx context.Context, req *Request) *Result {
	pool, err := b.ensurePool()
	if err == nil {
		var res *Result
		if res, err = pool.Dispatch(ctx, req); err == nil {
			return res
		}
	}
	b.metrics.ObserveDispatch(StateUnavailable, 0)
	return &Result{
		State: StateUnavailable,
		Error: err,
		Response: &Response{
			StatusCode:  http.StatusServiceUnavailable,
			ContentType: "text/plain; charset=utf-8",
			Body:        []byte("Service Unavailable"),
		},
		Worker: -1,
	}
}

// ServeHTTP reads the request body, dispatches and writes the result.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := dispatch.ReadRequest(r, b.cfg.MaxBodyBytes)
	var res *Result
	if err != nil {
		res = dispatch.BodyReadFailure(req, err, b.log)
		b.metrics.ObserveDispatch(res.State, 0)
	} else {
		res = b.Dispatch(r.Context(), req)
	}
	dispatch.WriteResponse(w, req, res)
}

// Close stops the workers and closes the database. The bridge cannot be
// used afterwards.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	pool := b.pool
	b.mu.Unlock()

	if pool != nil {
		pool.Close()
	}
	return b.db.Close()
}
