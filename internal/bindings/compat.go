package bindings

import (
	"encoding/json"
	"fmt"
	"runtime"
	"sync"

	"github.com/cryguy/turbox/internal/core"
)

// workerShimJS gives worker instances inert route and server objects so
// that entry-point modules imported for their handlers do not register
// routes or start servers a second time.
const workerShimJS = `
(function(g) {
	var route = {}, server = {};
	['add', 'get', 'post', 'put', 'delete', 'patch', 'options'].forEach(function(m) {
		route[m] = function() { return route; };
	});
	['bind', 'workers', 'config', 'run'].forEach(function(m) {
		server[m] = function() { return server; };
	});
	g.route = route;
	g.server = server;
})(globalThis);
`

// registrarJS is the live variant used while the entry script runs.
const registrarJS = `
(function(g) {
	// exportKey finds the key under which fn is already exported from the
	// module still being evaluated.
	function exportKey(exports, fn) {
		if (exports === null || (typeof exports !== 'object' && typeof exports !== 'function')) return undefined;
		var keys = Object.keys(exports);
		for (var i = 0; i < keys.length; i++) {
			var v;
			try { v = exports[keys[i]]; } catch (e) { continue; }
			if (v === fn) return keys[i];
		}
		return undefined;
	}
	// ref names a handler by its export key, falling back to the function
	// name for handlers not exported yet.
	function ref(handler) {
		if (typeof handler !== 'function') throw new TypeError('route handler must be a function');
		var name = handler.__name__, mod = handler.__module__, file = handler.__file__;
		if (mod === undefined) {
			var cur = __turbox.current();
			mod = cur ? cur.name : '';
			file = cur ? cur.file : '';
			if (cur && cur.module) name = exportKey(cur.module.exports, handler);
		}
		if (name === undefined) name = handler.name;
		return [name || '', mod || '', file || ''];
	}
	var route = {
		add: function(method, path, handler) {
			var r = ref(handler);
			__turbox_route_add(String(method), String(path), r[0], r[1], r[2]);
			return route;
		}
	};
	['get', 'post', 'put', 'delete', 'patch', 'options'].forEach(function(m) {
		route[m] = function(path, handler) { return route.add(m.toUpperCase(), path, handler); };
	});
	function arg(v) { return v === undefined ? null : v; }
	var server = {
		bind: function(host, port) { __turbox_server('bind', JSON.stringify([arg(host), arg(port)])); return server; },
		workers: function(n) { __turbox_server('workers', JSON.stringify([arg(n)])); return server; },
		config: function(opts) { __turbox_server('config', JSON.stringify([opts || {}])); return server; },
		run: function() { __turbox_server('run', '[]'); return server; }
	};
	g.route = route;
	g.server = server;
})(globalThis);
`

// Server defaults applied when neither the entry script nor the
// configuration says otherwise.
const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 8000
	DefaultBacklog        = 16384
	DefaultMaxConnections = 100000
)

// ServerSettings collects what the entry script asked for through the
// server object.
type ServerSettings struct {
	Host           string
	Port           int
	Workers        int
	MaxConnections int
	Backlog        int
	KeepAlive      bool
	// Run is true once the script called server.run().
	Run bool

	set map[string]bool
}

// DefaultServerSettings returns the built-in defaults.
func DefaultServerSettings() *ServerSettings {
	return &ServerSettings{
		Host:           DefaultHost,
		Port:           DefaultPort,
		Workers:        runtime.NumCPU(),
		MaxConnections: DefaultMaxConnections,
		Backlog:        DefaultBacklog,
		KeepAlive:      true,
		set:            make(map[string]bool),
	}
}

// IsSet reports whether the script set the named field explicitly. Field
// names are host, port, workers, max_connections, backlog and keep_alive.
func (s *ServerSettings) IsSet(field string) bool {
	return s.set[field]
}

func (s *ServerSettings) mark(field string) {
	if s.set == nil {
		s.set = make(map[string]bool)
	}
	s.set[field] = true
}

// apply records one server.* call.
func (s *ServerSettings) apply(op, args string) error {
	var list []json.RawMessage
	if err := json.Unmarshal([]byte(args), &list); err != nil {
		return fmt.Errorf("server.%s: decoding arguments: %w", op, err)
	}
	switch op {
	case "bind":
		if len(list) > 0 && string(list[0]) != "null" {
			if err := json.Unmarshal(list[0], &s.Host); err != nil {
				return fmt.Errorf("server.bind: host must be a string")
			}
			s.mark("host")
		}
		if len(list) > 1 && string(list[1]) != "null" {
			if err := json.Unmarshal(list[1], &s.Port); err != nil || s.Port <= 0 || s.Port > 65535 {
				return fmt.Errorf("server.bind: invalid port %s", list[1])
			}
			s.mark("port")
		}
	case "workers":
		if len(list) > 0 && string(list[0]) != "null" {
			var n int
			if err := json.Unmarshal(list[0], &n); err != nil || n <= 0 {
				return fmt.Errorf("server.workers: invalid count %s", list[0])
			}
			s.Workers = n
			s.mark("workers")
		}
	case "config":
		if len(list) == 0 {
			return nil
		}
		var opts struct {
			MaxConnections *int  `json:"maxConnections"`
			MaxConnSnake   *int  `json:"max_connections"`
			Backlog        *int  `json:"backlog"`
			KeepAlive      *bool `json:"keepAlive"`
			KeepAliveSnake *bool `json:"keep_alive"`
		}
		if err := json.Unmarshal(list[0], &opts); err != nil {
			return fmt.Errorf("server.config: %w", err)
		}
		if opts.MaxConnections == nil {
			opts.MaxConnections = opts.MaxConnSnake
		}
		if opts.KeepAlive == nil {
			opts.KeepAlive = opts.KeepAliveSnake
		}
		if opts.MaxConnections != nil {
			s.MaxConnections = *opts.MaxConnections
			s.mark("max_connections")
		}
		if opts.Backlog != nil {
			s.Backlog = *opts.Backlog
			s.mark("backlog")
		}
		if opts.KeepAlive != nil {
			s.KeepAlive = *opts.KeepAlive
			s.mark("keep_alive")
		}
	case "run":
		s.Run = true
	default:
		return fmt.Errorf("server.%s: unknown operation", op)
	}
	return nil
}

// RouteAdder receives registrations made by the entry script.
type RouteAdder interface {
	Register(method, path string, ref core.HandlerRef) error
}

// WorkerShims returns the extension installing inert route and server
// objects. Every worker instance gets it.
func WorkerShims() core.Extension {
	return core.Extension{
		Name:          "compat",
		MultiInstance: true,
		Setup: func(rt core.JSRuntime) error {
			return rt.Eval(workerShimJS)
		},
	}
}

// Registrar records route and server calls made while the entry script
// runs. Err returns the first registration failure, which the script may
// have caught and ignored.
type Registrar struct {
	routes   RouteAdder
	settings *ServerSettings

	mu    sync.Mutex
	first error
}

// NewRegistrar returns a registrar writing into routes and settings.
func NewRegistrar(routes RouteAdder, settings *ServerSettings) *Registrar {
	return &Registrar{routes: routes, settings: settings}
}

// Err reports the first failed registration.
func (r *Registrar) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.first
}

func (r *Registrar) fail(err error) error {
	r.mu.Lock()
	if r.first == nil {
		r.first = err
	}
	r.mu.Unlock()
	return err
}

// Extension returns the live route/server binding.
func (r *Registrar) Extension() core.Extension {
	return core.Extension{
		Name:          "registrar",
		MultiInstance: true,
		Setup: func(rt core.JSRuntime) error {
			if err := rt.RegisterFunc("__turbox_route_add", func(method, path, name, module, file string) (string, error) {
				ref := core.HandlerRef{Name: name, Module: module, File: file}
				if err := r.routes.Register(method, path, ref); err != nil {
					return "", r.fail(err)
				}
				return "", nil
			}); err != nil {
				return err
			}
			if err := rt.RegisterFunc("__turbox_server", func(op, args string) (string, error) {
				if err := r.settings.apply(op, args); err != nil {
					return "", r.fail(err)
				}
				return "", nil
			}); err != nil {
				return err
			}
			return rt.Eval(registrarJS)
		},
	}
}
