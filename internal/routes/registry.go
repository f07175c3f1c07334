// Package routes maps (method, path) pairs to the handler that serves them.
//
// The registry is populated while the application sets up and is read by
// every worker on every request afterwards. It is the only structure the
// workers share.
package routes

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cryguy/turbox/internal/core"
)

// entryKey is the registry key.
type entryKey struct {
	Method string
	Path   string
}

// Route is one registry entry, as reported by Routes.
type Route struct {
	Method string
	Path   string
	Key    core.RouteKey
}

// Registry is a concurrent (method, path) → RouteKey map. Lookups never
// block each other, including while registration is still going on.
type Registry struct {
	entries sync.Map // entryKey -> core.RouteKey
	workDir string
}

// NewRegistry returns an empty registry. workDir anchors the module name
// derivation for handlers declared in the entry script.
func NewRegistry(workDir string) *Registry {
	return &Registry{workDir: workDir}
}

// Register inserts or replaces the route for (method, path).
func (r *Registry) Register(method, path string, ref core.HandlerRef) error {
	key, err := r.resolve(ref)
	if err != nil {
		return fmt.Errorf("registering %s %s: %w", method, path, err)
	}
	r.entries.Store(entryKey{Method: normalizeMethod(method), Path: path}, key)
	return nil
}

// Lookup returns the route key registered for (method, path).
func (r *Registry) Lookup(method, path string) (core.RouteKey, bool) {
	v, ok := r.entries.Load(entryKey{Method: normalizeMethod(method), Path: path})
	if !ok {
		return core.RouteKey{}, false
	}
	return v.(core.RouteKey), true
}

// Len returns the number of registered routes.
func (r *Registry) Len() int {
	n := 0
	r.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Routes returns a snapshot of the registry sorted by path, then method.
func (r *Registry) Routes() []Route {
	var out []Route
	r.entries.Range(func(k, v any) bool {
		ek := k.(entryKey)
		out = append(out, Route{Method: ek.Method, Path: ek.Path, Key: v.(core.RouteKey)})
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// resolve validates ref and turns it into a RouteKey, deriving an
// importable module name for entry-script handlers.
func (r *Registry) resolve(ref core.HandlerRef) (core.RouteKey, error) {
	if ref.Name == "" {
		return core.RouteKey{}, fmt.Errorf("%w: handler has no name", core.ErrInvalidHandler)
	}
	if ref.Module == "" {
		return core.RouteKey{}, fmt.Errorf("%w: handler %q has no declaring module", core.ErrInvalidHandler, ref.Name)
	}

	module := ref.Module
	if module == core.MainModule {
		if ref.File == "" {
			return core.RouteKey{}, fmt.Errorf("%w: handler %q is declared in the entry script but has no source file",
				core.ErrInvalidHandler, ref.Name)
		}
		module = ModuleFromFile(ref.File, r.workDir)
	}
	return core.RouteKey{Module: module, Callable: ref.Name}, nil
}

func normalizeMethod(m string) string {
	return strings.ToUpper(strings.TrimSpace(m))
}
