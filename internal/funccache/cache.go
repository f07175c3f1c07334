// Package funccache resolves route keys to callable handles inside one
// worker's runtime instance and remembers them.
//
// A Cache belongs to a single worker. It is a plain map with no locking:
// only the owning worker goroutine ever touches it.
package funccache

import (
	"encoding/json"
	"fmt"

	"github.com/cryguy/turbox/internal/core"
	"github.com/cryguy/turbox/internal/instance"
	"github.com/cryguy/turbox/internal/marshal"
)

// Kind says which part of a route key could not be resolved.
type Kind int

const (
	ModuleNotFound Kind = iota + 1
	CallableNotFound
)

// LookupError reports a failed cold-path resolution. It matches
// core.ErrModuleNotFound or core.ErrCallableNotFound through errors.Is.
type LookupError struct {
	Kind     Kind
	Module   string
	Callable string
	// Err is the import failure, if the module exists but raised.
	Err error
}

func (e *LookupError) Error() string {
	if e.Kind == CallableNotFound {
		return fmt.Sprintf("Function '%s' not found in module '%s'", e.Callable, e.Module)
	}
	return fmt.Sprintf("Module '%s' not found", e.Module)
}

func (e *LookupError) Unwrap() []error {
	sentinel := core.ErrModuleNotFound
	if e.Kind == CallableNotFound {
		sentinel = core.ErrCallableNotFound
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// Callable is anything the pipeline can invoke with a request context.
type Callable interface {
	Invoke(a *instance.Active, c *marshal.Context) (marshal.Value, error)
}

// Cache maps route keys to handles bound in one instance.
type Cache struct {
	owner   *instance.Instance
	handles map[core.RouteKey]*Handle
	onMiss  func()
}

// New returns an empty cache. onMiss, if set, is called on every cold
// path resolution.
func New(onMiss func()) *Cache {
	return &Cache{handles: make(map[core.RouteKey]*Handle), onMiss: onMiss}
}

// Len returns the number of cached handles.
func (c *Cache) Len() int { return len(c.handles) }

// Resolve returns the handle for key. The first Resolve binds the cache
// to a's instance; an Active from any other instance is refused.
func (c *Cache) Resolve(a *instance.Active, key core.RouteKey) (*Handle, error) {
	if !a.Valid() {
		return nil, core.ErrNotActive
	}
	if c.owner == nil {
		c.owner = a.Instance()
	} else if c.owner != a.Instance() {
		return nil, fmt.Errorf("resolving %s: %w", key, core.ErrForeignCallable)
	}
	if h, ok := c.handles[key]; ok {
		return h, nil
	}

	if c.onMiss != nil {
		c.onMiss()
	}
	h, err := bind(a, key)
	if err != nil {
		return nil, err
	}
	c.handles[key] = h
	return h, nil
}

type bindResult struct {
	ID    *int   `json:"id"`
	Error string `json:"error"`
	Text  string `json:"text"`
}

// bind imports key.Module in the active instance and takes a handle on
// key.Callable.
func bind(a *instance.Active, key core.RouteKey) (*Handle, error) {
	out, err := a.Runtime().EvalString(fmt.Sprintf("__turbox.bind(%q, %q)", key.Module, key.Callable))
	if err != nil {
		return nil, &LookupError{Kind: ModuleNotFound, Module: key.Module, Callable: key.Callable, Err: err}
	}
	var res bindResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		return nil, fmt.Errorf("binding %s: %w", key, err)
	}
	switch {
	case res.ID != nil:
		return &Handle{owner: a.Instance(), id: *res.ID, key: key}, nil
	case res.Error == "callable":
		return nil, &LookupError{Kind: CallableNotFound, Module: key.Module, Callable: key.Callable}
	default:
		le := &LookupError{Kind: ModuleNotFound, Module: key.Module, Callable: key.Callable}
		if res.Text != "" {
			le.Err = fmt.Errorf("importing %s: %s", key.Module, res.Text)
		}
		return nil, le
	}
}
