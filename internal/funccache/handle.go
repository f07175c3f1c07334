package funccache

import (
	"fmt"

	"github.com/cryguy/turbox/internal/core"
	"github.com/cryguy/turbox/internal/instance"
	"github.com/cryguy/turbox/internal/marshal"
)

// Handle is a callable bound inside one instance. It is only usable while
// that instance is active.
type Handle struct {
	owner *instance.Instance
	id    int
	key   core.RouteKey
}

var _ Callable = (*Handle)(nil)

// Key returns the route key the handle was resolved from.
func (h *Handle) Key() core.RouteKey { return h.key }

// Invoke calls the handler with c and classifies its return value. A
// returned promise is settled by draining the job queue; if it is still
// pending afterwards the call fails, since nothing else would ever settle
// it while the instance is suspended.
func (h *Handle) Invoke(a *instance.Active, c *marshal.Context) (marshal.Value, error) {
	if !a.Valid() {
		return marshal.Value{}, core.ErrNotActive
	}
	if a.Instance() != h.owner {
		return marshal.Value{}, fmt.Errorf("invoking %s: %w", h.key, core.ErrForeignCallable)
	}
	rt := a.Runtime()
	if err := c.Inject(rt); err != nil {
		return marshal.Value{}, fmt.Errorf("%w: %s: %w", core.ErrHandlerRuntime, h.key, err)
	}

	out, err := rt.EvalString(fmt.Sprintf("__turbox.invoke(%d)", h.id))
	if err != nil {
		return marshal.Value{}, fmt.Errorf("%w: %s: %w", core.ErrHandlerRuntime, h.key, err)
	}
	v, pending, err := marshal.Decode(rt, out)
	if err != nil || !pending {
		return v, err
	}

	rt.RunMicrotasks()
	if out, err = rt.EvalString("__turbox.settle()"); err != nil {
		return marshal.Value{}, fmt.Errorf("%w: %s: %w", core.ErrHandlerRuntime, h.key, err)
	}
	v, pending, err = marshal.Decode(rt, out)
	if err != nil {
		return v, err
	}
	if pending {
		return marshal.Value{}, fmt.Errorf("%w: %s: promise did not settle", core.ErrHandlerRuntime, h.key)
	}
	return v, nil
}
