//go:build v8

package v8engine

import (
	"github.com/cryguy/turbox/internal/core"
	v8 "github.com/tommie/v8go"
)

// Engine creates V8 runtimes, one isolate per runtime. Isolates have
// separate heaps and their own locker, which is what the bridge needs
// from an instance.
type Engine struct{}

var _ core.Engine = Engine{}

// NewEngine returns the V8 engine.
func NewEngine() Engine { return Engine{} }

// Name implements core.Engine.
func (Engine) Name() string { return "v8" }

// NewRuntime creates a fresh isolate and context.
func (Engine) NewRuntime(opts core.RuntimeOptions) (core.JSRuntime, error) {
	var iso *v8.Isolate
	if opts.MemoryLimitMB > 0 {
		heapSize := uint64(opts.MemoryLimitMB) * 1024 * 1024
		iso = v8.NewIsolate(v8.WithResourceConstraints(heapSize/2, heapSize))
	} else {
		iso = v8.NewIsolate()
	}
	return &v8Runtime{iso: iso, ctx: v8.NewContext(iso)}, nil
}
