//go:build !v8

package quickjs

import (
	"fmt"

	"github.com/cryguy/turbox/internal/core"
	"modernc.org/quickjs"
)

// Engine creates QuickJS runtimes. Every runtime is a separate VM with its
// own JSRuntime heap, so values never cross between them.
type Engine struct{}

var _ core.Engine = Engine{}

// NewEngine returns the QuickJS engine.
func NewEngine() Engine { return Engine{} }

// Name implements core.Engine.
func (Engine) Name() string { return "quickjs" }

// NewRuntime creates a fresh VM.
func (Engine) NewRuntime(opts core.RuntimeOptions) (core.JSRuntime, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}
	if opts.MemoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(opts.MemoryLimitMB) * 1024 * 1024)
	}

	rt := &qjsRuntime{vm: vm}
	if err := rt.initBinaryTransfer(); err != nil {
		vm.Close()
		return nil, fmt.Errorf("binary transfer setup: %w", err)
	}
	return rt, nil
}
