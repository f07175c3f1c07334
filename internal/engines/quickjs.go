//go:build !v8

// Package engines picks the scripting engine compiled into the binary.
// QuickJS is the default; building with -tags v8 selects V8.
package engines

import (
	"github.com/cryguy/turbox/internal/core"
	"github.com/cryguy/turbox/internal/quickjs"
)

// Default returns the engine selected at build time.
func Default() core.Engine {
	return quickjs.NewEngine()
}
