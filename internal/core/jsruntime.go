package core

// JSRuntime abstracts the JavaScript engine (QuickJS or V8) behind the
// small surface the bridge needs. A JSRuntime belongs to exactly one
// runtime instance and must only be used by the worker that created it.
type JSRuntime interface {
	// Eval evaluates JavaScript source and discards the result.
	Eval(js string) error

	// EvalString evaluates JavaScript and returns the result as a Go string.
	EvalString(js string) (string, error)

	// EvalBool evaluates JavaScript and returns the result as a Go bool.
	EvalBool(js string) (bool, error)

	// RegisterFunc registers a Go function as a global JavaScript function.
	// Functions returning (T, error) throw in JS when the error is non-nil.
	RegisterFunc(name string, fn any) error

	// SetGlobal sets a global variable. Basic Go types (string, int,
	// float64, bool) are converted to their JS equivalents.
	SetGlobal(name string, value any) error

	// RunMicrotasks pumps the job queue (promise reactions) until empty.
	RunMicrotasks()

	// Close releases the engine's heap. The runtime is unusable afterwards.
	Close()
}

// BinaryTransferer is an optional interface that JSRuntime implementations
// can provide for copying byte buffers between Go and JS without a string
// round-trip.
type BinaryTransferer interface {
	// ReadBinaryFromJS reads the ArrayBuffer stored at the given global
	// name, deletes the global and returns the bytes.
	ReadBinaryFromJS(globalName string) ([]byte, error)

	// WriteBinaryToJS stores a copy of data as an ArrayBuffer at the given
	// global name.
	WriteBinaryToJS(globalName string, data []byte) error
}

// RuntimeOptions configures a freshly created engine heap.
type RuntimeOptions struct {
	MemoryLimitMB int
}

// Engine creates isolated JSRuntime values. Each call must return a
// runtime with its own heap that shares no live objects with any other.
type Engine interface {
	Name() string
	NewRuntime(opts RuntimeOptions) (JSRuntime, error)
}

// Extension is a named piece of setup run once on every new runtime
// instance. MultiInstance declares that the extension keeps no state tied
// to a single instance; instances created with extension checking enabled
// refuse extensions that do not declare it.
type Extension struct {
	Name          string
	MultiInstance bool
	Setup         func(rt JSRuntime) error
}
