package core

import "errors"

// Bridge error taxonomy. Components wrap these with fmt.Errorf("...: %w")
// so callers can test with errors.Is.
var (
	ErrRouteNotFound    = errors.New("route not found")
	ErrInvalidHandler   = errors.New("invalid handler")
	ErrModuleNotFound   = errors.New("module not found")
	ErrCallableNotFound = errors.New("callable not found")
	ErrHandlerRuntime   = errors.New("handler raised an error")
	ErrBodyRead         = errors.New("reading request body")

	// ErrInstanceCreate is fatal for the worker that hit it.
	ErrInstanceCreate = errors.New("creating runtime instance")

	ErrForeignCallable = errors.New("callable belongs to a different runtime instance")
	ErrAlreadyActive   = errors.New("runtime instance is already active")
	ErrNotActive       = errors.New("runtime instance is not active")
	ErrPoolClosed      = errors.New("worker pool is closed")
)

// ErrorClass groups errors by how the dispatch boundary reacts to them.
type ErrorClass int

const (
	// ClassUnknown is anything outside the taxonomy.
	ClassUnknown ErrorClass = iota
	// ClassNotFound maps to 404.
	ClassNotFound
	// ClassInvalid is a registration-time problem.
	ClassInvalid
	// ClassHandler covers resolution and invocation failures (500).
	ClassHandler
	// ClassTransport covers front-end I/O failures (500).
	ClassTransport
	// ClassFatal leaves a worker unable to serve.
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNotFound:
		return "not_found"
	case ClassInvalid:
		return "invalid"
	case ClassHandler:
		return "handler"
	case ClassTransport:
		return "transport"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify reports the class of err.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrInstanceCreate):
		return ClassFatal
	case errors.Is(err, ErrRouteNotFound):
		return ClassNotFound
	case errors.Is(err, ErrInvalidHandler):
		return ClassInvalid
	case errors.Is(err, ErrBodyRead):
		return ClassTransport
	case errors.Is(err, ErrModuleNotFound),
		errors.Is(err, ErrCallableNotFound),
		errors.Is(err, ErrHandlerRuntime),
		errors.Is(err, ErrForeignCallable),
		errors.Is(err, ErrAlreadyActive),
		errors.Is(err, ErrNotActive):
		return ClassHandler
	default:
		return ClassUnknown
	}
}
