package core

import "time"

// MainModule is the module name a handler reports when it was declared in
// the entry script rather than in an importable module.
const MainModule = "__main__"

// RouteKey fully qualifies a handler inside a runtime instance.
type RouteKey struct {
	Module   string
	Callable string
}

func (k RouteKey) String() string {
	return k.Module + "." + k.Callable
}

// HandlerRef is what registration code hands to the registry: the
// handler's own name plus the identity of the module that declared it.
// File is only consulted when Module is MainModule.
type HandlerRef struct {
	Name   string
	Module string
	File   string
}

// Request is the wire-level request delivered by the HTTP front end with
// its body already collected.
type Request struct {
	ID      string
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Response is what the bridge hands back to the HTTP front end.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Result wraps a response with dispatch metadata.
type Result struct {
	Response *Response
	State    string // terminal pipeline state, e.g. "Responded" or "NotFound"
	Route    RouteKey
	Error    error
	Duration time.Duration
	Worker   int
}
