package turbox

import (
	"github.com/cryguy/turbox/internal/bindings"
	"github.com/cryguy/turbox/internal/core"
	"github.com/cryguy/turbox/internal/routes"
)

// Type aliases re-exporting internal types so downstream code can use
// turbox.Request, turbox.HandlerRef, etc. without importing the internal
// packages directly.

type Config = core.Config
type Request = core.Request
type Response = core.Response
type Result = core.Result
type RouteKey = core.RouteKey
type HandlerRef = core.HandlerRef
type Route = routes.Route
type Engine = core.Engine
type JSRuntime = core.JSRuntime
type Extension = core.Extension
type ServerSettings = bindings.ServerSettings
type ErrorClass = core.ErrorClass

// Constants re-exported from core.
const (
	MainModule          = core.MainModule
	DefaultMaxBodyBytes = core.DefaultMaxBodyBytes
)

// Errors re-exported from core.
var (
	ErrRouteNotFound    = core.ErrRouteNotFound
	ErrInvalidHandler   = core.ErrInvalidHandler
	ErrModuleNotFound   = core.ErrModuleNotFound
	ErrCallableNotFound = core.ErrCallableNotFound
	ErrHandlerRuntime   = core.ErrHandlerRuntime
	ErrBodyRead         = core.ErrBodyRead
	ErrInstanceCreate   = core.ErrInstanceCreate
	ErrForeignCallable  = core.ErrForeignCallable
	ErrAlreadyActive    = core.ErrAlreadyActive
	ErrNotActive        = core.ErrNotActive
	ErrPoolClosed       = core.ErrPoolClosed
)

// Functions re-exported from core and bindings.
var (
	Classify              = core.Classify
	SetLogger             = core.SetLogger
	DefaultServerSettings = bindings.DefaultServerSettings
)
