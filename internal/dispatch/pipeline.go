package dispatch

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cryguy/turbox/internal/core"
	"github.com/cryguy/turbox/internal/funccache"
	"github.com/cryguy/turbox/internal/instance"
	"github.com/cryguy/turbox/internal/marshal"
	"github.com/cryguy/turbox/internal/routes"
	"go.uber.org/zap"
)

const (
	bodyNotFound      = "Not Found"
	bodyInternalError = "Internal Server Error"
)

// Pipeline runs one request through route lookup, instance activation,
// invocation and conversion. It belongs to one worker.
type Pipeline struct {
	worker   int
	registry *routes.Registry
	manager  *instance.Manager
	cache    *funccache.Cache
	rec      Recorder
	log      *zap.Logger
}

// NewPipeline assembles a pipeline. A nil rec disables telemetry.
func NewPipeline(worker int, registry *routes.Registry, manager *instance.Manager, cache *funccache.Cache, rec Recorder, log *zap.Logger) *Pipeline {
	if rec == nil {
		rec = nopRecorder{}
	}
	if log == nil {
		log = core.Logger()
	}
	return &Pipeline{
		worker:   worker,
		registry: registry,
		manager:  manager,
		cache:    cache,
		rec:      rec,
		log:      log,
	}
}

// Fatal returns the instance creation failure that stops this pipeline's
// worker, if any.
func (p *Pipeline) Fatal() error {
	return p.manager.Err()
}

// Dispatch serves req. It never returns nil; failures are reported as
// responses with the matching terminal state.
func (p *Pipeline) Dispatch(req *core.Request) *core.Result {
	start := time.Now()
	state := Received
	res := &core.Result{Worker: p.worker}
	defer func() {
		res.State = state.String()
		res.Duration = time.Since(start)
		p.rec.ObserveDispatch(res.State, res.Duration)
	}()

	key, ok := p.registry.Lookup(req.Method, req.Path)
	if !ok {
		state = NotFound
		res.Error = fmt.Errorf("%s %s: %w", req.Method, req.Path, core.ErrRouteNotFound)
		res.Response = textResponse(http.StatusNotFound, bodyNotFound)
		return res
	}
	state = RouteResolved
	res.Route = key

	ctx := marshal.NewContext(req)
	var body []byte
	var contentType string
	err := p.manager.Run(func(a *instance.Active) error {
		state = RuntimeActive
		h, err := p.cache.Resolve(a, key)
		if err != nil {
			return err
		}
		v, err := h.Invoke(a, ctx)
		if err != nil {
			return err
		}
		state = Invoked
		body, contentType = v.Encode()
		state = Converted
		return nil
	})
	if err != nil {
		res.Error = err
		state = p.fail(req, key, err, res)
		return res
	}

	state = RuntimeSuspended
	res.Response = &core.Response{StatusCode: http.StatusOK, ContentType: contentType, Body: body}
	state = Responded
	return res
}

// fail maps an error from the active section to a response and terminal
// state.
func (p *Pipeline) fail(req *core.Request, key core.RouteKey, err error, res *core.Result) State {
	log := p.log.With(
		zap.Int("worker", p.worker),
		zap.String("request_id", req.ID),
		zap.String("route", key.String()),
	)

	var le *funccache.LookupError
	switch {
	case errors.As(err, &le):
		fields := []zap.Field{zap.String("error", le.Error())}
		if le.Err != nil {
			fields = append(fields, zap.NamedError("cause", le.Err))
		}
		log.Warn("handler missing", fields...)
		res.Response = textResponse(http.StatusInternalServerError, le.Error())
		return HandlerMissing

	case core.Classify(err) == core.ClassFatal:
		log.Error("runtime instance creation failed, worker stopping", zap.Error(err))
		res.Response = textResponse(http.StatusInternalServerError, bodyInternalError)
		return InstanceFailed

	default:
		fields := []zap.Field{zap.Error(err)}
		var se *marshal.ScriptError
		if errors.As(err, &se) && se.Stack != "" {
			fields = append(fields, zap.String("stack", se.Stack))
		}
		log.Error("handler raised", fields...)
		res.Response = textResponse(http.StatusInternalServerError, bodyInternalError)
		return HandlerError
	}
}

// BodyReadFailure is the result for a request whose body could not be
// read. No instance is touched. A nil log falls back to core.Logger().
func BodyReadFailure(req *core.Request, err error, log *zap.Logger) *core.Result {
	res := &core.Result{
		State:    BodyReadError.String(),
		Error:    err,
		Response: textResponse(http.StatusInternalServerError, bodyInternalError),
		Worker:   -1,
	}
	if log == nil {
		log = core.Logger()
	}
	if req != nil {
		log.Warn("reading request body",
			zap.String("request_id", req.ID),
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Error(err))
	}
	return res
}

func textResponse(status int, body string) *core.Response {
	return &core.Response{
		StatusCode:  status,
		ContentType: marshal.ContentTypeText,
		Body:        []byte(body),
	}
}
