package dispatch

import (
	"fmt"
	"io"
	"net/http"

	"github.com/cryguy/turbox/internal/core"
	"github.com/cryguy/turbox/internal/marshal"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-Id"

// ReadRequest collects r into a wire request, reading at most maxBody
// bytes of body (core.DefaultMaxBodyBytes when maxBody <= 0). It runs on
// the front end's goroutine, before any instance is involved. On a body
// read failure the returned request is still populated, minus the body,
// and the error wraps core.ErrBodyRead.
func ReadRequest(r *http.Request, maxBody int64) (*core.Request, error) {
	if maxBody <= 0 {
		maxBody = core.DefaultMaxBodyBytes
	}
	id := r.Header.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	headers := marshal.HeadersFrom(r.Header)
	if r.Host != "" {
		headers["host"] = r.Host
	}
	req := &core.Request{
		ID:      id,
		Method:  r.Method,
		Path:    r.URL.Path,
		Headers: headers,
	}
	if r.Body == nil || r.Body == http.NoBody {
		return req, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return req, fmt.Errorf("%w: %w", core.ErrBodyRead, err)
	}
	if int64(len(body)) > maxBody {
		return req, fmt.Errorf("%w: body exceeds %d bytes", core.ErrBodyRead, maxBody)
	}
	req.Body = body
	return req, nil
}

// WriteResponse writes res to w.
func WriteResponse(w http.ResponseWriter, req *core.Request, res *core.Result) {
	resp := res.Response
	if req != nil && req.ID != "" {
		w.Header().Set(RequestIDHeader, req.ID)
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.StatusCode)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}
