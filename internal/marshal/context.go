package marshal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cryguy/turbox/internal/bindings"
	"github.com/cryguy/turbox/internal/core"
)

// Context is the request as a handler sees it.
type Context struct {
	Method  string
	Path    string
	Body    []byte
	Headers map[string]string
}

// NewContext builds the context for req.
func NewContext(req *core.Request) *Context {
	headers := req.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	return &Context{
		Method:  req.Method,
		Path:    req.Path,
		Body:    req.Body,
		Headers: headers,
	}
}

// HeadersFrom flattens h into one value per name. Names are lowercased,
// so scripts read ctx.headers["content-type"]. When a name repeats, the
// last value wins.
func HeadersFrom(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		out[strings.ToLower(name)] = values[len(values)-1]
	}
	return out
}

type payload struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// Payload is the JSON document the glue turns into the context object.
// Body is decoded as UTF-8 with invalid sequences replaced.
func (c *Context) Payload() (string, error) {
	data, err := json.Marshal(payload{
		Method:  c.Method,
		Path:    c.Path,
		Body:    string(c.Body),
		Headers: c.Headers,
	})
	if err != nil {
		return "", fmt.Errorf("encoding context: %w", err)
	}
	return string(data), nil
}

// Inject stages the context in rt for the next __turbox.invoke call. The
// raw body is staged as an ArrayBuffer when the runtime supports binary
// transfer, which backs ctx.bytes().
func (c *Context) Inject(rt core.JSRuntime) error {
	doc, err := c.Payload()
	if err != nil {
		return err
	}
	if err := rt.SetGlobal(bindings.RequestGlobal, doc); err != nil {
		return fmt.Errorf("staging context: %w", err)
	}
	if bt, ok := rt.(core.BinaryTransferer); ok {
		if err := bt.WriteBinaryToJS(bindings.RawBodyGlobal, c.Body); err != nil {
			return fmt.Errorf("staging body: %w", err)
		}
	}
	return nil
}
