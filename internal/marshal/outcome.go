package marshal

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/cryguy/turbox/internal/bindings"
	"github.com/cryguy/turbox/internal/core"
)

// ScriptError is an exception raised by a handler, or the rejection
// reason of the promise it returned.
type ScriptError struct {
	Name    string
	Message string
	Stack   string
}

func (e *ScriptError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

// Unwrap makes every script error match core.ErrHandlerRuntime.
func (e *ScriptError) Unwrap() error { return core.ErrHandlerRuntime }

// outcome is the JSON the glue's invoke and settle functions return.
type outcome struct {
	Kind  string `json:"kind"`
	Text  string `json:"text"`
	Bool  bool   `json:"bool"`
	Name  string `json:"name"`
	Stack string `json:"stack"`
}

// Decode turns a glue outcome into a Value. pending is true when the
// handler returned a promise that has not settled yet.
func Decode(rt core.JSRuntime, raw string) (v Value, pending bool, err error) {
	var o outcome
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return Value{}, false, fmt.Errorf("%w: decoding handler result: %w", core.ErrHandlerRuntime, err)
	}
	switch o.Kind {
	case "pending":
		return Value{}, true, nil
	case "error":
		return Value{}, false, &ScriptError{Name: o.Name, Message: o.Text, Stack: o.Stack}
	case "bytes":
		if bt, ok := rt.(core.BinaryTransferer); ok && o.Text == "" {
			b, err := bt.ReadBinaryFromJS(bindings.OutputGlobal)
			if err != nil {
				return Value{}, false, fmt.Errorf("%w: reading bytes result: %w", core.ErrHandlerRuntime, err)
			}
			return Bytes(b), false, nil
		}
		b, err := hex.DecodeString(o.Text)
		if err != nil {
			return Value{}, false, fmt.Errorf("%w: decoding bytes result: %w", core.ErrHandlerRuntime, err)
		}
		return Bytes(b), false, nil
	case "text":
		return Text(o.Text), false, nil
	case "bool":
		return Bool(o.Bool), false, nil
	case "null":
		return Null(), false, nil
	case "structured":
		return Structured(o.Text), false, nil
	case "fallback":
		return Fallback(o.Text), false, nil
	default:
		return Value{}, false, fmt.Errorf("%w: unknown result kind %q", core.ErrHandlerRuntime, o.Kind)
	}
}
