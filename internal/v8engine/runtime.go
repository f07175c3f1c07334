//go:build v8

package v8engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"github.com/cryguy/turbox/internal/core"
	v8 "github.com/tommie/v8go"
)

// v8Runtime implements core.JSRuntime on one isolate+context pair.
type v8Runtime struct {
	iso *v8.Isolate
	ctx *v8.Context
}

var _ core.JSRuntime = (*v8Runtime)(nil)
var _ core.BinaryTransferer = (*v8Runtime)(nil)

// Eval evaluates JavaScript and discards the result.
func (r *v8Runtime) Eval(js string) error {
	_, err := r.ctx.RunScript(js, "eval.js")
	return err
}

// EvalString evaluates JavaScript and returns the result as a Go string.
func (r *v8Runtime) EvalString(js string) (string, error) {
	val, err := r.ctx.RunScript(js, "eval_string.js")
	if err != nil {
		return "", err
	}
	if val == nil {
		return "", nil
	}
	return val.String(), nil
}

// EvalBool evaluates JavaScript and returns the result as a Go bool.
func (r *v8Runtime) EvalBool(js string) (bool, error) {
	val, err := r.ctx.RunScript(js, "eval_bool.js")
	if err != nil {
		return false, err
	}
	if val == nil {
		return false, nil
	}
	return val.Boolean(), nil
}

// RegisterFunc registers a Go function as a global JavaScript function.
//
// Supported signatures: func(args...), func(args...) T and
// func(args...) (T, error). Arguments and results may be string, int,
// float64 or bool. A non-nil error is thrown as an exception.
func (r *v8Runtime) RegisterFunc(name string, fn any) error {
	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()
	if fnType.Kind() != reflect.Func {
		return fmt.Errorf("RegisterFunc: expected function, got %T", fn)
	}

	tmpl := v8.NewFunctionTemplate(r.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		if len(args) < fnType.NumIn() {
			msg := fmt.Sprintf("%s requires at least %d argument(s), got %d", name, fnType.NumIn(), len(args))
			jsMsg, _ := v8.NewValue(r.iso, msg)
			r.iso.ThrowException(jsMsg)
			return nil
		}

		goArgs := make([]reflect.Value, fnType.NumIn())
		for i := 0; i < fnType.NumIn(); i++ {
			goArgs[i] = jsToGoArg(args[i], fnType.In(i))
		}

		results := fnVal.Call(goArgs)
		switch fnType.NumOut() {
		case 1:
			return goToJSValue(r.iso, results[0])
		case 2:
			if errVal := results[1]; !errVal.IsNil() {
				msg := fmt.Sprintf("calling %s: %s", name, errVal.Interface().(error).Error())
				jsMsg, _ := v8.NewValue(r.iso, msg)
				r.iso.ThrowException(jsMsg)
				return nil
			}
			return goToJSValue(r.iso, results[0])
		default:
			return nil
		}
	})

	return r.ctx.Global().Set(name, tmpl.GetFunction(r.ctx))
}

// SetGlobal sets a global variable on the context.
func (r *v8Runtime) SetGlobal(name string, value any) error {
	jsVal, err := goAnyToJSValue(r.iso, r.ctx, value)
	if err != nil {
		return fmt.Errorf("converting value for %q: %w", name, err)
	}
	return r.ctx.Global().Set(name, jsVal)
}

// RunMicrotasks pumps the V8 microtask queue.
func (r *v8Runtime) RunMicrotasks() {
	r.ctx.PerformMicrotaskCheckpoint()
}

// Close disposes the context and isolate.
func (r *v8Runtime) Close() {
	if r.ctx != nil {
		r.ctx.Close()
		r.ctx = nil
	}
	if r.iso != nil {
		r.iso.Dispose()
		r.iso = nil
	}
}

// ReadBinaryFromJS copies the ArrayBuffer at globalName through a
// SharedArrayBuffer and deletes the global.
func (r *v8Runtime) ReadBinaryFromJS(globalName string) ([]byte, error) {
	if err := r.Eval(fmt.Sprintf(`(function() {
		var buf = globalThis[%q];
		delete globalThis[%q];
		var n = buf ? buf.byteLength : 0;
		var sab = new SharedArrayBuffer(n);
		if (n > 0) new Uint8Array(sab).set(new Uint8Array(buf));
		globalThis.__tmp_read_sab = sab;
	})()`, globalName, globalName)); err != nil {
		return nil, fmt.Errorf("staging %s: %w", globalName, err)
	}
	defer func() { _ = r.Eval("delete globalThis.__tmp_read_sab;") }()

	sabVal, err := r.ctx.Global().Get("__tmp_read_sab")
	if err != nil {
		return nil, fmt.Errorf("retrieving %s: %w", globalName, err)
	}
	data, release, err := sabVal.SharedArrayBufferGetContents()
	if err != nil {
		return nil, fmt.Errorf("reading SharedArrayBuffer %s: %w", globalName, err)
	}
	defer release()
	if len(data) == 0 {
		return nil, nil
	}
	result := make([]byte, len(data))
	copy(result, data)
	return result, nil
}

// WriteBinaryToJS stores a copy of data as an ArrayBuffer at globalName.
func (r *v8Runtime) WriteBinaryToJS(globalName string, data []byte) error {
	allocScript := fmt.Sprintf("globalThis.__tmp_write_sab = new SharedArrayBuffer(%d);", len(data))
	if err := r.Eval(allocScript); err != nil {
		return fmt.Errorf("allocating SharedArrayBuffer: %w", err)
	}

	if len(data) > 0 {
		sabVal, err := r.ctx.Global().Get("__tmp_write_sab")
		if err != nil {
			_ = r.Eval("delete globalThis.__tmp_write_sab;")
			return fmt.Errorf("retrieving SharedArrayBuffer: %w", err)
		}
		sabBytes, release, err := sabVal.SharedArrayBufferGetContents()
		if err != nil {
			_ = r.Eval("delete globalThis.__tmp_write_sab;")
			return fmt.Errorf("getting SharedArrayBuffer contents: %w", err)
		}
		copy(sabBytes, data)
		release()
	}

	return r.Eval(fmt.Sprintf(`(function() {
		var sab = globalThis.__tmp_write_sab;
		delete globalThis.__tmp_write_sab;
		var buf = new ArrayBuffer(sab.byteLength);
		new Uint8Array(buf).set(new Uint8Array(sab));
		globalThis[%q] = buf;
	})()`, globalName))
}

// jsToGoArg converts a V8 value to a Go reflect.Value of the expected type.
func jsToGoArg(val *v8.Value, targetType reflect.Type) reflect.Value {
	switch targetType.Kind() {
	case reflect.String:
		return reflect.ValueOf(val.String())
	case reflect.Int:
		return reflect.ValueOf(int(val.Integer()))
	case reflect.Int64:
		return reflect.ValueOf(val.Integer())
	case reflect.Float64:
		return reflect.ValueOf(val.Number())
	case reflect.Bool:
		return reflect.ValueOf(val.Boolean())
	default:
		return reflect.Zero(targetType)
	}
}

// goToJSValue converts a Go reflect.Value to a V8 value.
func goToJSValue(iso *v8.Isolate, val reflect.Value) *v8.Value {
	if !val.IsValid() {
		return nil
	}
	var v *v8.Value
	switch val.Kind() {
	case reflect.String:
		v, _ = v8.NewValue(iso, val.String())
	case reflect.Int, reflect.Int64, reflect.Int32:
		v, _ = v8.NewValue(iso, int32(val.Int()))
	case reflect.Float64, reflect.Float32:
		v, _ = v8.NewValue(iso, val.Float())
	case reflect.Bool:
		v, _ = v8.NewValue(iso, val.Bool())
	}
	return v
}

// goAnyToJSValue converts a Go value to a V8 value, going through JSON for
// anything that is not a basic type.
func goAnyToJSValue(iso *v8.Isolate, ctx *v8.Context, value any) (*v8.Value, error) {
	switch v := value.(type) {
	case nil:
		return v8.Undefined(iso), nil
	case string:
		return v8.NewValue(iso, v)
	case int:
		return v8.NewValue(iso, int32(v))
	case int64:
		return v8.NewValue(iso, int32(v))
	case float64:
		return v8.NewValue(iso, v)
	case bool:
		return v8.NewValue(iso, v)
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshaling value: %w", err)
		}
		return ctx.RunScript(fmt.Sprintf("JSON.parse(%s)", strconv.Quote(string(data))), "set_global.js")
	}
}
