//go:build !v8

package quickjs

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"unsafe"

	"github.com/cryguy/turbox/internal/core"
	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

// qjsRuntime implements core.JSRuntime for the QuickJS engine.
type qjsRuntime struct {
	vm  *quickjs.VM
	tls *libc.TLS // cached from VM internals for direct C API access
	ctx uintptr   // cached JSContext pointer
	crt uintptr   // cached JSRuntime pointer, used by the job pump

	// useFallback is set when the VM internals could not be extracted
	// (e.g. modernc.org/quickjs changed its unexported struct layout).
	useFallback   bool
	pendingBinary []byte
	pendingResult []byte
}

// hexChunkSize is the raw byte chunk size for the fallback transfer path.
const hexChunkSize = 64 * 1024

var _ core.JSRuntime = (*qjsRuntime)(nil)
var _ core.BinaryTransferer = (*qjsRuntime)(nil)

// Eval evaluates JavaScript and discards the result.
func (r *qjsRuntime) Eval(js string) error {
	v, err := r.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

// EvalString evaluates JavaScript and returns the result as a Go string.
func (r *qjsRuntime) EvalString(js string) (string, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	if s, ok := result.(string); ok {
		return s, nil
	}
	return fmt.Sprint(result), nil
}

// EvalBool evaluates JavaScript and returns the result as a Go bool.
func (r *qjsRuntime) EvalBool(js string) (bool, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", result)
	}
	return b, nil
}

// RegisterFunc registers a Go function as a global JavaScript function.
// The QuickJS Go wrapper returns multi-value results as JS arrays, so
// (T, error) results are unwrapped here: T on success, TypeError on error.
func (r *qjsRuntime) RegisterFunc(name string, fn any) error {
	rawName := "__raw_" + name
	if err := r.vm.RegisterFunc(rawName, fn, false); err != nil {
		return err
	}
	wrapJS := fmt.Sprintf(`(function() {
		var raw = globalThis[%q];
		globalThis[%q] = function() {
			var r = raw.apply(this, arguments);
			if (Array.isArray(r)) {
				if (r[1] !== null && r[1] !== undefined) throw new TypeError("calling %s: " + r[1]);
				return r[0];
			}
			return r;
		};
		delete globalThis[%q];
	})()`, rawName, name, name, rawName)
	return r.Eval(wrapJS)
}

// SetGlobal sets a property on the VM's global object.
func (r *qjsRuntime) SetGlobal(name string, value any) error {
	atom, err := r.vm.NewAtom(name)
	if err != nil {
		return fmt.Errorf("creating atom %q: %w", name, err)
	}
	glob := r.vm.GlobalObject()
	defer glob.Free()
	return glob.SetProperty(atom, value)
}

// RunMicrotasks drains the QuickJS job queue. modernc.org/quickjs never
// calls JS_ExecutePendingJob on its own, so promise reactions only run
// when this pump is called.
func (r *qjsRuntime) RunMicrotasks() {
	if r.tls == nil || r.crt == 0 {
		return
	}
	for lib.XJS_ExecutePendingJob(r.tls, r.crt, 0) > 0 {
	}
}

// Close frees the VM and its heap.
func (r *qjsRuntime) Close() {
	if r.vm != nil {
		r.vm.Close()
		r.vm = nil
	}
}

// extractVMInternals uses reflect+unsafe to cache the VM's tls, context and
// runtime pointers.
//
// VM struct layout (modernc.org/quickjs@v0.17.1):
//
//	type VM struct {
//	    cContext uintptr
//	    ...
//	    runtime  *runtime
//	}
//
//	type runtime struct {
//	    cRuntime uintptr
//	    tls      *libc.TLS
//	}
func (r *qjsRuntime) extractVMInternals() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic extracting VM internals: %v", p)
		}
	}()

	vmPtr := uintptr(unsafe.Pointer(r.vm))
	r.ctx = *(*uintptr)(unsafe.Pointer(vmPtr))
	if r.ctx == 0 {
		return fmt.Errorf("JSContext is nil")
	}

	rtField := reflect.ValueOf(r.vm).Elem().FieldByName("runtime")
	if !rtField.IsValid() || rtField.IsNil() {
		return fmt.Errorf("quickjs.VM missing 'runtime' field")
	}
	rtPtr := unsafe.Pointer(rtField.Pointer())
	rtVal := reflect.NewAt(rtField.Type().Elem(), rtPtr).Elem()

	crtField := rtVal.FieldByName("cRuntime")
	if !crtField.IsValid() {
		return fmt.Errorf("runtime missing 'cRuntime' field")
	}
	r.crt = uintptr(crtField.Uint())

	tlsField := rtVal.FieldByName("tls")
	if !tlsField.IsValid() || tlsField.IsNil() {
		return fmt.Errorf("runtime missing 'tls' field")
	}
	r.tls = (*libc.TLS)(unsafe.Pointer(tlsField.Pointer()))
	return nil
}

// initBinaryTransfer prepares the zero-copy ArrayBuffer path, or the hex
// fallback when the VM internals are not reachable.
func (r *qjsRuntime) initBinaryTransfer() error {
	if err := r.extractVMInternals(); err != nil {
		r.tls, r.ctx, r.crt = nil, 0, 0
		r.useFallback = true
		return r.initFallbackTransfer()
	}

	// Smoke-test the cached pointers.
	glob := lib.XJS_GetGlobalObject(r.tls, r.ctx)
	lib.XFreeValue(r.tls, r.ctx, glob)
	return nil
}

// WriteBinaryToJS stores a copy of data as an ArrayBuffer at globalName
// using JS_NewArrayBufferCopy.
func (r *qjsRuntime) WriteBinaryToJS(globalName string, data []byte) error {
	if len(data) == 0 {
		return r.Eval(fmt.Sprintf("globalThis[%q] = new ArrayBuffer(0);", globalName))
	}
	if r.useFallback {
		return r.writeBinaryFallback(globalName, data)
	}

	bufPtr := uintptr(unsafe.Pointer(&data[0]))
	jsVal := lib.XJS_NewArrayBufferCopy(r.tls, r.ctx, bufPtr, lib.Tsize_t(len(data)))

	cName, err := libc.CString(globalName)
	if err != nil {
		lib.XFreeValue(r.tls, r.ctx, jsVal)
		return fmt.Errorf("allocating property name: %w", err)
	}

	glob := lib.XJS_GetGlobalObject(r.tls, r.ctx)
	// JS_SetPropertyStr consumes jsVal.
	ret := lib.XJS_SetPropertyStr(r.tls, r.ctx, glob, cName, jsVal)
	lib.XFreeValue(r.tls, r.ctx, glob)
	libc.Xfree(r.tls, cName)

	if ret < 0 {
		return fmt.Errorf("setting global %q", globalName)
	}
	return nil
}

// ReadBinaryFromJS copies the ArrayBuffer at globalName into Go memory with
// JS_GetArrayBuffer and deletes the global.
func (r *qjsRuntime) ReadBinaryFromJS(globalName string) ([]byte, error) {
	if r.useFallback {
		return r.readBinaryFallback(globalName)
	}

	cName, err := libc.CString(globalName)
	if err != nil {
		return nil, fmt.Errorf("allocating property name: %w", err)
	}

	glob := lib.XJS_GetGlobalObject(r.tls, r.ctx)
	jsVal := lib.XJS_GetPropertyStr(r.tls, r.ctx, glob, cName)
	lib.XFreeValue(r.tls, r.ctx, glob)
	libc.Xfree(r.tls, cName)

	var size lib.Tsize_t
	dataPtr := lib.XJS_GetArrayBuffer(r.tls, r.ctx, uintptr(unsafe.Pointer(&size)), jsVal)

	var result []byte
	if dataPtr != 0 && size > 0 {
		result = make([]byte, size)
		copy(result, unsafe.Slice((*byte)(unsafe.Pointer(dataPtr)), size))
	}
	lib.XFreeValue(r.tls, r.ctx, jsVal)
	_ = r.Eval(fmt.Sprintf("delete globalThis[%q];", globalName))
	return result, nil
}

// initFallbackTransfer registers the Go callbacks used by the hex path.
func (r *qjsRuntime) initFallbackTransfer() error {
	if err := r.RegisterFunc("__qjs_bt_chunk", func(offset int) (string, error) {
		if r.pendingBinary == nil {
			return "", fmt.Errorf("no pending binary data")
		}
		end := min(offset+hexChunkSize, len(r.pendingBinary))
		return hex.EncodeToString(r.pendingBinary[offset:end]), nil
	}); err != nil {
		return fmt.Errorf("registering __qjs_bt_chunk: %w", err)
	}

	if err := r.RegisterFunc("__qjs_bt_recv", func(chunk string) (string, error) {
		decoded, err := hex.DecodeString(chunk)
		if err != nil {
			return "", fmt.Errorf("decoding binary chunk: %w", err)
		}
		r.pendingResult = append(r.pendingResult, decoded...)
		return "", nil
	}); err != nil {
		return fmt.Errorf("registering __qjs_bt_recv: %w", err)
	}
	return nil
}

func (r *qjsRuntime) writeBinaryFallback(globalName string, data []byte) error {
	r.pendingBinary = data
	defer func() { r.pendingBinary = nil }()

	return r.Eval(fmt.Sprintf(`(function() {
		var sz = %d;
		var view = new Uint8Array(sz);
		var off = 0;
		while (off < sz) {
			var h = __qjs_bt_chunk(off);
			for (var i = 0; i < h.length; i += 2) {
				view[off++] = parseInt(h.substr(i, 2), 16);
			}
		}
		globalThis[%q] = view.buffer;
	})()`, len(data), globalName))
}

func (r *qjsRuntime) readBinaryFallback(globalName string) ([]byte, error) {
	r.pendingResult = nil
	defer func() { r.pendingResult = nil }()

	if err := r.Eval(fmt.Sprintf(`(function() {
		var buf = globalThis[%q];
		delete globalThis[%q];
		if (!buf) return;
		var view = new Uint8Array(buf);
		var cs = %d;
		for (var off = 0; off < view.length; off += cs) {
			var end = Math.min(off + cs, view.length);
			var parts = [];
			for (var i = off; i < end; i++) {
				var b = view[i];
				parts.push(b < 16 ? '0' + b.toString(16) : b.toString(16));
			}
			__qjs_bt_recv(parts.join(''));
		}
	})()`, globalName, globalName, hexChunkSize)); err != nil {
		return nil, fmt.Errorf("reading binary from JS: %w", err)
	}

	out := r.pendingResult
	return out, nil
}
