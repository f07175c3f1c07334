// Package bindings installs the JavaScript side of the bridge into a
// runtime: the __turbox glue object, the route/server compatibility
// shims, console forwarding and the db binding.
package bindings

import (
	"fmt"

	"github.com/cryguy/turbox/internal/core"
)

// Globals used to move data across the Go/JS boundary during one
// invocation. They are deleted by the glue as soon as they are consumed.
const (
	RequestGlobal = "__turbox_req"
	RawBodyGlobal = "__turbox_raw"
	OutputGlobal  = "__turbox_out"
)

// glueJS defines globalThis.__turbox. It owns the module table, the handle
// table and the classification of handler return values. Module sources
// come from the Go finder functions installed by the modules package:
//
//	__turbox_find(name)            -> {"name","file","dir"}
//	__turbox_resolve(from, request) -> {"name","file","dir"}
//	__turbox_source(file)          -> CommonJS source text
const glueJS = `
(function(g) {
	if (g.__turbox) return;

	var modules = Object.create(null);
	var loading = [];
	var handles = [];
	var last = null;

	function tag(name, file, exports) {
		if (exports === null || (typeof exports !== 'object' && typeof exports !== 'function')) return;
		var keys = Object.keys(exports);
		for (var i = 0; i < keys.length; i++) {
			var v;
			try { v = exports[keys[i]]; } catch (e) { continue; }
			if (typeof v !== 'function' || Object.prototype.hasOwnProperty.call(v, '__module__')) continue;
			try {
				Object.defineProperty(v, '__name__', {value: keys[i]});
				Object.defineProperty(v, '__module__', {value: name});
				Object.defineProperty(v, '__file__', {value: file});
			} catch (e) {}
		}
	}

	function evaluate(spec) {
		if (spec.name in modules) return modules[spec.name];
		var module = {exports: {}};
		modules[spec.name] = module.exports;
		loading.push({name: spec.name, file: spec.file, dir: spec.dir, module: module});
		try {
			var code = __turbox_source(spec.file);
			var fn = new Function('exports', 'require', 'module', '__filename', '__dirname', code);
			fn.call(module.exports, module.exports, requireFrom(spec.file), module, spec.file, spec.dir);
		} catch (e) {
			delete modules[spec.name];
			throw e;
		} finally {
			loading.pop();
		}
		modules[spec.name] = module.exports;
		tag(spec.name, spec.file, module.exports);
		return module.exports;
	}

	function requireFrom(from) {
		return function require(request) {
			request = String(request);
			if (request === 'turbox') return {route: g.route, server: g.server};
			return evaluate(JSON.parse(__turbox_resolve(from, request)));
		};
	}

	function load(name) {
		if (name in modules) return modules[name];
		return evaluate(JSON.parse(__turbox_find(name)));
	}

	function message(e) {
		if (e && e.message !== undefined) return String(e.message);
		try { return String(e); } catch (x) { return Object.prototype.toString.call(e); }
	}

	function failure(e) {
		return JSON.stringify({
			kind: 'error',
			name: (e && e.name) ? String(e.name) : 'Error',
			text: message(e),
			stack: (e && e.stack) ? String(e.stack) : ''
		});
	}

	function hex(view) {
		var parts = new Array(view.length);
		for (var i = 0; i < view.length; i++) {
			var b = view[i];
			parts[i] = b < 16 ? '0' + b.toString(16) : b.toString(16);
		}
		return parts.join('');
	}

	function bytesOut(buf) {
		if (t.binary) {
			g.__turbox_out = buf;
			return '{"kind":"bytes"}';
		}
		return JSON.stringify({kind: 'bytes', text: hex(new Uint8Array(buf))});
	}

	function classify(v) {
		if (v instanceof ArrayBuffer) return bytesOut(v.slice(0));
		if (ArrayBuffer.isView(v)) {
			var u = new Uint8Array(v.buffer, v.byteOffset, v.byteLength);
			return bytesOut(u.slice().buffer);
		}
		if (typeof v === 'string' || v instanceof String) return JSON.stringify({kind: 'text', text: String(v)});
		if (typeof v === 'boolean' || v instanceof Boolean) return JSON.stringify({kind: 'bool', bool: v.valueOf()});
		if (v === null || v === undefined) return '{"kind":"null"}';
		var json;
		try { json = JSON.stringify(v); } catch (e) { json = undefined; }
		if (typeof json === 'string') return JSON.stringify({kind: 'structured', text: json});
		var s;
		try { s = String(v); } catch (e) { s = Object.prototype.toString.call(v); }
		return JSON.stringify({kind: 'fallback', text: s});
	}

	function context(req, raw) {
		var ctx = {method: req.method, path: req.path, body: req.body, headers: req.headers};
		Object.defineProperty(ctx, 'json', {value: function() { return JSON.parse(ctx.body); }});
		Object.defineProperty(ctx, 'bytes', {value: function() {
			return raw === undefined ? null : new Uint8Array(raw);
		}});
		return ctx;
	}

	var t = {
		binary: false,

		runMain: function(file, dir) {
			return evaluate({name: '__main__', file: file, dir: dir});
		},

		// current describes the module being evaluated, if any. Its
		// module field is the live CommonJS module object.
		current: function() {
			return loading.length ? loading[loading.length - 1] : null;
		},

		bind: function(name, attr) {
			var mod;
			try {
				mod = load(name);
			} catch (e) {
				return JSON.stringify({error: 'module', text: message(e)});
			}
			var fn;
			try { fn = mod[attr]; } catch (e) { fn = undefined; }
			if (typeof fn !== 'function') return '{"error":"callable"}';
			handles.push(fn);
			return JSON.stringify({id: handles.length - 1});
		},

		invoke: function(id) {
			var req = JSON.parse(g.__turbox_req);
			var raw = g.__turbox_raw;
			delete g.__turbox_req;
			delete g.__turbox_raw;
			last = null;
			var r;
			try {
				r = handles[id](context(req, raw));
			} catch (e) {
				return failure(e);
			}
			if (r !== null && (typeof r === 'object' || typeof r === 'function') && typeof r.then === 'function') {
				var slot = {done: false};
				last = slot;
				r.then(function(v) {
					slot.done = true; slot.ok = true; slot.value = v;
				}, function(e) {
					slot.done = true; slot.ok = false; slot.value = e;
				});
				return '{"kind":"pending"}';
			}
			try { return classify(r); } catch (e) { return failure(e); }
		},

		settle: function() {
			var slot = last;
			if (slot === null || !slot.done) return '{"kind":"pending"}';
			last = null;
			if (!slot.ok) return failure(slot.value);
			try { return classify(slot.value); } catch (e) { return failure(e); }
		}
	};

	Object.defineProperty(g, '__turbox', {value: t});
})(globalThis);
`

// InstallGlue defines the __turbox glue object. Runtimes that implement
// core.BinaryTransferer get byte results through OutputGlobal; others
// fall back to hex text.
func InstallGlue(rt core.JSRuntime) error {
	if err := rt.Eval(glueJS); err != nil {
		return fmt.Errorf("installing glue: %w", err)
	}
	if _, ok := rt.(core.BinaryTransferer); ok {
		if err := rt.Eval("__turbox.binary = true;"); err != nil {
			return fmt.Errorf("installing glue: %w", err)
		}
	}
	return nil
}
