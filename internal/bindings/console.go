package bindings

import (
	"github.com/cryguy/turbox/internal/core"
	"go.uber.org/zap"
)

const consoleJS = `
(function(g) {
	function text(arg) {
		if (typeof arg === 'string') return arg;
		if (arg instanceof Error) {
			var s = String(arg), st = arg.stack ? String(arg.stack) : '';
			if (!st) return s;
			return st.indexOf(s) === 0 ? st : s + '\n' + st;
		}
		if (typeof arg === 'object' && arg !== null) {
			try { return JSON.stringify(arg); } catch (e) { return '[object Object]'; }
		}
		return String(arg);
	}
	var con = {};
	['log', 'info', 'warn', 'error', 'debug'].forEach(function(lvl) {
		con[lvl] = function() {
			var parts = [];
			for (var i = 0; i < arguments.length; i++) parts.push(text(arguments[i]));
			__turbox_console(lvl, parts.join(' '));
		};
	});
	con.trace = con.debug;
	con.dir = function(obj) { con.log(obj); };
	g.console = con;
})(globalThis);
`

// Console returns the extension that replaces console with a version
// writing to log. Output is tagged with the instance's worker name.
func Console(log *zap.Logger, worker string) core.Extension {
	if log == nil {
		log = core.Logger()
	}
	log = log.Named("console").With(zap.String("worker", worker))
	return core.Extension{
		Name:          "console",
		MultiInstance: true,
		Setup: func(rt core.JSRuntime) error {
			if err := rt.RegisterFunc("__turbox_console", func(level, message string) {
				switch level {
				case "error":
					log.Error(message)
				case "warn":
					log.Warn(message)
				case "debug":
					log.Debug(message)
				default:
					log.Info(message)
				}
			}); err != nil {
				return err
			}
			return rt.Eval(consoleJS)
		},
	}
}
