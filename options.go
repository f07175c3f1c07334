package turbox

import "go.uber.org/zap"

type options struct {
	logger     *zap.Logger
	engine     Engine
	extensions []Extension
}

// Option configures a Bridge.
type Option func(*options)

// WithLogger sets the logger. The default is core's package logger, a
// no-op unless SetLogger was called.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEngine overrides the engine compiled in by build tag.
func WithEngine(e Engine) Option {
	return func(o *options) { o.engine = e }
}

// WithExtensions adds extensions run on every runtime instance, the
// registration runtime included.
func WithExtensions(exts ...Extension) Option {
	return func(o *options) { o.extensions = append(o.extensions, exts...) }
}
