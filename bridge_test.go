package turbox

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const entryJS = `
const { route, server } = require('turbox');
const util = require('./lib/util');

function hello(ctx) { return 'hello ' + ctx.method; }
function echo(ctx) { return ctx.json(); }
function boom() { throw new Error('boom'); }
function ghost() { return 'never'; }

exports.hello = hello;
exports.echo = echo;
exports.boom = boom;

route.get('/hello', hello);
route.post('/echo', echo);
route.get('/boom', boom);
route.get('/ghost', ghost);
route.get('/upper', util.upper);

server.workers(2).bind('0.0.0.0', 9000).run();
`

const utilJS = `
exports.upper = function upper(ctx) { return ctx.path.toUpperCase(); };
`

func writeApp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte(entryJS), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib", "util.js"), []byte(utilJS), 0o644))
	return dir
}

func newTestBridge(t *testing.T, cfg Config) *Bridge {
	t.Helper()
	b, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func get(path string) *Request {
	return &Request{ID: "test", Method: http.MethodGet, Path: path, Headers: map[string]string{}}
}

func TestLoadEntryRegistersRoutes(t *testing.T) {
	dir := writeApp(t)
	b := newTestBridge(t, Config{WorkDir: dir})

	settings, err := b.LoadEntry(filepath.Join(dir, "app.js"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", settings.Host)
	assert.Equal(t, 9000, settings.Port)
	assert.True(t, settings.Run)
	assert.Equal(t, 2, b.Config().Workers)

	keys := map[string]RouteKey{}
	for _, r := range b.Routes() {
		keys[r.Method+" "+r.Path] = r.Key
	}
	assert.Len(t, keys, 5)
	assert.Equal(t, RouteKey{Module: "app", Callable: "hello"}, keys["GET /hello"])
	assert.Equal(t, RouteKey{Module: "app", Callable: "echo"}, keys["POST /echo"])
	assert.Equal(t, RouteKey{Module: "lib.util", Callable: "upper"}, keys["GET /upper"])
}

func TestExplicitWorkersWinOverScript(t *testing.T) {
	dir := writeApp(t)
	b := newTestBridge(t, Config{WorkDir: dir, Workers: 3})

	_, err := b.LoadEntry(filepath.Join(dir, "app.js"))
	require.NoError(t, err)
	assert.Equal(t, 3, b.Config().Workers)
}

func TestHandlersNamedByExportKey(t *testing.T) {
	cases := map[string]struct {
		entry string
		lib   string
	}{
		"anonymous arrow export": {
			entry: `
const { route } = require('turbox');
exports.ping = (ctx) => 'pong';
route.get('/ping', exports.ping);
`,
		},
		"renamed function export": {
			entry: `
const { route } = require('turbox');
module.exports = {ping: function pong(ctx) { return 'pong'; }};
route.get('/ping', module.exports.ping);
`,
		},
		"export from a required module": {
			entry: `
const { route } = require('turbox');
route.get('/ping', require('./lib/handlers').ping);
`,
			lib: `module.exports = {ping: (ctx) => 'pong'};`,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte(tc.entry), 0o644))
			if tc.lib != "" {
				require.NoError(t, os.MkdirAll(filepath.Join(dir, "lib"), 0o755))
				require.NoError(t, os.WriteFile(filepath.Join(dir, "lib", "handlers.js"), []byte(tc.lib), 0o644))
			}
			b := newTestBridge(t, Config{WorkDir: dir, Workers: 1})
			_, err := b.LoadEntry(filepath.Join(dir, "app.js"))
			require.NoError(t, err)

			routes := b.Routes()
			require.Len(t, routes, 1)
			assert.Equal(t, "ping", routes[0].Key.Callable)

			res := b.Dispatch(context.Background(), get("/ping"))
			require.NoError(t, res.Error)
			assert.Equal(t, http.StatusOK, res.Response.StatusCode)
			assert.Equal(t, "pong", string(res.Response.Body))
		})
	}
}

func TestDispatchEndToEnd(t *testing.T) {
	dir := writeApp(t)
	b := newTestBridge(t, Config{WorkDir: dir})
	_, err := b.LoadEntry(filepath.Join(dir, "app.js"))
	require.NoError(t, err)

	res := b.Dispatch(context.Background(), get("/hello"))
	require.NoError(t, res.Error)
	assert.Equal(t, "Responded", res.State)
	assert.Equal(t, http.StatusOK, res.Response.StatusCode)
	assert.Equal(t, "hello GET", string(res.Response.Body))

	res = b.Dispatch(context.Background(), get("/upper"))
	assert.Equal(t, "/UPPER", string(res.Response.Body))

	res = b.Dispatch(context.Background(), &Request{
		Method: http.MethodPost, Path: "/echo",
		Headers: map[string]string{}, Body: []byte(`{"a":1}`),
	})
	assert.Equal(t, "application/json", res.Response.ContentType)
	assert.JSONEq(t, `{"a":1}`, string(res.Response.Body))
}

func TestDispatchFailures(t *testing.T) {
	dir := writeApp(t)
	b := newTestBridge(t, Config{WorkDir: dir, Workers: 1})
	_, err := b.LoadEntry(filepath.Join(dir, "app.js"))
	require.NoError(t, err)

	res := b.Dispatch(context.Background(), get("/nope"))
	assert.Equal(t, "NotFound", res.State)
	assert.Equal(t, http.StatusNotFound, res.Response.StatusCode)
	assert.True(t, errors.Is(res.Error, ErrRouteNotFound))

	res = b.Dispatch(context.Background(), get("/ghost"))
	assert.Equal(t, "HandlerMissing", res.State)
	assert.Equal(t, "Function 'ghost' not found in module 'app'", string(res.Response.Body))
	assert.True(t, errors.Is(res.Error, ErrCallableNotFound))

	res = b.Dispatch(context.Background(), get("/boom"))
	assert.Equal(t, "HandlerError", res.State)
	assert.Equal(t, http.StatusInternalServerError, res.Response.StatusCode)
	assert.Equal(t, "Internal Server Error", string(res.Response.Body))
	assert.True(t, errors.Is(res.Error, ErrHandlerRuntime))

	// The worker survives a raising handler.
	res = b.Dispatch(context.Background(), get("/hello"))
	assert.Equal(t, "Responded", res.State)
}

func TestProgrammaticRoutes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "api.js"),
		[]byte(`export function status() { return {ok: true}; }`), 0o644))

	b := newTestBridge(t, Config{WorkDir: dir, Workers: 2})
	require.NoError(t, b.Get("/status", HandlerRef{Name: "status", Module: "api"}))
	assert.ErrorIs(t, b.Post("/bad", HandlerRef{Module: "api"}), ErrInvalidHandler)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := b.Dispatch(context.Background(), get("/status"))
			assert.Equal(t, `{"ok":true}`, string(res.Response.Body))
		}()
	}
	wg.Wait()

	misses := testutil.ToFloat64(b.metrics.CacheMisses)
	assert.LessOrEqual(t, misses, 2.0)
	assert.GreaterOrEqual(t, misses, 1.0)
}

func TestLoadEntryAfterDispatch(t *testing.T) {
	dir := writeApp(t)
	b := newTestBridge(t, Config{WorkDir: dir, Workers: 1})
	require.NoError(t, b.Start())

	_, err := b.LoadEntry(filepath.Join(dir, "app.js"))
	assert.Error(t, err)
}

func TestLoadEntryScriptError(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "broken.js")
	require.NoError(t, os.WriteFile(file, []byte(`throw new Error("nope");`), 0o644))

	b := newTestBridge(t, Config{WorkDir: dir})
	_, err := b.LoadEntry(file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestLoadEntryPanickingBindingReleasesLock(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "main.js")
	require.NoError(t, os.WriteFile(file, []byte(`boom();`), 0o644))

	boom := Extension{
		Name:          "boom",
		MultiInstance: true,
		Setup: func(rt JSRuntime) error {
			return rt.RegisterFunc("boom", func() { panic("binding exploded") })
		},
	}
	b, err := New(Config{WorkDir: dir}, WithExtensions(boom))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	done := make(chan error, 1)
	go func() {
		_, err := b.LoadEntry(file)
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrHandlerRuntime)
	case <-time.After(10 * time.Second):
		t.Fatal("LoadEntry did not return")
	}
}

func TestServeHTTP(t *testing.T) {
	dir := writeApp(t)
	b := newTestBridge(t, Config{WorkDir: dir, Workers: 1, MaxBodyBytes: 16})
	_, err := b.LoadEntry(filepath.Join(dir, "app.js"))
	require.NoError(t, err)

	srv := httptest.NewServer(b)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/hello")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	resp, err = http.Post(srv.URL+"/echo", "application/json", strings.NewReader(`{"too":"long for the limit"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	assert.Equal(t, 1.0, testutil.ToFloat64(b.metrics.DispatchTotal.WithLabelValues("BodyReadError")))
}

func TestServeHTTPBodyFailureUsesBridgeLogger(t *testing.T) {
	obs, logs := observer.New(zap.DebugLevel)
	b, err := New(Config{WorkDir: t.TempDir(), Workers: 1, MaxBodyBytes: 4}, WithLogger(zap.New(obs)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	w := httptest.NewRecorder()
	b.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("too long")))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	entries := logs.FilterMessage("reading request body").AllUntimed()
	require.Len(t, entries, 1)
	assert.Equal(t, "/echo", entries[0].ContextMap()["path"])
}

func TestClosedBridge(t *testing.T) {
	dir := writeApp(t)
	b, err := New(Config{WorkDir: dir, Workers: 1})
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	res := b.Dispatch(context.Background(), get("/hello"))
	assert.Equal(t, StateUnavailable, res.State)
	assert.Equal(t, http.StatusServiceUnavailable, res.Response.StatusCode)
	assert.ErrorIs(t, res.Error, ErrPoolClosed)
}
