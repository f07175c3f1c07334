//go:build !v8

package quickjs

import (
	"errors"
	"testing"

	"github.com/cryguy/turbox/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRuntime(t *testing.T) *qjsRuntime {
	t.Helper()
	rt, err := NewEngine().NewRuntime(core.RuntimeOptions{})
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt.(*qjsRuntime)
}

func TestEval(t *testing.T) {
	rt := newRuntime(t)

	require.NoError(t, rt.Eval(`globalThis.x = 40 + 2;`))
	s, err := rt.EvalString(`String(x)`)
	require.NoError(t, err)
	assert.Equal(t, "42", s)

	ok, err := rt.EvalBool(`x === 42`)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = rt.EvalBool(`"not a bool"`)
	assert.Error(t, err)

	assert.Error(t, rt.Eval(`throw new Error("nope")`))
}

func TestRegisterFunc(t *testing.T) {
	rt := newRuntime(t)

	require.NoError(t, rt.RegisterFunc("double", func(n int) int { return n * 2 }))
	require.NoError(t, rt.RegisterFunc("check", func(s string) (string, error) {
		if s == "" {
			return "", errors.New("empty")
		}
		return "ok:" + s, nil
	}))

	s, err := rt.EvalString(`String(double(21))`)
	require.NoError(t, err)
	assert.Equal(t, "42", s)

	s, err = rt.EvalString(`check("a")`)
	require.NoError(t, err)
	assert.Equal(t, "ok:a", s)

	s, err = rt.EvalString(`try { check(""); "no" } catch (e) { String(e && e.message || e) }`)
	require.NoError(t, err)
	assert.Contains(t, s, "empty")
}

func TestRunMicrotasks(t *testing.T) {
	rt := newRuntime(t)

	require.NoError(t, rt.Eval(`globalThis.done = false; Promise.resolve().then(function() { done = true; });`))
	rt.RunMicrotasks()
	ok, err := rt.EvalBool(`done`)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBinaryTransfer(t *testing.T) {
	rt := newRuntime(t)
	data := []byte{0, 1, 2, 254, 255}

	require.NoError(t, rt.WriteBinaryToJS("buf", data))
	n, err := rt.EvalString(`String(buf.byteLength)`)
	require.NoError(t, err)
	assert.Equal(t, "5", n)

	require.NoError(t, rt.Eval(`globalThis.out = new Uint8Array([9, 8, 7]).buffer;`))
	got, err := rt.ReadBinaryFromJS("out")
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8, 7}, got)

	gone, err := rt.EvalBool(`typeof out === "undefined"`)
	require.NoError(t, err)
	assert.True(t, gone)
}

func TestRuntimesAreIsolated(t *testing.T) {
	a, b := newRuntime(t), newRuntime(t)
	require.NoError(t, a.Eval(`globalThis.shared = 1;`))
	ok, err := b.EvalBool(`typeof shared === "undefined"`)
	require.NoError(t, err)
	assert.True(t, ok)
}
