package routes

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/turbox/internal/core"
)

func ref(module, name string) core.HandlerRef {
	return core.HandlerRef{Module: module, Name: name}
}

func TestRegistry_ExactMatch(t *testing.T) {
	r := NewRegistry(t.TempDir())
	require.NoError(t, r.Register("GET", "/ping", ref("app.health", "ping")))

	key, ok := r.Lookup("GET", "/ping")
	require.True(t, ok)
	assert.Equal(t, core.RouteKey{Module: "app.health", Callable: "ping"}, key)

	_, ok = r.Lookup("POST", "/ping")
	assert.False(t, ok, "different method on same path must not match")

	_, ok = r.Lookup("GET", "/ping/")
	assert.False(t, ok, "paths match exactly")
}

func TestRegistry_MethodIsCaseInsensitive(t *testing.T) {
	r := NewRegistry(t.TempDir())
	require.NoError(t, r.Register("get", "/a", ref("m", "a")))

	_, ok := r.Lookup("GET", "/a")
	assert.True(t, ok)
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	r := NewRegistry(t.TempDir())
	require.NoError(t, r.Register("GET", "/x", ref("first", "one")))
	require.NoError(t, r.Register("GET", "/x", ref("second", "two")))

	key, ok := r.Lookup("GET", "/x")
	require.True(t, ok)
	assert.Equal(t, core.RouteKey{Module: "second", Callable: "two"}, key)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_InvalidHandler(t *testing.T) {
	r := NewRegistry(t.TempDir())

	tests := []struct {
		name string
		ref  core.HandlerRef
	}{
		{"no name", core.HandlerRef{Module: "m"}},
		{"no module", core.HandlerRef{Name: "h"}},
		{"main without file", core.HandlerRef{Name: "h", Module: core.MainModule}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register("GET", "/bad", tt.ref)
			require.ErrorIs(t, err, core.ErrInvalidHandler)
			_, ok := r.Lookup("GET", "/bad")
			assert.False(t, ok, "failed registration must not insert")
		})
	}
}

func TestRegistry_MainModuleDerivedAtRegistration(t *testing.T) {
	wd := t.TempDir()
	r := NewRegistry(wd)

	err := r.Register("GET", "/orders", core.HandlerRef{
		Name:   "index",
		Module: core.MainModule,
		File:   filepath.Join(wd, "app", "routes.js"),
	})
	require.NoError(t, err)

	key, ok := r.Lookup("GET", "/orders")
	require.True(t, ok)
	assert.Equal(t, "app.routes", key.Module)
	assert.Equal(t, "index", key.Callable)
}

func TestRegistry_ConcurrentReadersAndWriters(t *testing.T) {
	r := NewRegistry(t.TempDir())
	require.NoError(t, r.Register("GET", "/stable", ref("m", "stable")))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = r.Register("GET", fmt.Sprintf("/w%d/%d", w, i), ref("m", "h"))
			}
		}(w)
	}
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key, ok := r.Lookup("GET", "/stable")
				if !ok || key.Callable != "stable" {
					t.Errorf("lookup of /stable failed during concurrent registration")
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1+4*200, r.Len())
}

func TestRegistry_RoutesSnapshotSorted(t *testing.T) {
	r := NewRegistry(t.TempDir())
	require.NoError(t, r.Register("POST", "/b", ref("m", "b")))
	require.NoError(t, r.Register("GET", "/b", ref("m", "b")))
	require.NoError(t, r.Register("GET", "/a", ref("m", "a")))

	got := r.Routes()
	require.Len(t, got, 3)
	assert.Equal(t, "/a", got[0].Path)
	assert.Equal(t, "GET", got[1].Method)
	assert.Equal(t, "POST", got[2].Method)
}
