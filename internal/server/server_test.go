package server

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var big = strings.Repeat("turbox ", 1000)

func bigHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusCreated)
		if r.URL.Path == "/small" {
			_, _ = io.WriteString(w, "tiny")
			return
		}
		_, _ = io.WriteString(w, big)
	})
}

func TestNegotiate(t *testing.T) {
	tests := map[string]string{
		"":                          "",
		"gzip":                      "gzip",
		"gzip, deflate, br":         "br",
		"br;q=0, gzip":              "gzip",
		"identity":                  "",
		"GZIP;q=0.5":                "gzip",
		"br;q=0.1, gzip;q=1.0":      "br",
		"deflate, gzip;q=0, br;q=0": "",
	}
	for in, want := range tests {
		assert.Equal(t, want, negotiate(in), in)
	}
}

func TestCompressBrotli(t *testing.T) {
	h := Compress(bigHandler())
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Accept-Encoding", "gzip, br")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "br", w.Header().Get("Content-Encoding"))
	assert.Equal(t, "Accept-Encoding", w.Header().Get("Vary"))
	assert.Less(t, w.Body.Len(), len(big))
	plain, err := io.ReadAll(brotli.NewReader(w.Body))
	require.NoError(t, err)
	assert.Equal(t, big, string(plain))
}

func TestCompressGzip(t *testing.T) {
	h := Compress(bigHandler())
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, big, string(plain))
}

func TestCompressSkipsSmallAndUnaccepted(t *testing.T) {
	h := Compress(bigHandler())

	r := httptest.NewRequest("GET", "/small", nil)
	r.Header.Set("Accept-Encoding", "br")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, "tiny", w.Body.String())
	assert.Equal(t, http.StatusCreated, w.Code)

	r = httptest.NewRequest("GET", "/", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, big, w.Body.String())
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "sample_total", Help: "sample"})
	reg.MustRegister(c)
	c.Inc()

	s := New(Config{MetricsPath: "/metrics", Compression: true, H2C: true}, bigHandler(), reg, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "sample_total 1")

	resp, err = http.Get(srv.URL + "/small")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "tiny", string(body))
}

func TestServeAndShutdown(t *testing.T) {
	s := New(Config{Host: "127.0.0.1", Port: 0, MaxConnections: 4, KeepAlive: true}, bigHandler(), nil, nil)
	ln, err := s.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/small")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "tiny", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8000", Config{Host: "127.0.0.1", Port: 8000}.Addr())
	assert.Equal(t, "[::1]:80", Config{Host: "::1", Port: 80}.Addr())
}
