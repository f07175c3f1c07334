package server

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
)

// minCompressSize is the smallest body worth compressing.
const minCompressSize = 1024

// negotiate picks br over gzip from an Accept-Encoding header. q-values
// are honored only to exclude an encoding (q=0).
func negotiate(accept string) string {
	var br, gz bool
	for _, part := range strings.Split(accept, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if q, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if v, err := strconv.ParseFloat(q, 64); err == nil && v == 0 {
				continue
			}
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "br":
			br = true
		case "gzip":
			gz = true
		}
	}
	switch {
	case br:
		return "br"
	case gz:
		return "gzip"
	default:
		return ""
	}
}

func newEncoder(encoding string, w io.Writer) io.WriteCloser {
	if encoding == "br" {
		return brotli.NewWriterLevel(w, brotli.DefaultCompression)
	}
	return gzip.NewWriter(w)
}

// bufferedWriter holds the handler's body so it can be compressed as a
// whole. Headers go straight to the real writer's header map.
type bufferedWriter struct {
	header http.Header
	status int
	buf    bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.buf.Write(p)
}

// Compress encodes response bodies with brotli or gzip when the client
// accepts it and the body is large enough. Bridge responses are fully
// buffered already, so buffering here costs no streaming.
func Compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encoding := negotiate(r.Header.Get("Accept-Encoding"))
		if encoding == "" || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		rec := &bufferedWriter{header: w.Header()}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		w.Header().Add("Vary", "Accept-Encoding")

		body := rec.buf.Bytes()
		if len(body) < minCompressSize || w.Header().Get("Content-Encoding") != "" {
			w.WriteHeader(rec.status)
			_, _ = w.Write(body)
			return
		}

		var out bytes.Buffer
		enc := newEncoder(encoding, &out)
		if _, err := enc.Write(body); err == nil && enc.Close() == nil {
			w.Header().Set("Content-Encoding", encoding)
			w.Header().Del("Content-Length")
			body = out.Bytes()
		}
		w.WriteHeader(rec.status)
		_, _ = w.Write(body)
	})
}
