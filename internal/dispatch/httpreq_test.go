package dispatch

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cryguy/turbox/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRequest(t *testing.T) {
	r := httptest.NewRequest("POST", "http://example.com/echo?x=1", strings.NewReader("payload"))
	r.Header.Add("X-Tag", "one")
	r.Header.Add("X-Tag", "two")

	req, err := ReadRequest(r, 0)
	require.NoError(t, err)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "/echo", req.Path)
	assert.Equal(t, "payload", string(req.Body))
	assert.Equal(t, "two", req.Headers["x-tag"])
	assert.Equal(t, "example.com", req.Headers["host"])
	assert.Len(t, req.ID, 36)
}

func TestReadRequestKeepsID(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set(RequestIDHeader, "abc")
	req, err := ReadRequest(r, 0)
	require.NoError(t, err)
	assert.Equal(t, "abc", req.ID)
	assert.Empty(t, req.Body)
}

func TestReadRequestTooLarge(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader("0123456789"))
	req, err := ReadRequest(r, 4)
	assert.ErrorIs(t, err, core.ErrBodyRead)
	require.NotNil(t, req)
	assert.Nil(t, req.Body)

	_, err = ReadRequest(httptest.NewRequest("POST", "/", strings.NewReader("0123")), 4)
	assert.NoError(t, err)
}

type failingBody struct{}

func (failingBody) Read([]byte) (int, error) { return 0, errors.New("connection reset") }
func (failingBody) Close() error             { return nil }

func TestReadRequestBodyError(t *testing.T) {
	r := httptest.NewRequest("POST", "/", nil)
	r.Body = failingBody{}
	_, err := ReadRequest(r, 0)
	assert.ErrorIs(t, err, core.ErrBodyRead)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestWriteResponse(t *testing.T) {
	w := httptest.NewRecorder()
	WriteResponse(w, &core.Request{ID: "rid"}, &core.Result{Response: &core.Response{
		StatusCode:  http.StatusTeapot,
		ContentType: "application/json",
		Body:        []byte(`{"a":1}`),
	}})
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "rid", w.Header().Get(RequestIDHeader))
	assert.Equal(t, `{"a":1}`, w.Body.String())
}
