package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_LevelAndServiceField(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "pos-api", "warn", false)

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["message"])
	assert.Equal(t, "pos-api", line["service"])

	buf.Reset()
	defLog := newWithWriter(&buf, "x", "nonsense", false)
	defLog.Info().Msg("info is default")
	assert.Contains(t, buf.String(), "info is default")
}

func TestMiddleware_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "pos-api", "debug", false)

	h := middleware.RequestID(Middleware(log, "X-User-Id")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})))
	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.Header.Set("X-User-Id", "u-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, float64(http.StatusCreated), line["status"])
	assert.Equal(t, "u-1", line["user_id"])
	assert.Equal(t, "/orders", line["path"])
	assert.NotEmpty(t, line["request_id"])
}

func TestMiddleware_RecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "pos-api", "info", false)

	h := Middleware(log, "X-User-Id")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	assert.NotPanics(t, func() { h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil)) })

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), `"INTERNAL"`)
	assert.Contains(t, buf.String(), `"panic":"boom"`)
}

func TestStatusRecorder_Flushes(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := &StatusRecorder{ResponseWriter: rr}
	var _ http.Flusher = rec
	rec.Flush()
	assert.True(t, rr.Flushed)
	assert.Equal(t, http.StatusOK, rec.Status())
}
