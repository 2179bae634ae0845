package utils

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketing-core/internal/logger"
)

func TestRequestLoggerWritesAPILine(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf)

	r := chi.NewRouter()
	r.Use(RequestLogger(log))
	r.Get("/things/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/things/42", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), "/things/42")
	assert.Contains(t, buf.String(), "418")
}

func TestRecovererReturns500(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(Recoverer(logger.NewWithWriter(&buf)))
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "panic serving")
}
