package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "rendezvous/pkg/errors"
	"rendezvous/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorHandlerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.GET("/app", func(c *gin.Context) {
		_ = c.Error(apperrors.NewNotFoundError("peer").WithContext("peer_id", "alice"))
	})
	router.GET("/plain", func(c *gin.Context) {
		_ = c.Error(errors.New("boom"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/app", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
	assert.Contains(t, w.Body.String(), "alice")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/plain", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(zap.NewNop().Sugar()))
	router.GET("/panic", func(c *gin.Context) {
		panic("unexpected")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRequestLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)

	router := gin.New()
	router.Use(TracingMiddleware(), RequestLoggerMiddleware(logger.NewContextLogger(zap.New(core))))
	router.GET("/clock", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/clock", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	requestID := w.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, requestID)

	entries := logs.FilterMessage("http_request").All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, requestID, fields["request_id"])
		assert.Equal(t, "/clock", fields["path"])
		assert.EqualValues(t, http.StatusOK, fields["status_code"])
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/clock", nil)
	req.Header.Set(RequestIDHeader, "fixed-id")
	router.ServeHTTP(w, req)
	assert.Equal(t, "fixed-id", w.Header().Get(RequestIDHeader))
}

func TestCORSMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	open := gin.New()
	open.Use(CORSMiddleware(nil))
	open.GET("/connections", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/connections", nil)
	req.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	open.ServeHTTP(w, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	restricted := gin.New()
	restricted.Use(CORSMiddleware([]string{"https://app.example/"}))
	restricted.GET("/connections", func(c *gin.Context) { c.Status(http.StatusOK) })

	w = httptest.NewRecorder()
	restricted.ServeHTTP(w, req)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))

	other := httptest.NewRequest(http.MethodGet, "/connections", nil)
	other.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	restricted.ServeHTTP(w, other)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	preflight := httptest.NewRequest(http.MethodOptions, "/connections", nil)
	preflight.Header.Set("Origin", "https://app.example")
	w = httptest.NewRecorder()
	restricted.ServeHTTP(w, preflight)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestOriginSet(t *testing.T) {
	assert.True(t, NewOriginSet(nil).Allows("https://any.example"))
	assert.True(t, NewOriginSet([]string{"*"}).Wildcard())

	set := NewOriginSet([]string{"https://app.example/"})
	assert.False(t, set.Wildcard())
	assert.True(t, set.Allows("https://app.example"))
	assert.True(t, set.Allows("https://app.example/"))
	assert.False(t, set.Allows("https://evil.example"))
}
