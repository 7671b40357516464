package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"reservation-service/internal/app"
	"reservation-service/internal/config"
	"reservation-service/internal/domain"
	"reservation-service/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	cfg := &config.Config{
		ServiceName:      "reservation-service",
		StoreDriver:      "memory",
		EventBus:         "memory",
		JWTSecret:        "api-test-secret",
		InternalAPIToken: "internal-secret",
		HoldDuration:     5 * time.Minute,
		AllowOversell:    true,
		IdempotencyTTL:   time.Hour,
	}

	core, err := app.New(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { core.Close() })
	require.NoError(t, core.Store.SaveProduct(context.Background(), &domain.Product{ID: "P", Name: "ACM Sheet", Stock: 10}))

	requestIDStore := middleware.NewInMemoryRequestIDStore()
	t.Cleanup(requestIDStore.Close)

	return newRouter(cfg, core, requestIDStore, logger)
}

func send(router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func availableStock(t *testing.T, router *gin.Engine) int {
	t.Helper()
	w := send(router, http.MethodGet, "/api/v1/stock/P", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var response struct {
		AvailableStock int `json:"availableStock"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return response.AvailableStock
}

func TestNewRouter_InternalRoutesAcceptBearerInternalToken(t *testing.T) {
	router := setupRouter(t)

	w := send(router, http.MethodPost, "/api/v1/internal/reservations/cleanup", "",
		map[string]string{"Authorization": "Bearer internal-secret"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = send(router, http.MethodPost, "/api/v1/internal/checkout-sessions/cs_1/complete", "",
		map[string]string{middleware.InternalTokenHeader: "internal-secret"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = send(router, http.MethodPost, "/api/v1/internal/reservations/cleanup", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestNewRouter_RequestIDIsScopedToCaller(t *testing.T) {
	router := setupRouter(t)

	w := send(router, http.MethodPost, "/api/v1/reservations",
		`{"items":[{"productId":"P","quantity":3}],"guestSessionId":"guest-a"}`,
		map[string]string{middleware.RequestIDHeader: "req-1"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = send(router, http.MethodPost, "/api/v1/reservations",
		`{"items":[{"productId":"P","quantity":4}],"guestSessionId":"guest-b"}`,
		map[string]string{middleware.RequestIDHeader: "req-1"})
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Equal(t, 3, availableStock(t, router))
}

func TestNewRouter_HandlerErrorsAreRendered(t *testing.T) {
	router := setupRouter(t)

	w := send(router, http.MethodPost, "/api/v1/reservations",
		`{"items":[{"productId":"missing","quantity":1}],"guestSessionId":"guest-a"}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, false, response["success"])
	assert.Equal(t, "ProductNotFound", response["code"])
}
