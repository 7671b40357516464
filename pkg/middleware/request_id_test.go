package middleware

import (
	"context"
	"io"
	"strings"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupIdempotentRouter(store RequestIDStore, ttl time.Duration) (*gin.Engine, *int32) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	var calls int32
	router := gin.New()
	router.Use(RequestIDMiddleware(logger))
	router.Use(IdempotencyMiddleware(store, logger))
	router.Use(StoreResponseMiddleware(store, logger, ttl))
	router.POST("/reservations", func(c *gin.Context) {
		n := atomic.AddInt32(&calls, 1)
		c.JSON(http.StatusCreated, gin.H{"success": true, "call": n})
	})
	router.POST("/echo", func(c *gin.Context) {
		atomic.AddInt32(&calls, 1)
		body, _ := io.ReadAll(c.Request.Body)
		c.JSON(http.StatusCreated, gin.H{"success": true, "body": string(body)})
	})
	router.POST("/reservations/release", func(c *gin.Context) {
		atomic.AddInt32(&calls, 1)
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	router.POST("/fail", func(c *gin.Context) {
		atomic.AddInt32(&calls, 1)
		c.JSON(http.StatusConflict, gin.H{"success": false})
	})
	router.GET("/reservations", func(c *gin.Context) {
		atomic.AddInt32(&calls, 1)
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	return router, &calls
}

func post(router *gin.Engine, path, requestID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if requestID != "" {
		req.Header.Set(RequestIDHeader, requestID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestIDMiddleware(zap.NewNop()))

	var fromCtx string
	router.GET("/test", func(c *gin.Context) {
		fromCtx = RequestIDFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"request_id": GetRequestID(c)})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	requestID := w.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(requestID)
	assert.NoError(t, err)
	assert.Equal(t, requestID, fromCtx)
}

func TestRequestIDMiddleware_UsesProvidedID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestIDMiddleware(zap.NewNop()))
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, "client-id-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "client-id-1", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "client-id-1", w.Body.String())
}

func TestIdempotency_DuplicateRequestIsReplayed(t *testing.T) {
	store := NewInMemoryRequestIDStore()
	defer store.Close()
	router, calls := setupIdempotentRouter(store, time.Hour)

	requestID := uuid.New().String()
	first := post(router, "/reservations", requestID)
	require.Equal(t, http.StatusCreated, first.Code)

	second := post(router, "/reservations", requestID)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestIdempotency_SameIDOnOtherEndpointIsNotReplayed(t *testing.T) {
	store := NewInMemoryRequestIDStore()
	defer store.Close()
	router, calls := setupIdempotentRouter(store, time.Hour)

	requestID := uuid.New().String()
	post(router, "/reservations", requestID)
	w := post(router, "/reservations/release", requestID)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func postAs(router *gin.Engine, path, requestID, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(RequestIDHeader, requestID)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIdempotency_SameIDFromAnotherCallerIsNotReplayed(t *testing.T) {
	store := NewInMemoryRequestIDStore()
	defer store.Close()
	router, calls := setupIdempotentRouter(store, time.Hour)

	body := `{"items":[{"productId":"P","quantity":3}]}`
	first := postAs(router, "/echo", "req-1", body, map[string]string{GuestSessionHeader: "guest-a"})
	require.Equal(t, http.StatusCreated, first.Code)

	w := postAs(router, "/echo", "req-1", body, map[string]string{GuestSessionHeader: "guest-b"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = postAs(router, "/echo", "req-1", body, map[string]string{"Authorization": "Bearer user-token"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.EqualValues(t, 3, atomic.LoadInt32(calls))

	// the original caller still gets its replay
	w = postAs(router, "/echo", "req-1", body, map[string]string{GuestSessionHeader: "guest-a"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, first.Body.String(), w.Body.String())
	assert.EqualValues(t, 3, atomic.LoadInt32(calls))
}

func TestIdempotency_SameIDWithAnotherBodyIsNotReplayed(t *testing.T) {
	store := NewInMemoryRequestIDStore()
	defer store.Close()
	router, calls := setupIdempotentRouter(store, time.Hour)

	first := postAs(router, "/echo", "req-1", `{"guestSessionId":"a"}`, nil)
	require.Equal(t, http.StatusCreated, first.Code)

	w := postAs(router, "/echo", "req-1", `{"guestSessionId":"b"}`, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"success":true,"body":"{\"guestSessionId\":\"b\"}"}`, w.Body.String())
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestIdempotency_GeneratedIDsAreNotCached(t *testing.T) {
	store := NewInMemoryRequestIDStore()
	defer store.Close()
	router, calls := setupIdempotentRouter(store, time.Hour)

	post(router, "/reservations", "")
	post(router, "/reservations", "")

	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
	assert.Empty(t, store.store)
}

func TestIdempotency_FailedResponsesAreNotCached(t *testing.T) {
	store := NewInMemoryRequestIDStore()
	defer store.Close()
	router, calls := setupIdempotentRouter(store, time.Hour)

	post(router, "/fail", "req-1")
	w := post(router, "/fail", "req-1")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestIdempotency_SkipsReadOnlyMethods(t *testing.T) {
	store := NewInMemoryRequestIDStore()
	defer store.Close()
	router, calls := setupIdempotentRouter(store, time.Hour)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/reservations", nil)
		req.Header.Set(RequestIDHeader, "req-get")
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestIdempotency_ExpiredRecordIsIgnored(t *testing.T) {
	store := NewInMemoryRequestIDStore()
	defer store.Close()
	router, calls := setupIdempotentRouter(store, 10*time.Millisecond)

	post(router, "/reservations", "req-exp")
	time.Sleep(20 * time.Millisecond)
	w := post(router, "/reservations", "req-exp")

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestInMemoryRequestIDStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRequestIDStore()
	defer store.Close()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrRequestIDNotFound)

	require.NoError(t, store.Store(ctx, "k", []byte(`{"ok":true}`), time.Hour))
	exists, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))

	require.NoError(t, store.Store(ctx, "old", []byte("x"), -time.Second))
	exists, err = store.Exists(ctx, "old")
	require.NoError(t, err)
	assert.False(t, exists)
	store.Close()
	store.Close()
}

func TestRedisRequestIDStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	store := NewRedisRequestIDStore(client)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrRequestIDNotFound)

	require.NoError(t, store.Store(ctx, "k", []byte(`{"ok":true}`), time.Minute))
	assert.True(t, mr.Exists("idempotency:k"))
	assert.Equal(t, time.Minute, mr.TTL("idempotency:k"))

	exists, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))

	mr.FastForward(2 * time.Minute)
	exists, err = store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestIdempotency_RedisStoreFailsOpen(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	router, calls := setupIdempotentRouter(NewRedisRequestIDStore(client), time.Hour)
	w := post(router, "/reservations", "req-down")

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}
