package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// RequestIDHeader is the HTTP header name for request ID
	RequestIDHeader = "X-Request-ID"
	// RequestIDContextKey is the context key for request ID
	RequestIDContextKey = "request_id"
	// GuestSessionHeader carries the guest session id of shoppers without a token
	GuestSessionHeader = "X-Guest-Session-ID"
)

type requestIDKey struct{}

// RequestIDStore stores processed request IDs for idempotency
type RequestIDStore interface {
	// Store stores a request ID with its response
	Store(ctx context.Context, requestID string, response []byte, ttl time.Duration) error
	// Get retrieves a stored response by request ID
	Get(ctx context.Context, requestID string) ([]byte, error)
	// Exists checks if a request ID exists
	Exists(ctx context.Context, requestID string) (bool, error)
}

var (
	ErrRequestIDNotFound = &RequestIDError{Message: "request ID not found"}
)

type RequestIDError struct {
	Message string
}

func (e *RequestIDError) Error() string {
	return e.Message
}

// InMemoryRequestIDStore is an in-memory implementation of RequestIDStore
type InMemoryRequestIDStore struct {
	mu    sync.Mutex
	store map[string]requestIDEntry
	done  chan struct{}
	once  sync.Once
}

type requestIDEntry struct {
	response  []byte
	expiresAt time.Time
}

// NewInMemoryRequestIDStore creates a new in-memory request ID store and starts its cleanup loop
func NewInMemoryRequestIDStore() *InMemoryRequestIDStore {
	store := &InMemoryRequestIDStore{
		store: make(map[string]requestIDEntry),
		done:  make(chan struct{}),
	}
	go store.cleanupLoop(time.Minute)
	return store
}

func (s *InMemoryRequestIDStore) Store(ctx context.Context, requestID string, response []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store[requestID] = requestIDEntry{
		response:  response,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// lookup returns the live entry and drops it when expired; callers hold mu
func (s *InMemoryRequestIDStore) lookup(requestID string) (requestIDEntry, bool) {
	entry, exists := s.store[requestID]
	if !exists {
		return requestIDEntry{}, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.store, requestID)
		return requestIDEntry{}, false
	}
	return entry, true
}

func (s *InMemoryRequestIDStore) Get(ctx context.Context, requestID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.lookup(requestID)
	if !ok {
		return nil, ErrRequestIDNotFound
	}
	return entry.response, nil
}

func (s *InMemoryRequestIDStore) Exists(ctx context.Context, requestID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.lookup(requestID)
	return ok, nil
}

// Close stops the cleanup loop
func (s *InMemoryRequestIDStore) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *InMemoryRequestIDStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for id, entry := range s.store {
				if now.After(entry.expiresAt) {
					delete(s.store, id)
				}
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

// RedisRequestIDStore keeps idempotency records in Redis so every replica sees them
type RedisRequestIDStore struct {
	client *redis.Client
	prefix string
}

func NewRedisRequestIDStore(client *redis.Client) *RedisRequestIDStore {
	return &RedisRequestIDStore{client: client, prefix: "idempotency:"}
}

func (s *RedisRequestIDStore) Store(ctx context.Context, requestID string, response []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+requestID, response, ttl).Err()
}

func (s *RedisRequestIDStore) Get(ctx context.Context, requestID string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+requestID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRequestIDNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *RedisRequestIDStore) Exists(ctx context.Context, requestID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+requestID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RequestIDMiddleware extracts or generates X-Request-ID header
func RequestIDMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
			logger.Debug("Generated new request ID",
				zap.String("request_id", requestID),
				zap.String("path", c.Request.URL.Path),
			)
			// generated ids never repeat, so they must not reach the idempotency cache
			c.Set(generatedRequestIDKey, true)
		}

		c.Set(RequestIDContextKey, requestID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestIDKey{}, requestID))
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}

const generatedRequestIDKey = "request_id_generated"

// GetRequestID retrieves the request ID from the Gin context
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDContextKey)
}

// RequestIDFromContext retrieves the request ID from a request context
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func isReadOnly(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

const idempotencyKeyContextKey = "idempotency_key"

// idempotencyKey scopes a client request id to the endpoint, the caller and the exact body it was sent with.
// The key is computed once per request and shared by IdempotencyMiddleware and StoreResponseMiddleware.
func idempotencyKey(c *gin.Context) string {
	if key, ok := c.Get(idempotencyKeyContextKey); ok {
		return key.(string)
	}

	key := buildIdempotencyKey(c)
	c.Set(idempotencyKeyContextKey, key)
	return key
}

func buildIdempotencyKey(c *gin.Context) string {
	if c.GetBool(generatedRequestIDKey) {
		return ""
	}
	requestID := GetRequestID(c)
	if requestID == "" {
		return ""
	}

	var body []byte
	if c.Request.Body != nil {
		var err error
		body, err = io.ReadAll(c.Request.Body)
		if err != nil {
			return ""
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
	}

	h := sha256.New()
	for _, part := range [][]byte{
		[]byte(c.GetHeader("Authorization")),
		[]byte(c.GetHeader(GuestSessionHeader)),
		body,
	} {
		h.Write(part)
		h.Write([]byte{0})
	}

	return c.Request.Method + ":" + c.FullPath() + ":" + requestID + ":" + hex.EncodeToString(h.Sum(nil))
}

// IdempotencyMiddleware replays the stored response of a write request whose X-Request-ID was already served
func IdempotencyMiddleware(store RequestIDStore, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isReadOnly(c.Request.Method) {
			c.Next()
			return
		}

		key := idempotencyKey(c)
		if key == "" {
			c.Next()
			return
		}

		cachedResponse, err := store.Get(c.Request.Context(), key)
		if err != nil {
			if !errors.Is(err, ErrRequestIDNotFound) {
				// fail open
				logger.Warn("Error reading idempotency record",
					zap.String("request_id", GetRequestID(c)),
					zap.Error(err),
				)
			}
			c.Next()
			return
		}

		if len(cachedResponse) > 0 {
			logger.Info("Duplicate request detected, returning cached response",
				zap.String("request_id", GetRequestID(c)),
				zap.String("path", c.Request.URL.Path),
				zap.String("method", c.Request.Method),
			)
			c.Data(http.StatusOK, "application/json; charset=utf-8", cachedResponse)
			c.Abort()
			return
		}

		c.Next()
	}
}

// StoreResponseMiddleware stores successful write responses for IdempotencyMiddleware
func StoreResponseMiddleware(store RequestIDStore, logger *zap.Logger, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isReadOnly(c.Request.Method) {
			c.Next()
			return
		}

		key := idempotencyKey(c)
		if key == "" {
			c.Next()
			return
		}

		writer := &responseWriter{
			ResponseWriter: c.Writer,
			body:           make([]byte, 0),
		}
		c.Writer = writer

		c.Next()

		status := c.Writer.Status()
		if status < 200 || status >= 300 || len(writer.body) == 0 {
			return
		}

		if err := store.Store(c.Request.Context(), key, writer.body, ttl); err != nil {
			logger.Warn("Failed to store response for idempotency",
				zap.String("request_id", GetRequestID(c)),
				zap.Error(err),
			)
			return
		}
		logger.Debug("Stored response for idempotency",
			zap.String("request_id", GetRequestID(c)),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
		)
	}
}

// responseWriter captures the response body
type responseWriter struct {
	gin.ResponseWriter
	body []byte
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body = append(w.body, b...)
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) WriteString(s string) (int, error) {
	w.body = append(w.body, []byte(s)...)
	return w.ResponseWriter.WriteString(s)
}
