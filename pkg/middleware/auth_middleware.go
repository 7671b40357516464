package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"reservation-service/internal/auth"
	stderrors "reservation-service/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// UserIDContextKey holds the authenticated shopper's id
	UserIDContextKey = "user_id"
	// InternalTokenHeader carries the shared secret of cron and order-finalizer calls
	InternalTokenHeader = "X-Internal-Token"
)

func bearerToken(header string) (string, bool) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// OptionalAuthMiddleware authenticates shoppers that send a bearer token and lets guests through.
// A token that is present but invalid is rejected rather than silently downgraded to a guest.
func OptionalAuthMiddleware(jwtManager *auth.JWTManager, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		tokenString, ok := bearerToken(authHeader)
		if !ok {
			logger.Warn("Invalid authorization header format",
				zap.String("path", c.Request.URL.Path),
				zap.String("method", c.Request.Method),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				stderrors.NewUnauthorized("invalid authorization header format", "Expected: Bearer <token>"))
			return
		}

		claims, err := jwtManager.ValidateToken(tokenString)
		if err != nil {
			message := "invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				message = "token expired"
			}
			logger.Warn("Rejected bearer token",
				zap.String("path", c.Request.URL.Path),
				zap.String("method", c.Request.Method),
				zap.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, stderrors.NewUnauthorized(message, ""))
			return
		}

		c.Set(UserIDContextKey, claims.UserID())
		c.Next()
	}
}

// GetUserID returns the authenticated user id, or "" for guests
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDContextKey)
}

// InternalTokenMiddleware guards endpoints called by cron jobs and the order finalizer.
// An empty configured token disables those endpoints.
func InternalTokenMiddleware(token string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				stderrors.NewStandardError("ServiceUnavailable", "internal API is disabled", "Set INTERNAL_API_TOKEN"))
			return
		}

		provided := c.GetHeader(InternalTokenHeader)
		if provided == "" {
			provided, _ = bearerToken(c.GetHeader("Authorization"))
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			logger.Warn("Rejected internal call",
				zap.String("path", c.Request.URL.Path),
				zap.String("ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, stderrors.NewUnauthorized("invalid internal token", ""))
			return
		}

		c.Next()
	}
}
