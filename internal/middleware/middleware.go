// Package middleware provides Gin middleware for the optimizer API: CORS,
// request logging, rate limiting, API key authentication and panic recovery.
package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// CORSMiddleware allows cross-origin requests from allowedOrigins. "*" allows
// any origin.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Admin-Key", "X-API-Key"},
		ExposeHeaders:    []string{"X-Request-ID", "X-Cost-USD", "X-Latency-Ms"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, o := range allowedOrigins {
		if o == "*" {
			cfg.AllowOriginFunc = func(string) bool { return true }
			return cors.New(cfg)
		}
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return false }
		return cors.New(cfg)
	}
	cfg.AllowOrigins = allowedOrigins
	return cors.New(cfg)
}

// LoggingMiddleware logs request and response metadata through logrus, at a
// level chosen by status code.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path = path + "?" + q
		}

		c.Next()

		status := c.Writer.Status()
		entry := log.WithFields(log.Fields{
			"component": "http",
			"method":    c.Request.Method,
			"path":      path,
			"status":    status,
			"latency":   time.Since(start),
			"client_ip": c.ClientIP(),
			"bytes":     c.Writer.Size(),
		})
		if id := c.Writer.Header().Get("X-Request-ID"); id != "" {
			entry = entry.WithField("request_id", id)
		}

		switch {
		case status >= 500:
			entry.WithField("errors", c.Errors.ByType(gin.ErrorTypePrivate).String()).Error("request failed")
		case status >= 400:
			entry.Warn("request rejected")
		default:
			entry.Info("request served")
		}
	}
}

// RateLimiter is a fixed-window counter. cache.Cache implements it.
type RateLimiter interface {
	RateLimitCheck(ctx context.Context, key string, maxRequests int64, window time.Duration) (bool, error)
}

// RateLimitMiddleware allows maxRequests per window for each caller, keyed by
// API key or, without one, client IP. Limiter errors let the request through.
func RateLimitMiddleware(limiter RateLimiter, maxRequests int64, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := callerKey(c)
		if id == "" {
			id = "ip:" + c.ClientIP()
		} else {
			// Never store raw keys in Redis.
			id = "key:" + hashAPIKey(id)[:16]
		}

		allowed, err := limiter.RateLimitCheck(c.Request.Context(), "optimize:"+id, maxRequests, window)
		if err != nil {
			log.WithField("component", "middleware").WithError(err).Warn("rate limit check failed")
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests. Please slow down.",
			})
			return
		}
		c.Next()
	}
}

// AuthMiddleware requires the caller to present expectedKey in X-Admin-Key,
// X-API-Key or an Authorization bearer token. An empty expectedKey rejects
// every request.
func AuthMiddleware(expectedKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expectedKey == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Endpoint disabled: no API key configured.",
			})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key == "" {
			key = callerKey(c)
		}
		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(expectedKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Missing or invalid API key. Provide X-API-Key header or Authorization: Bearer <key>.",
			})
			return
		}
		c.Next()
	}
}

// RecoveryMiddleware recovers from panics and returns a 500 instead of
// crashing the server.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.WithFields(log.Fields{
					"component": "http",
					"path":      c.Request.URL.Path,
				}).Errorf("recovered from panic: %v", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   "internal_server_error",
					"message": "An unexpected error occurred.",
				})
			}
		}()
		c.Next()
	}
}

func callerKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// hashAPIKey returns the hex-encoded SHA-256 hash of the given API key.
func hashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
