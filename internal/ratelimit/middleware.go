package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gmail-auto-reply-go/internal/auth"
)

// RequestKey identifies the caller of an HTTP request: a hash of its bearer
// token when one is presented, otherwise its client IP.
func RequestKey(c *gin.Context) string {
	if token := auth.BearerToken(c.GetHeader("Authorization")); token != "" {
		sum := sha256.Sum256([]byte(token))
		return "http:user:" + hex.EncodeToString(sum[:])[:16]
	}
	return "http:ip:" + c.ClientIP()
}

// Middleware limits each caller to limit requests per window. Denied
// requests get 429 with Retry-After. Like Check it fails open.
func Middleware(l *Limiter, limit int, window time.Duration) gin.HandlerFunc {
	retryAfter := strconv.Itoa(int(math.Ceil(window.Seconds())))
	return func(c *gin.Context) {
		allowed, remaining := l.Check(c.Request.Context(), RequestKey(c), limit, window)
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "Too many requests",
				"code":    http.StatusTooManyRequests,
			})
			return
		}
		c.Next()
	}
}
