package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimitedRouter(l *Limiter, limit int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/v1/ping", Middleware(l, limit, time.Minute), func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	return r
}

func get(r *gin.Engine, bearer, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddlewareLimitsPerCaller(t *testing.T) {
	limiter, _, clock := newLimiter(t)
	r := newLimitedRouter(limiter, 2)

	for i := 0; i < 2; i++ {
		w := get(r, "token-a", "10.0.0.1:1234")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, []string{"1", "0"}[i], w.Header().Get("X-RateLimit-Remaining"))
	}

	w := get(r, "token-a", "10.0.0.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	// A different token from the same address has its own budget.
	assert.Equal(t, http.StatusOK, get(r, "token-b", "10.0.0.1:1234").Code)

	clock.Advance(61 * time.Second)
	assert.Equal(t, http.StatusOK, get(r, "token-a", "10.0.0.1:1234").Code)
}

func TestMiddlewareKeysAnonymousCallersByIP(t *testing.T) {
	limiter, _, _ := newLimiter(t)
	r := newLimitedRouter(limiter, 1)

	assert.Equal(t, http.StatusOK, get(r, "", "10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "", "10.0.0.1:5678").Code)
	assert.Equal(t, http.StatusOK, get(r, "", "10.0.0.2:1234").Code)
}

func TestMiddlewareFailsOpen(t *testing.T) {
	limiter, mr, _ := newLimiter(t)
	r := newLimitedRouter(limiter, 1)
	mr.Close()

	for i := 0; i < 3; i++ {
		w := get(r, "token-a", "10.0.0.1:1234")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRequestKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "192.0.2.7:80"
	assert.Equal(t, "http:ip:192.0.2.7", RequestKey(c))

	c.Request.Header.Set("Authorization", "Bearer secret")
	key := RequestKey(c)
	assert.Len(t, key, len("http:user:")+16)
	assert.NotContains(t, key, "secret")
}
