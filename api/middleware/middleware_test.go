package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/crowdpen/payd/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func protectedRouter() *gin.Engine {
	r := gin.New()
	r.Use(SecretKeyAuthMiddleware())
	r.GET("/payouts/window/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestSecretKeyAuthMiddleware(t *testing.T) {
	config.MockConfig(&config.Configuration{Server: config.ServerConfig{Secure: true, SecretKey: "op_secret"}})

	tests := []struct {
		name   string
		key    string
		status int
	}{
		{name: "valid key", key: "op_secret", status: http.StatusOK},
		{name: "missing key", key: "", status: http.StatusUnauthorized},
		{name: "wrong key", key: "op_secreT", status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/payouts/window/mer_1", nil)
			if tt.key != "" {
				req.Header.Set(KeyHeader, tt.key)
			}
			w := httptest.NewRecorder()
			protectedRouter().ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestSecretKeyAuthMiddleware_Unconfigured(t *testing.T) {
	config.MockConfig(&config.Configuration{Server: config.ServerConfig{Secure: true}})

	req := httptest.NewRequest(http.MethodGet, "/payouts/window/mer_1", nil)
	req.Header.Set(KeyHeader, "anything")
	w := httptest.NewRecorder()
	protectedRouter().ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	rps, burst := 1.0, 1
	conf := &config.Configuration{RateLimit: config.RateLimitConfig{RequestsPerSecond: &rps, Burst: &burst}}

	r := gin.New()
	r.Use(RateLimitMiddleware(conf))
	r.POST("/payouts", func(c *gin.Context) { c.Status(http.StatusCreated) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/payouts", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, http.StatusCreated, codes[0])
	assert.Contains(t, codes, http.StatusTooManyRequests)
}

type stubLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allowed, s.err
}

func TestWebhookRateLimitMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		limiter *stubLimiter
		status  int
	}{
		{name: "allowed", limiter: &stubLimiter{allowed: true}, status: http.StatusOK},
		{name: "limited", limiter: &stubLimiter{allowed: false}, status: http.StatusTooManyRequests},
		{name: "limiter down fails open", limiter: &stubLimiter{err: errors.New("redis: connection refused")}, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.POST("/webhooks/:gateway", WebhookRateLimitMiddleware(tt.limiter), func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodPost, "/webhooks/paystack", nil)
			req.RemoteAddr = "203.0.113.7:4410"
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, []string{"paystack:203.0.113.7"}, tt.limiter.keys)
		})
	}
}
