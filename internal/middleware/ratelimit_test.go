package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/surveyforge/backend/internal/config"
)

func newLimitedHandler(t *testing.T, limit int, window time.Duration) (*miniredis.Miniredis, http.Handler) {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	log := logrus.New()
	log.SetOutput(io.Discard)

	mw := RateLimit(config.RateLimitConfig{Requests: limit, Window: window}, rdb, log)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	return s, h
}

func hitFrom(h http.Handler, ip string) int {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.Header.Set("X-Real-IP", ip)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestRateLimitBlocksOverLimit(t *testing.T) {
	_, h := newLimitedHandler(t, 2, time.Minute)

	assert.Equal(t, http.StatusOK, hitFrom(h, "203.0.113.1"))
	assert.Equal(t, http.StatusOK, hitFrom(h, "203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, hitFrom(h, "203.0.113.1"))

	// A different client is counted separately.
	assert.Equal(t, http.StatusOK, hitFrom(h, "203.0.113.2"))
}

func TestRateLimitWindowResets(t *testing.T) {
	s, h := newLimitedHandler(t, 2, time.Minute)

	assert.Equal(t, http.StatusOK, hitFrom(h, "203.0.113.1"))
	assert.Equal(t, http.StatusOK, hitFrom(h, "203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, hitFrom(h, "203.0.113.1"))

	// Mid-window retries stay blocked and must not extend the window.
	s.FastForward(30 * time.Second)
	assert.Equal(t, http.StatusTooManyRequests, hitFrom(h, "203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, hitFrom(h, "203.0.113.1"))

	// Once the original window lapses the counter is gone.
	s.FastForward(31 * time.Second)
	assert.Equal(t, http.StatusOK, hitFrom(h, "203.0.113.1"))
}

func TestRateLimitFailsOpen(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	log := logrus.New()
	log.SetOutput(io.Discard)
	mw := RateLimit(config.RateLimitConfig{Requests: 1, Window: time.Minute}, rdb, log)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	assert.Equal(t, http.StatusOK, hitFrom(h, "203.0.113.1"))
	assert.Equal(t, http.StatusOK, hitFrom(h, "203.0.113.1"))
}
