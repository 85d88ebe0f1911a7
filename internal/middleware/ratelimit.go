package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/surveyforge/backend/internal/config"
)

// RateLimit is a fixed-window counter per client IP and route, backed by
// Redis so the limit holds across stateless replicas. Without Redis it is a
// pass-through, and it fails open on Redis errors: losing rate limiting is
// better than losing logins.
func RateLimit(cfg config.RateLimitConfig, rdb *redis.Client, log *logrus.Logger) func(http.Handler) http.Handler {
	if rdb == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	limit := cfg.Requests
	if limit <= 0 {
		limit = 20
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("ratelimit:%s:%s %s", ClientIP(r), r.Method, r.URL.Path)

			n, err := rdb.Incr(r.Context(), key).Result()
			if err != nil {
				log.WithError(err).Warn("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			// The window starts when the key is created. Later hits must not
			// touch the TTL or the counter would never reset under steady
			// traffic.
			if n == 1 {
				if err := rdb.Expire(r.Context(), key, window).Err(); err != nil {
					log.WithError(err).Warn("rate limiter expiry not set")
				}
			}
			remaining := int64(limit) - n
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if n > int64(limit) {
				w.Header().Set("Retry-After", strconv.Itoa(int(window/time.Second)))
				writeAuthError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the originating client address, trusting proxy
// headers when present. Used for rate-limit keys and audit fields only,
// never for authorization.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// first hop is the original client
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
