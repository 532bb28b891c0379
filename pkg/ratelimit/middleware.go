package ratelimit

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// Config holds rate limiting settings for the middleware
type Config struct {
	// Per-IP limits applied to every request
	PerIPCapacity   int
	PerIPRefillRate float64

	// Per-employee limits applied when the request names an employee
	PerEmployeeCapacity   int
	PerEmployeeRefillRate float64

	// BucketTTL controls how long inactive buckets stay in memory
	BucketTTL time.Duration
}

// DefaultConfig limits each IP to 60 requests per minute and each
// employee to 20 per minute. Employee limits are tighter because a
// fingerprint guess always names its target.
func DefaultConfig() *Config {
	return &Config{
		PerIPCapacity:         60,
		PerIPRefillRate:       1.0,
		PerEmployeeCapacity:   20,
		PerEmployeeRefillRate: 20.0 / 60.0,
		BucketTTL:             time.Hour,
	}
}

// Middleware enforces per-IP and per-employee rate limits
type Middleware struct {
	config          *Config
	ipLimiter       *RateLimiter
	employeeLimiter *RateLimiter
}

// NewMiddleware creates a rate limiting middleware
func NewMiddleware(config *Config) *Middleware {
	if config == nil {
		config = DefaultConfig()
	}
	return &Middleware{
		config:          config,
		ipLimiter:       NewRateLimiter(config.PerIPCapacity, config.PerIPRefillRate, config.BucketTTL),
		employeeLimiter: NewRateLimiter(config.PerEmployeeCapacity, config.PerEmployeeRefillRate, config.BucketTTL),
	}
}

// Handler returns the rate limiting middleware handler
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if ip != "" && !m.ipLimiter.Allow(ip) {
			m.exceeded(w, r, "ip")
			return
		}

		if employeeID := r.Header.Get("X-Employee-ID"); employeeID != "" {
			if !m.employeeLimiter.Allow(employeeID) {
				m.exceeded(w, r, "employee")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) exceeded(w http.ResponseWriter, r *http.Request, limitType string) {
	slog.Warn("Rate limit exceeded",
		"type", limitType,
		"ip", ClientIP(r),
		"path", r.URL.Path,
		"method", r.Method,
	)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "60")
	w.WriteHeader(http.StatusTooManyRequests)
	fmt.Fprintf(w, `{"error": "rate_limit_exceeded", "type": %q}`, limitType)
}

// ClientIP extracts the client IP address from the request, preferring
// proxy-set headers over RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
