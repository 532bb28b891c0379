package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_PerIP(t *testing.T) {
	m := NewMiddleware(&Config{
		PerIPCapacity:         2,
		PerIPRefillRate:       0.1,
		PerEmployeeCapacity:   100,
		PerEmployeeRefillRate: 10,
		BucketTTL:             time.Hour,
	})
	handler := m.Handler(okHandler())

	request := func(ip string) int {
		r := httptest.NewRequest(http.MethodPost, "/validate", nil)
		r.Header.Set("X-Forwarded-For", ip)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	if code := request("10.0.0.1"); code != http.StatusOK {
		t.Errorf("First request should pass, got %d", code)
	}
	if code := request("10.0.0.1"); code != http.StatusOK {
		t.Errorf("Second request should pass, got %d", code)
	}
	if code := request("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Errorf("Third request should be limited, got %d", code)
	}

	// Another IP is unaffected
	if code := request("10.0.0.2"); code != http.StatusOK {
		t.Errorf("Different IP should pass, got %d", code)
	}
}

func TestMiddleware_PerEmployee(t *testing.T) {
	m := NewMiddleware(&Config{
		PerIPCapacity:         100,
		PerIPRefillRate:       10,
		PerEmployeeCapacity:   1,
		PerEmployeeRefillRate: 0.1,
		BucketTTL:             time.Hour,
	})
	handler := m.Handler(okHandler())

	request := func(ip, employeeID string) int {
		r := httptest.NewRequest(http.MethodPost, "/validate", nil)
		r.Header.Set("X-Forwarded-For", ip)
		r.Header.Set("X-Employee-ID", employeeID)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	if code := request("10.0.0.1", "emp-001"); code != http.StatusOK {
		t.Errorf("First request should pass, got %d", code)
	}

	// The employee limit holds across source IPs
	if code := request("10.0.0.2", "emp-001"); code != http.StatusTooManyRequests {
		t.Errorf("Second request for same employee should be limited, got %d", code)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.168.1.5:52000"
	if ip := ClientIP(r); ip != "192.168.1.5" {
		t.Errorf("Expected RemoteAddr IP, got %q", ip)
	}

	r.Header.Set("X-Real-IP", "203.0.113.9")
	if ip := ClientIP(r); ip != "203.0.113.9" {
		t.Errorf("Expected X-Real-IP, got %q", ip)
	}

	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	if ip := ClientIP(r); ip != "198.51.100.7" {
		t.Errorf("Expected first X-Forwarded-For entry, got %q", ip)
	}
}

func TestClientIP_IPv6(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "[2001:db8::1]:52000"
	if ip := ClientIP(r); ip != "2001:db8::1" {
		t.Errorf("Expected bare IPv6 address, got %q", ip)
	}

	// A RemoteAddr without a port passes through unchanged
	r.RemoteAddr = "192.168.1.5"
	if ip := ClientIP(r); ip != "192.168.1.5" {
		t.Errorf("Expected portless address unchanged, got %q", ip)
	}
}
