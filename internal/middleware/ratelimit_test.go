package middleware

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_allowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow("ip:1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("ip:1.2.3.4") {
		t.Error("request over the limit should be rejected")
	}
	if !rl.Allow("ip:5.6.7.8") {
		t.Error("limits are per key")
	}
}

func TestClientIP_prefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	if got := ClientIP(r); got != "10.0.0.1:1234" {
		t.Errorf("ClientIP = %q, want RemoteAddr", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := ClientIP(r); got != "203.0.113.7" {
		t.Errorf("ClientIP = %q, want first forwarded address", got)
	}
}
