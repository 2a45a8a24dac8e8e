package gateway

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/soyeahso/chatform/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokensEqual(t *testing.T) {
	assert.True(t, tokensEqual("secret", "secret"))
	assert.False(t, tokensEqual("secret", "wrong!"))
	assert.False(t, tokensEqual("short", "longer-string"))
	assert.False(t, tokensEqual("secret", ""))
	assert.False(t, tokensEqual("", "secret"))
}

func TestResolveToken(t *testing.T) {
	t.Setenv("CHATFORM_GATEWAY_TOKEN", "env-token")
	assert.Equal(t, "config-token", ResolveToken(config.GatewayAuth{Token: "config-token"}))
	assert.Equal(t, "env-token", ResolveToken(config.GatewayAuth{}))

	t.Setenv("CHATFORM_GATEWAY_TOKEN", "")
	assert.Empty(t, ResolveToken(config.GatewayAuth{}))
}

func TestAuthorizeRequest(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		header string
		reason string
	}{
		{"match", "secret", "Bearer secret", ""},
		{"scheme is case-insensitive", "secret", "bearer secret", ""},
		{"mismatch", "secret", "Bearer wrong", "token_mismatch"},
		{"missing header", "secret", "", "token required"},
		{"wrong scheme", "secret", "Basic secret", "token required"},
		{"empty bearer", "secret", "Bearer ", "token required"},
		{"no server token", "", "Bearer secret", "server token not configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			res := AuthorizeRequest(tt.token, req)
			assert.Equal(t, tt.reason == "", res.OK)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func testLimiter(now *time.Time) *authRateLimiter {
	l := newAuthRateLimiter()
	l.now = func() time.Time { return *now }
	return l
}

func TestAuthRateLimiter_LocksOutAfterStrikes(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l := testLimiter(&now)

	for i := 0; i < lockoutStrikes-1; i++ {
		l.recordFailure("192.168.1.1:12345")
	}
	assert.Zero(t, l.retryAfter("192.168.1.1:999"), "one short of the limit")

	l.recordFailure("192.168.1.1:4000")
	assert.Equal(t, lockoutWindow, l.retryAfter("192.168.1.1:1"), "ports do not matter")
	assert.Zero(t, l.retryAfter("192.168.1.2:12345"), "other hosts are unaffected")

	now = now.Add(2 * time.Minute)
	assert.Equal(t, lockoutWindow-2*time.Minute, l.retryAfter("192.168.1.1"))

	now = now.Add(lockoutWindow)
	assert.Zero(t, l.retryAfter("192.168.1.1"))
}

func TestAuthRateLimiter_WindowRestartsAfterExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l := testLimiter(&now)

	for i := 0; i < lockoutStrikes-1; i++ {
		l.recordFailure("10.0.0.1")
	}
	now = now.Add(lockoutWindow + time.Second)
	l.recordFailure("10.0.0.1")
	assert.Zero(t, l.retryAfter("10.0.0.1"), "old strikes expired with their window")
}

func TestAuthRateLimiter_PruneAndEvict(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l := testLimiter(&now)

	l.recordFailure("10.0.0.1:1")
	now = now.Add(lockoutWindow + time.Second)
	l.recordFailure("10.0.0.2:1")
	l.prune()
	assert.NotContains(t, l.hosts, "10.0.0.1")
	assert.Contains(t, l.hosts, "10.0.0.2")

	for i := len(l.hosts); i < lockoutMaxHosts; i++ {
		now = now.Add(time.Millisecond)
		l.recordFailure(fmt.Sprintf("172.16.%d.%d", i/256, i%256))
	}
	require.Len(t, l.hosts, lockoutMaxHosts)
	l.recordFailure("203.0.113.9")
	assert.Len(t, l.hosts, lockoutMaxHosts)
	assert.NotContains(t, l.hosts, "10.0.0.2", "oldest host evicted")
	assert.Contains(t, l.hosts, "203.0.113.9")
}

func TestWriteRateLimited(t *testing.T) {
	rr := httptest.NewRecorder()
	writeRateLimited(rr, 90*time.Second+200*time.Millisecond)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "90", rr.Header().Get("Retry-After"))
	assert.Contains(t, rr.Body.String(), `"rate_limited"`)

	rr = httptest.NewRecorder()
	writeRateLimited(rr, 10*time.Millisecond)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
}

func TestCheckWebSocketOrigin(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/agents/a/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, checkWebSocketOrigin(nil)(req("")), "non-browser clients")
	assert.False(t, checkWebSocketOrigin(nil)(req("http://evil.com")))
	assert.True(t, checkWebSocketOrigin([]string{"*"})(req("http://anything.com")))

	check := checkWebSocketOrigin([]string{"http://one.com", "https://*.two.com"})
	assert.True(t, check(req("http://one.com")))
	assert.True(t, check(req("https://chat.two.com")))
	assert.False(t, check(req("http://three.com")))
}
