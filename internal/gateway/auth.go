package gateway

import (
	"crypto/subtle"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/chatform/internal/config"
)

// AuthResult is the outcome of an operator authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// ResolveToken returns the operator token: the configured one, else
// CHATFORM_GATEWAY_TOKEN.
func ResolveToken(cfg config.GatewayAuth) string {
	if cfg.Token != "" {
		return cfg.Token
	}
	return os.Getenv("CHATFORM_GATEWAY_TOKEN")
}

// AuthorizeRequest checks the bearer token of an operator request. With no
// token configured every operator request is refused.
func AuthorizeRequest(token string, r *http.Request) AuthResult {
	if token == "" {
		return AuthResult{Reason: "server token not configured"}
	}
	scheme, got, _ := strings.Cut(r.Header.Get("Authorization"), " ")
	if !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(got) == "" {
		return AuthResult{Reason: "token required"}
	}
	if !tokensEqual(strings.TrimSpace(got), token) {
		return AuthResult{Reason: "token_mismatch"}
	}
	return AuthResult{OK: true}
}

// tokensEqual compares in constant time, including when the lengths differ.
func tokensEqual(a, b string) bool {
	sameLen := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	sameBytes := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(sameLen, sameBytes, 0) == 1
}

// checkWebSocketOrigin admits non-browser clients (no Origin header) and
// browsers on an allowed origin.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isOriginAllowed(origin, allowed)
	}
}

const (
	lockoutWindow   = 5 * time.Minute
	lockoutStrikes  = 10
	lockoutMaxHosts = 10000
)

// strikes counts failures from one host inside a window that starts at
// the first failure.
type strikes struct {
	count int
	since time.Time
}

// authRateLimiter locks out hosts that keep failing operator auth or the
// visitor handshake.
type authRateLimiter struct {
	mu    sync.Mutex
	hosts map[string]*strikes
	now   func() time.Time
}

func newAuthRateLimiter() *authRateLimiter {
	return &authRateLimiter{hosts: make(map[string]*strikes), now: time.Now}
}

// lookup returns the live entry for host, dropping an expired one.
// Callers hold l.mu.
func (l *authRateLimiter) lookup(host string) *strikes {
	s, ok := l.hosts[host]
	if !ok {
		return nil
	}
	if l.now().Sub(s.since) > lockoutWindow {
		delete(l.hosts, host)
		return nil
	}
	return s
}

// retryAfter is zero when remoteAddr may proceed, otherwise the time left
// until its lockout ends.
func (l *authRateLimiter) retryAfter(remoteAddr string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.lookup(hostOf(remoteAddr))
	if s == nil || s.count < lockoutStrikes {
		return 0
	}
	return s.since.Add(lockoutWindow).Sub(l.now())
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()
	if s := l.lookup(host); s != nil {
		s.count++
		return
	}
	if len(l.hosts) >= lockoutMaxHosts {
		l.evictOldest()
	}
	l.hosts[host] = &strikes{count: 1, since: l.now()}
}

func (l *authRateLimiter) evictOldest() {
	var oldest string
	for host, s := range l.hosts {
		if oldest == "" || s.since.Before(l.hosts[oldest].since) {
			oldest = host
		}
	}
	delete(l.hosts, oldest)
}

func (l *authRateLimiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for host := range l.hosts {
		l.lookup(host)
	}
}

// run prunes expired entries every minute until done is closed.
func (l *authRateLimiter) run(done <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

// writeRateLimited answers a locked-out caller.
func writeRateLimited(w http.ResponseWriter, wait time.Duration) {
	secs := int(wait.Round(time.Second) / time.Second)
	w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	writeError(w, http.StatusTooManyRequests, ErrorShape{Code: "rate_limited", Message: "too many failed attempts", Retryable: true})
}

func hostOf(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
