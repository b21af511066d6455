package httphandler

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	limiter "github.com/sethvargo/go-limiter"
)

const adminRealm = `Basic realm="stravalink", charset="UTF-8"`

// AdminGate protects the admin endpoints with HTTP Basic authentication.
// Failed attempts are counted per client IP; once the limiter refuses a
// failure the IP is locked out until the bucket resets.
type AdminGate struct {
	userHash [sha256.Size]byte
	passHash [sha256.Size]byte
	enabled  bool
	failures limiter.Store
	clock    clockwork.Clock
	logger   *slog.Logger

	mu     sync.Mutex
	locked map[string]time.Time
}

// NewAdminGate creates a gate for the given credentials. With an empty user
// the admin endpoints are disabled and answer 404. failures may be nil to
// disable lockout.
func NewAdminGate(user, pass string, failures limiter.Store, clock clockwork.Clock, logger *slog.Logger) *AdminGate {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &AdminGate{
		userHash: sha256.Sum256([]byte(user)),
		passHash: sha256.Sum256([]byte(pass)),
		enabled:  user != "",
		failures: failures,
		clock:    clock,
		logger:   logger,
		locked:   make(map[string]time.Time),
	}
}

// Protect wraps next with the authentication check.
func (g *AdminGate) Protect(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.enabled {
			http.NotFound(w, r)
			return
		}

		ip := clientIP(r)
		if until, ok := g.lockedUntil(ip); ok {
			retryAfter(w, until.Sub(g.clock.Now()))
			writeError(w, http.StatusTooManyRequests, "too many failed attempts")
			return
		}

		user, pass, ok := r.BasicAuth()
		if ok && g.matches(user, pass) {
			next(w, r)
			return
		}

		if until, locked := g.recordFailure(r, ip); locked {
			retryAfter(w, until.Sub(g.clock.Now()))
			writeError(w, http.StatusTooManyRequests, "too many failed attempts")
			return
		}

		w.Header().Set("WWW-Authenticate", adminRealm)
		writeError(w, http.StatusUnauthorized, "authentication required")
	}
}

// matches compares fixed-length digests so neither the length nor the
// content of the configured credentials leaks through timing.
func (g *AdminGate) matches(user, pass string) bool {
	u := sha256.Sum256([]byte(user))
	p := sha256.Sum256([]byte(pass))
	userOK := subtle.ConstantTimeCompare(u[:], g.userHash[:])
	passOK := subtle.ConstantTimeCompare(p[:], g.passHash[:])
	return userOK&passOK == 1
}

func (g *AdminGate) lockedUntil(ip string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	until, ok := g.locked[ip]
	if !ok {
		return time.Time{}, false
	}
	if !g.clock.Now().Before(until) {
		delete(g.locked, ip)
		return time.Time{}, false
	}
	return until, true
}

// recordFailure takes a token for ip and reports whether the failure budget
// is exhausted.
func (g *AdminGate) recordFailure(r *http.Request, ip string) (time.Time, bool) {
	if g.failures == nil {
		return time.Time{}, false
	}

	_, _, reset, ok, err := g.failures.Take(r.Context(), ip)
	if err != nil {
		g.logger.Error("admin failure limiter", "ip", ip, "error", err)
		return time.Time{}, false
	}
	if ok {
		return time.Time{}, false
	}

	until := time.Unix(0, int64(reset)) //nolint:gosec // reset is a unix nano timestamp
	if !until.After(g.clock.Now()) {
		until = g.clock.Now().Add(time.Minute)
	}

	g.mu.Lock()
	g.pruneLocked(g.clock.Now())
	g.locked[ip] = until
	g.mu.Unlock()

	g.logger.Warn("admin access locked", "ip", ip, "until", until.UTC().Format(time.RFC3339))
	return until, true
}

// pruneLocked drops lockouts that have expired. Callers hold g.mu.
func (g *AdminGate) pruneLocked(now time.Time) {
	for ip, until := range g.locked {
		if !now.Before(until) {
			delete(g.locked, ip)
		}
	}
}

func retryAfter(w http.ResponseWriter, d time.Duration) {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}

// clientIP returns the host part of the connection's remote address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
