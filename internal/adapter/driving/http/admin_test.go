package httphandler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sethvargo/go-limiter/memorystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLockoutGate(t *testing.T, clock clockwork.Clock) *AdminGate {
	t.Helper()

	failures, err := memorystore.New(&memorystore.Config{Tokens: 1, Interval: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = failures.Close(context.Background()) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAdminGate("admin", "secret", failures, clock, logger)
}

// failFrom sends a request with wrong credentials from ip and returns the status.
func failFrom(gate *AdminGate, ip string) int {
	handler := gate.Protect(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/tokens", nil)
	req.RemoteAddr = ip + ":40000"
	req.SetBasicAuth("admin", "wrong")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec.Code
}

func (g *AdminGate) lockedIPs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ips := make([]string, 0, len(g.locked))
	for ip := range g.locked {
		ips = append(ips, ip)
	}
	return ips
}

func TestAdminGate_ExpiredLockoutsArePruned(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	gate := newLockoutGate(t, clock)

	assert.Equal(t, http.StatusUnauthorized, failFrom(gate, "192.0.2.1"))
	assert.Equal(t, http.StatusTooManyRequests, failFrom(gate, "192.0.2.1"))
	assert.Equal(t, http.StatusUnauthorized, failFrom(gate, "192.0.2.2"))
	assert.Equal(t, http.StatusTooManyRequests, failFrom(gate, "192.0.2.2"))
	assert.ElementsMatch(t, []string{"192.0.2.1", "192.0.2.2"}, gate.lockedIPs())

	// Neither IP comes back; a lockout for a third IP clears both expired entries.
	clock.Advance(5 * time.Minute)
	assert.Equal(t, http.StatusUnauthorized, failFrom(gate, "192.0.2.3"))
	assert.Equal(t, http.StatusTooManyRequests, failFrom(gate, "192.0.2.3"))

	assert.Equal(t, []string{"192.0.2.3"}, gate.lockedIPs())
}

func TestAdminGate_ActiveLockoutsSurvivePruning(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	gate := newLockoutGate(t, clock)

	failFrom(gate, "192.0.2.1")
	failFrom(gate, "192.0.2.1")
	failFrom(gate, "192.0.2.2")
	failFrom(gate, "192.0.2.2")

	assert.ElementsMatch(t, []string{"192.0.2.1", "192.0.2.2"}, gate.lockedIPs())
	assert.Equal(t, http.StatusTooManyRequests, failFrom(gate, "192.0.2.1"))
}
