package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func newTestLimiter(t *testing.T, perMinute int) (*Limiter, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	rl := NewLimiter(Config{RequestsPerMinute: perMinute, CleanupInterval: time.Minute, Clock: clk})
	t.Cleanup(rl.Stop)
	return rl, clk
}

func TestAllowWindow(t *testing.T) {
	rl, clk := newTestLimiter(t, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d rejected", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("4th request allowed")
	}
	if !rl.Allow("5.6.7.8") {
		t.Fatal("other client rejected")
	}
	if got := rl.RetryAfter("1.2.3.4"); got != time.Minute {
		t.Errorf("RetryAfter = %v", got)
	}

	// Rejected requests do not extend the window.
	clk.Add(time.Minute)
	if !rl.Allow("1.2.3.4") {
		t.Error("request after window rejected")
	}
	if m := rl.GetMetrics(); m.TotalHits != 1 || m.ClientCount != 2 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestCleanupStaleEntries(t *testing.T) {
	clk := clock.NewMock()
	rl := NewLimiter(Config{RequestsPerMinute: 10, CleanupInterval: time.Hour, Clock: clk})
	defer rl.Stop()
	rl.staleAfter = time.Minute

	rl.Allow("a")
	clk.Add(50 * time.Second)
	rl.Allow("b")
	clk.Add(20 * time.Second)

	if n := rl.cleanupStaleEntries(); n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
	if rl.ActiveClients() != 1 {
		t.Errorf("active = %d", rl.ActiveClients())
	}
}

func TestMiddlewareOnlyLimitsListedMethods(t *testing.T) {
	rl, _ := newTestLimiter(t, 1)
	h := rl.Middleware(func(*http.Request) string { return "ip" }, nil, http.MethodPost)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	do := func(method string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(method, "/", nil))
		return rr
	}

	if rr := do(http.MethodPost); rr.Code != http.StatusNoContent {
		t.Fatalf("first POST = %d", rr.Code)
	}
	rr := do(http.MethodPost)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second POST = %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", rr.Header().Get("Retry-After"))
	}
	for i := 0; i < 5; i++ {
		if rr := do(http.MethodGet); rr.Code != http.StatusNoContent {
			t.Fatalf("GET = %d", rr.Code)
		}
	}
}
