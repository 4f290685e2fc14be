package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestRunAggregatesWorstStatus(t *testing.T) {
	c := NewChecker()
	c.RegisterPinger("redis", pingFunc(func(context.Context) error { return nil }), StatusDown)
	c.RegisterPinger("postgres", pingFunc(func(context.Context) error { return errors.New("refused") }), StatusDegraded)

	report := c.Run(context.Background())
	if report.Status != StatusDegraded {
		t.Fatalf("status = %s, want degraded", report.Status)
	}
	if report.Components["postgres"].Message != "refused" {
		t.Errorf("postgres = %+v", report.Components["postgres"])
	}

	c.RegisterPinger("llm", nil, StatusDown)
	if got := c.Run(context.Background()).Status; got != StatusDown {
		t.Fatalf("status = %s, want down", got)
	}
}

func TestReadyHandlerDegradedIsReady(t *testing.T) {
	c := NewChecker()
	c.RegisterPinger("postgres", nil, StatusDegraded)

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}

	c.RegisterPinger("redis", nil, StatusDown)
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", rec.Code)
	}
}

func TestRunBoundsSlowChecks(t *testing.T) {
	c := NewChecker()
	c.timeout = 20 * time.Millisecond
	c.RegisterPinger("listing_site", pingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), StatusDegraded)

	report := c.Run(context.Background())
	if report.Status != StatusDegraded {
		t.Fatalf("status = %s, want degraded", report.Status)
	}
	if report.Components["listing_site"].Message != context.DeadlineExceeded.Error() {
		t.Errorf("listing_site = %+v", report.Components["listing_site"])
	}
}

func TestLiveHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker().LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"alive"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
