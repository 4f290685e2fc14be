package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRunOncePanicBecomesError(t *testing.T) {
	m := metrics.NewForRegistry(prometheus.NewRegistry())
	s := New(m)
	err := s.RunOnce(context.Background(), Job{
		Name:     "boom",
		Interval: time.Minute,
		Run:      func(context.Context) error { panic("kaboom") },
	})
	if err == nil {
		t.Fatal("expected error from panicking job")
	}
	if got := testutil.ToFloat64(m.JobRunsTotal.WithLabelValues("boom", "error")); got != 1 {
		t.Fatalf("error runs = %v", got)
	}
}

func TestRunOnceAppliesTimeout(t *testing.T) {
	s := New(nil)
	err := s.RunOnce(context.Background(), Job{
		Name:     "slow",
		Interval: time.Minute,
		Timeout:  20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestFailuresDoNotStopTheLoop(t *testing.T) {
	m := metrics.NewForRegistry(prometheus.NewRegistry())
	s := New(m)
	var runs atomic.Int32
	s.Add(Job{
		Name:       "flaky",
		Interval:   10 * time.Millisecond,
		RunOnStart: true,
		Run: func(context.Context) error {
			n := runs.Add(1)
			if n%2 == 1 {
				panic("odd run")
			}
			return errors.New("even run")
		},
	})
	s.Add(Job{Name: "disabled", Interval: 0, Run: func(context.Context) error {
		t.Error("disabled job ran")
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	s.Wait()

	if runs.Load() < 4 {
		t.Fatalf("runs = %d, loop stopped after failures", runs.Load())
	}
}
