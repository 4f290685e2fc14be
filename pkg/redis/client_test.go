package redis

import (
	"context"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/config"
	"github.com/alicebob/miniredis/v2"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewClient(config.RedisConfig{Addr: mr.Addr(), PoolSize: 4})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestGetSetNil(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); !IsNilError(err) {
		t.Fatalf("expected nil error, got %v", err)
	}
	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil || got != "v" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := c.Get(ctx, "k"); !IsNilError(err) {
		t.Fatalf("expected key to expire, got %v", err)
	}
}

func TestIncrementWithRecency(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if _, err := c.IncrementWithRecency(ctx, "scores", "touched", "a", 1, float64(i)); err != nil {
			t.Fatal(err)
		}
	}
	score, err := c.IncrementWithRecency(ctx, "scores", "touched", "b", 2, 10)
	if err != nil {
		t.Fatal(err)
	}
	if score != 2 {
		t.Errorf("score = %v, want 2", score)
	}

	top, err := c.ZRevRange(ctx, "scores", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 1 || top[0].Member != "a" || top[0].Score != 3 {
		t.Errorf("top = %+v", top)
	}

	rec, err := c.ZScores(ctx, "touched", []string{"a", "b", "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if rec["a"] != 3 || rec["b"] != 10 {
		t.Errorf("recency = %+v", rec)
	}
	if _, ok := rec["missing"]; ok {
		t.Error("missing member should be absent")
	}
}

func TestScanAndFlush(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	for _, k := range []string{"search:1:results", "search:2:results", "other"} {
		if err := c.Set(ctx, k, "x", 0); err != nil {
			t.Fatal(err)
		}
	}

	var keys []string
	for k, err := range c.Scan(ctx, "search:*") {
		if err != nil {
			t.Fatal(err)
		}
		keys = append(keys, k)
	}
	if len(keys) != 2 {
		t.Fatalf("scan found %v", keys)
	}

	n, err := c.FlushByPattern(ctx, "search:*")
	if err != nil || n != 2 {
		t.Fatalf("FlushByPattern = %d, %v", n, err)
	}
	if _, err := c.Get(ctx, "other"); err != nil {
		t.Errorf("unrelated key removed: %v", err)
	}
}

func TestZRevRangeAboveAndRemBelow(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	for m, s := range map[string]float64{"x": 1, "y": 5, "z": 5} {
		if err := c.ZAdd(ctx, "set", m, s); err != nil {
			t.Fatal(err)
		}
	}
	got, err := c.ZRevRangeAbove(ctx, "set", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("above = %+v", got)
	}
	if err := c.ZRemRangeBelow(ctx, "set", 5); err != nil {
		t.Fatal(err)
	}
	all, _ := c.ZRevRange(ctx, "set", 0, -1)
	if len(all) != 2 {
		t.Errorf("after rem = %+v", all)
	}
}
