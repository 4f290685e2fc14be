package scores

import (
	"context"
	"sync"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/property-search/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/config"
	pkgredis "github.com/Adithya-Monish-Kumar-K/property-search/pkg/redis"
	"github.com/alicebob/miniredis/v2"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := pkgredis.NewClient(config.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewStore(client)
}

func TestScopeParsing(t *testing.T) {
	if s, err := ParseScope("user:42"); err != nil || s.UserID() != "42" {
		t.Fatalf("ParseScope(user:42) = %q, %v", s, err)
	}
	if s, err := ParseScope("global"); err != nil || !s.IsGlobal() || s.UserID() != "" {
		t.Fatalf("ParseScope(global) = %q, %v", s, err)
	}
	for _, bad := range []string{"", "user:", "users:1", "user:1:2"} {
		if _, err := ParseScope(bad); err == nil {
			t.Errorf("ParseScope(%q) accepted", bad)
		}
	}
}

func TestIncrementCreatesAtAmount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.Increment(ctx, UserScope("42"), filter.DimAddress, "서울시 강남구", 1)
	if err != nil || got != 1 {
		t.Fatalf("first increment = %v, %v", got, err)
	}
	got, _ = s.Increment(ctx, UserScope("42"), filter.DimAddress, "서울시 강남구", 2)
	if got != 3 {
		t.Fatalf("second increment = %v", got)
	}
	if _, err := s.Increment(ctx, Global, filter.DimAddress, "x", -1); err == nil {
		t.Fatal("negative increment accepted")
	}
}

func TestConcurrentIncrementsNoLostUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	const n = 50

	var wg sync.WaitGroup
	for range n {
		wg.Go(func() {
			if _, err := s.Increment(ctx, Global, filter.DimTransactionType, "매매", 1); err != nil {
				t.Errorf("increment: %v", err)
			}
		})
		wg.Go(func() {
			if _, err := s.Increment(ctx, Global, filter.DimTransactionType, "전세", 1); err != nil {
				t.Errorf("increment: %v", err)
			}
		})
	}
	wg.Wait()

	top, err := s.Top(ctx, Global, filter.DimTransactionType, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 || top[0].Score != n || top[1].Score != n {
		t.Fatalf("top = %+v", top)
	}
}

func TestTopOrdersByScore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := UserScope("7")

	for range 3 {
		s.Increment(ctx, scope, filter.DimBuildingType, "아파트", 1)
	}
	s.Increment(ctx, scope, filter.DimBuildingType, "빌라", 1)

	top, err := s.Top(ctx, scope, filter.DimBuildingType, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 1 || top[0].Value != "아파트" || top[0].Score != 3 {
		t.Fatalf("top = %+v", top)
	}
}

func TestTopTieBreaksByRecency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Increment(ctx, Global, filter.DimAddress, "서울시 강남구", 1)
	s.Increment(ctx, Global, filter.DimAddress, "서울시 서초구", 1)
	s.Increment(ctx, Global, filter.DimAddress, "서울시 송파구", 1)

	top, _ := s.Top(ctx, Global, filter.DimAddress, 1)
	if len(top) != 1 || top[0].Value != "서울시 송파구" {
		t.Fatalf("expected most recent tie to win, got %+v", top)
	}

	// Touch the oldest again so it leads on score.
	s.Increment(ctx, Global, filter.DimAddress, "서울시 강남구", 1)
	s.Increment(ctx, Global, filter.DimAddress, "서울시 서초구", 1)
	top, _ = s.Top(ctx, Global, filter.DimAddress, 3)
	if len(top) != 3 || top[0].Value != "서울시 서초구" || top[1].Value != "서울시 강남구" || top[2].Value != "서울시 송파구" {
		t.Fatalf("top = %+v", top)
	}
}

func TestTopEmpty(t *testing.T) {
	s := newTestStore(t)
	top, err := s.Top(context.Background(), UserScope("nobody"), filter.DimArea, 1)
	if err != nil || len(top) != 0 {
		t.Fatalf("top = %+v, %v", top, err)
	}
}

func TestTopValues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := UserScope("42")
	s.Increment(ctx, scope, filter.DimAddress, "서울시 강남구", 1)
	s.Increment(ctx, scope, filter.DimTransactionType, "매매", 1)
	s.Increment(ctx, scope, filter.DimBuildingType, "아파트", 1)

	vals, err := s.TopValues(ctx, scope)
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 3 || vals[filter.DimTransactionType] != "매매" {
		t.Fatalf("values = %v", vals)
	}
	if _, ok := vals[filter.DimArea]; ok {
		t.Fatal("area should be absent")
	}
}

func TestAllIsRestartableAndScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Increment(ctx, UserScope("42"), filter.DimTransactionType, "매매", 7)
	s.Increment(ctx, UserScope("42"), filter.DimAddress, "서울시 강남구", 1)
	s.Increment(ctx, Global, filter.DimTransactionType, "매매", 9)

	seq := s.All(ctx, "")
	for pass := range 2 {
		count := 0
		for e, err := range seq {
			if err != nil {
				t.Fatal(err)
			}
			count++
			if e.Scope == UserScope("42") && e.Dimension == filter.DimTransactionType && e.Score != 7 {
				t.Errorf("entry = %+v", e)
			}
		}
		if count != 3 {
			t.Fatalf("pass %d saw %d entries", pass, count)
		}
	}

	count := 0
	for e, err := range s.All(ctx, Global) {
		if err != nil {
			t.Fatal(err)
		}
		if e.Scope != Global {
			t.Errorf("unexpected scope %s", e.Scope)
		}
		count++
	}
	if count != 1 {
		t.Fatalf("global entries = %d", count)
	}
}

func TestSetAndReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := UserScope("42")

	if err := s.Set(ctx, Entry{Scope: scope, Dimension: filter.DimTransactionType, Value: "매매", Score: 7}); err != nil {
		t.Fatal(err)
	}
	top, _ := s.Top(ctx, scope, filter.DimTransactionType, 1)
	if len(top) != 1 || top[0].Value != "매매" || top[0].Score != 7 {
		t.Fatalf("top = %+v", top)
	}

	s.Increment(ctx, UserScope("420"), filter.DimAddress, "x y", 1)
	if _, err := s.Reset(ctx, scope); err != nil {
		t.Fatal(err)
	}
	if top, _ := s.Top(ctx, scope, filter.DimTransactionType, 1); len(top) != 0 {
		t.Fatalf("scores survived reset: %+v", top)
	}
	if top, _ := s.Top(ctx, UserScope("420"), filter.DimAddress, 1); len(top) != 1 {
		t.Fatal("reset removed another scope")
	}
}
