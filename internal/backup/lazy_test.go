package backup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/property-search/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/scores"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/property-search/pkg/errors"
)

func TestLazyRepositoryStartsWhileStoreIsDown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	attempts := 0
	down := true
	lazy := NewLazyRepository(func(context.Context) (Repository, error) {
		attempts++
		if down {
			return nil, errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
		}
		return env.repo, nil
	})
	lazy.now = func() time.Time { return now }
	svc := NewService(lazy, env.scores, env.sets, env.metrics)

	res := RestoreOnStartup(ctx, svc)
	if res != (Result{}) {
		t.Fatalf("restore result = %+v", res)
	}
	if _, err := lazy.ListScores(ctx); !errors.Is(err, apperrors.ErrRestore) {
		t.Fatalf("ListScores err = %v, want ErrRestore", err)
	}
	if _, err := lazy.UpsertScore(ctx, ScoreRow{Scope: "global"}); !errors.Is(err, apperrors.ErrBackupWrite) {
		t.Fatalf("UpsertScore err = %v, want ErrBackupWrite", err)
	}
	if attempts != 1 {
		t.Fatalf("connect attempts = %d, want 1 inside the cooldown", attempts)
	}

	env.scores.Increment(ctx, scores.Global, filter.DimAddress, "서울시 강남구", 2)
	if _, err := svc.Backup(ctx); !errors.Is(err, apperrors.ErrBackupWrite) {
		t.Fatalf("backup err = %v, want ErrBackupWrite", err)
	}

	down = false
	now = now.Add(reconnectCooldown)
	got, err := svc.Backup(ctx)
	if err != nil {
		t.Fatalf("backup after reconnect: %v", err)
	}
	if got.Scores != 1 {
		t.Fatalf("backup result = %+v", got)
	}
	if err := lazy.Ping(ctx); err != nil {
		t.Fatalf("ping after reconnect: %v", err)
	}
}

func TestPostgresConnectorUnreachable(t *testing.T) {
	cfg := config.PostgresConfig{
		Host:     "127.0.0.1",
		Port:     1,
		User:     "search",
		Password: "search",
		Database: "search",
		SSLMode:  "disable",
	}
	lazy := NewLazyRepository(PostgresConnector(cfg))
	defer lazy.Close()
	env := newTestEnv(t)
	svc := NewService(lazy, env.scores, env.sets, env.metrics)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if res := RestoreOnStartup(ctx, svc); res != (Result{}) {
		t.Fatalf("restore result = %+v", res)
	}
	if err := lazy.Ping(ctx); err == nil {
		t.Fatal("ping should report the unreachable store")
	}
}
