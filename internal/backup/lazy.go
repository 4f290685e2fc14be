package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/property-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/postgres"
)

// reconnectCooldown spaces out connection attempts while the durable
// store is down; calls in between fail with the last connect error.
const reconnectCooldown = 10 * time.Second

// Connector opens the durable store and prepares its schema.
type Connector func(ctx context.Context) (Repository, error)

// PostgresConnector connects with cfg and migrates the backup tables.
func PostgresConnector(cfg config.PostgresConfig) Connector {
	return func(ctx context.Context) (Repository, error) {
		db, err := postgres.New(cfg)
		if err != nil {
			return nil, err
		}
		repo := NewPostgresRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating backup tables: %w", err)
		}
		return repo, nil
	}
}

// LazyRepository connects on first use and keeps retrying on later calls,
// so the search service starts and serves while Postgres is unreachable.
// Until connected, reads fail with ErrRestore and writes with
// ErrBackupWrite.
type LazyRepository struct {
	connect Connector
	logger  *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	repo        Repository
	lastErr     error
	lastAttempt time.Time
}

var _ Repository = (*LazyRepository)(nil)

func NewLazyRepository(connect Connector) *LazyRepository {
	return &LazyRepository{
		connect: connect,
		logger:  slog.Default().With("component", "backup-store"),
		now:     time.Now,
	}
}

// Connect returns the connection error, if any. It attempts a new
// connection only when the cooldown since the last failure has passed.
func (l *LazyRepository) Connect(ctx context.Context) error {
	_, err := l.get(ctx)
	return err
}

func (l *LazyRepository) get(ctx context.Context) (Repository, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.repo != nil {
		return l.repo, nil
	}
	if l.lastErr != nil && l.now().Sub(l.lastAttempt) < reconnectCooldown {
		return nil, l.lastErr
	}
	l.lastAttempt = l.now()
	repo, err := l.connect(ctx)
	if err != nil {
		l.lastErr = fmt.Errorf("durable store unavailable: %w", err)
		l.logger.Warn("durable store connect failed", "error", err)
		return nil, l.lastErr
	}
	l.repo, l.lastErr = repo, nil
	l.logger.Info("durable store connected")
	return repo, nil
}

func (l *LazyRepository) UpsertScore(ctx context.Context, row ScoreRow) (bool, error) {
	repo, err := l.get(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %w", apperrors.ErrBackupWrite, err)
	}
	return repo.UpsertScore(ctx, row)
}

func (l *LazyRepository) UpsertSnapshot(ctx context.Context, row SnapshotRow) (bool, error) {
	repo, err := l.get(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %w", apperrors.ErrBackupWrite, err)
	}
	return repo.UpsertSnapshot(ctx, row)
}

func (l *LazyRepository) DeleteScores(ctx context.Context, scope string) (int64, error) {
	repo, err := l.get(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", apperrors.ErrBackupWrite, err)
	}
	return repo.DeleteScores(ctx, scope)
}

func (l *LazyRepository) ListScores(ctx context.Context) ([]ScoreRow, error) {
	repo, err := l.get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrRestore, err)
	}
	return repo.ListScores(ctx)
}

func (l *LazyRepository) ListSnapshots(ctx context.Context) ([]SnapshotRow, error) {
	repo, err := l.get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrRestore, err)
	}
	return repo.ListSnapshots(ctx)
}

// Ping reports the connection error while disconnected, otherwise pings
// the underlying store.
func (l *LazyRepository) Ping(ctx context.Context) error {
	repo, err := l.get(ctx)
	if err != nil {
		return err
	}
	if p, ok := repo.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (l *LazyRepository) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.repo.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
