package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/property-search/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/recommend"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/scores"
	apperrors "github.com/Adithya-Monish-Kumar-K/property-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/resilience"
)

const (
	tableScores    = "keyword_scores"
	tableSnapshots = "recommendation_snapshots"
)

// Result counts the rows handled by one Backup or Restore pass.
type Result struct {
	Scores    int `json:"scores"`
	Snapshots int `json:"snapshots"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type Service struct {
	repo    Repository
	scores  *scores.Store
	sets    *recommend.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	// mu serialises Backup and ResetScores so a pass cannot write back
	// scores a concurrent reset just removed.
	mu            sync.Mutex
	pendingResets map[scores.Scope]struct{}
}

func NewService(repo Repository, scoreStore *scores.Store, sets *recommend.Store, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		scores:  scoreStore,
		sets:    sets,
		metrics: m,
		logger:  slog.Default().With("component", "backup"),
		now:     time.Now,

		pendingResets: make(map[scores.Scope]struct{}),
	}
}

// ResetScores clears every score of scope, live and durable, and returns
// the number of Redis keys removed. When the durable delete fails the
// scope stays pending and every later Backup retries it before writing.
func (s *Service) ResetScores(ctx context.Context, scope scores.Scope) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.scores.Reset(ctx, scope)
	if err != nil {
		return n, err
	}
	s.pendingResets[scope] = struct{}{}
	s.flushResets(ctx)
	return n, nil
}

// flushResets deletes the durable rows of every pending scope. Callers
// hold s.mu.
func (s *Service) flushResets(ctx context.Context) error {
	var errs []error
	for scope := range s.pendingResets {
		rows, err := s.repo.DeleteScores(ctx, string(scope))
		if err != nil {
			s.logger.Warn("durable score reset deferred", "scope", scope, "error", err)
			errs = append(errs, err)
			continue
		}
		delete(s.pendingResets, scope)
		s.logger.Info("durable scores reset", "scope", scope, "rows", rows)
	}
	return errors.Join(errs...)
}

type connector interface {
	Connect(ctx context.Context) error
}

// Backup upserts every live score and recommendation set. A failed row is
// logged as a backup write error and skipped; the next pass retries it.
// Scores incremented while the pass runs may or may not be captured.
func (s *Service) Backup(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		res      Result
		scanErrs []error
	)
	if c, ok := s.repo.(connector); ok {
		if err := c.Connect(ctx); err != nil {
			return res, fmt.Errorf("%w: %v", apperrors.ErrBackupWrite, err)
		}
	}
	if err := s.flushResets(ctx); err != nil {
		scanErrs = append(scanErrs, err)
	}
	now := s.now().UTC()

	for e, err := range s.scores.All(ctx, "") {
		if err != nil {
			scanErrs = append(scanErrs, err)
			continue
		}
		changed, err := s.repo.UpsertScore(ctx, ScoreRow{
			Scope:     string(e.Scope),
			Dimension: string(e.Dimension),
			Value:     e.Value,
			Score:     e.Score,
			UpdatedAt: now,
		})
		s.record(tableScores, changed, err, &res)
		if err == nil {
			res.Scores++
		}
	}

	for set, err := range s.sets.List(ctx) {
		if err != nil {
			scanErrs = append(scanErrs, err)
			continue
		}
		payload, err := json.Marshal(set)
		if err != nil {
			s.record(tableSnapshots, false, err, &res)
			continue
		}
		changed, err := s.repo.UpsertSnapshot(ctx, SnapshotRow{
			Scope:            string(set.Scope),
			RecommendationID: recommend.SetKey(set.Scope),
			Payload:          payload,
			UpdatedAt:        now,
		})
		s.record(tableSnapshots, changed, err, &res)
		if err == nil {
			res.Snapshots++
		}
	}

	s.logger.Info("backup complete",
		"scores", res.Scores,
		"snapshots", res.Snapshots,
		"unchanged", res.Unchanged,
		"failed", res.Failed,
	)
	if len(scanErrs) > 0 {
		return res, fmt.Errorf("backup incomplete: %w", errors.Join(scanErrs...))
	}
	return res, nil
}

func (s *Service) record(table string, changed bool, err error, res *Result) {
	result := "written"
	switch {
	case err != nil:
		result = "failed"
		res.Failed++
		s.logger.Warn("backup row skipped", "table", table, "error", fmt.Errorf("%w: %v", apperrors.ErrBackupWrite, err))
	case !changed:
		result = "unchanged"
		res.Unchanged++
	}
	s.metrics.BackupRowsTotal.WithLabelValues(table, result).Inc()
}

// Restore replays durable rows into Redis. Scores are set directly, never
// incremented, and a live score that is already at or above the backed-up
// value is kept. A stored recommendation set is replaced only by a newer
// snapshot. Failing to read durable storage returns ErrRestore.
func (s *Service) Restore(ctx context.Context) (Result, error) {
	var res Result

	rows, err := resilience.RetryValue(ctx, "restore-scores", resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2,
	}, func() ([]ScoreRow, error) {
		return s.repo.ListScores(ctx)
	})
	if err != nil {
		return res, fmt.Errorf("%w: reading scores: %v", apperrors.ErrRestore, err)
	}

	for _, row := range rows {
		if err := s.restoreScore(ctx, row); err != nil {
			res.Skipped++
			s.logger.Warn("score row not restored", "scope", row.Scope, "dimension", row.Dimension, "error", err)
			continue
		}
		res.Scores++
	}

	snapshots, err := s.repo.ListSnapshots(ctx)
	if err != nil {
		return res, fmt.Errorf("%w: reading snapshots: %v", apperrors.ErrRestore, err)
	}
	for _, row := range snapshots {
		restored, err := s.restoreSnapshot(ctx, row)
		switch {
		case err != nil:
			res.Skipped++
			s.logger.Warn("snapshot not restored", "scope", row.Scope, "error", err)
		case restored:
			res.Snapshots++
		default:
			res.Unchanged++
		}
	}

	s.logger.Info("restore complete",
		"scores", res.Scores,
		"snapshots", res.Snapshots,
		"skipped", res.Skipped,
	)
	return res, nil
}

func (s *Service) restoreScore(ctx context.Context, row ScoreRow) error {
	scope, err := scores.ParseScope(row.Scope)
	if err != nil {
		return err
	}
	dim, err := filter.ParseDimension(row.Dimension)
	if err != nil {
		return err
	}
	current, ok, err := s.scores.Score(ctx, scope, dim, row.Value)
	if err != nil {
		return err
	}
	if ok && current >= row.Score {
		return nil
	}
	return s.scores.Set(ctx, scores.Entry{Scope: scope, Dimension: dim, Value: row.Value, Score: row.Score})
}

func (s *Service) restoreSnapshot(ctx context.Context, row SnapshotRow) (bool, error) {
	var set recommend.Set
	if err := json.Unmarshal(row.Payload, &set); err != nil {
		return false, fmt.Errorf("decoding payload: %w", err)
	}
	scope, err := scores.ParseScope(row.Scope)
	if err != nil {
		return false, err
	}
	set.Scope = scope

	current, ok, err := s.sets.Get(ctx, scope)
	if err != nil {
		return false, err
	}
	if ok && !current.UpdatedAt.Before(set.UpdatedAt) {
		return false, nil
	}
	if err := s.sets.Put(ctx, &set); err != nil {
		return false, err
	}
	return true, nil
}

// RestoreOnStartup is the startup routine the host process calls once
// before serving traffic. A restore failure is logged and swallowed: the
// process starts with whatever Redis holds.
func RestoreOnStartup(ctx context.Context, s *Service) Result {
	res, err := s.Restore(ctx)
	if err != nil {
		s.logger.Error("restore failed, starting with live state only", "error", err)
	}
	return res
}
