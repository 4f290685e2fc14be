// Package history persists search events in PostgreSQL and prunes them
// after the retention period.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/property-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/property-search/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/postgres"
)

// Schema creates the search_history table.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS search_history (
		id           BIGSERIAL PRIMARY KEY,
		user_id      VARCHAR(64),
		query        TEXT NOT NULL,
		filter       JSONB,
		status       VARCHAR(32) NOT NULL,
		error_type   VARCHAR(64),
		cache_key    VARCHAR(64),
		result_count INTEGER NOT NULL DEFAULT 0,
		cache_hit    BOOLEAN NOT NULL DEFAULT FALSE,
		latency_ms   BIGINT NOT NULL DEFAULT 0,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS search_history_user_created_idx ON search_history (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS search_history_created_idx ON search_history (created_at)`,
}

// Store persists search events.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "search-history"),
	}
}

// Migrate creates the history table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.Migrate(ctx, Schema...)
}

// Insert stores one event.
func (s *Store) Insert(ctx context.Context, e analytics.SearchEvent) error {
	var filterJSON []byte
	if e.Filter != nil {
		data, err := json.Marshal(e.Filter)
		if err != nil {
			return fmt.Errorf("marshaling filter: %w", err)
		}
		filterJSON = data
	}
	created := e.Timestamp
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO search_history
		 (user_id, query, filter, status, error_type, cache_key, result_count, cache_hit, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		nullString(e.UserID), e.Query, filterJSON, string(e.Status), nullString(e.ErrorType),
		nullString(e.CacheKey), e.ResultCount, e.CacheHit, e.LatencyMs, created.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting search history: %w", err)
	}
	return nil
}

// Recent returns the newest events, for one user when userID is non-empty.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]analytics.SearchEvent, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT user_id, query, filter, status, error_type, cache_key, result_count, cache_hit, latency_ms, created_at
		 FROM search_history
		 WHERE ($1 = '' OR user_id = $1)
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing search history: %w", err)
	}
	defer rows.Close()

	var events []analytics.SearchEvent
	for rows.Next() {
		var (
			e                       analytics.SearchEvent
			user, errType, cacheKey sql.NullString
			filterJSON              []byte
			status                  string
		)
		if err := rows.Scan(&user, &e.Query, &filterJSON, &status, &errType, &cacheKey,
			&e.ResultCount, &e.CacheHit, &e.LatencyMs, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning search history row: %w", err)
		}
		e.UserID, e.ErrorType, e.CacheKey = user.String, errType.String, cacheKey.String
		e.Status = analytics.Status(status)
		if len(filterJSON) > 0 {
			var f filter.Filter
			if err := json.Unmarshal(filterJSON, &f); err != nil {
				s.logger.Warn("skipping corrupt filter", "error", err)
			} else {
				e.Filter = &f
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Cleanup deletes events created before cutoff and returns how many were
// removed.
func (s *Store) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM search_history WHERE created_at < $1`, cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("cleaning search history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	s.logger.Info("search history cleaned", "deleted", n, "cutoff", cutoff)
	return n, nil
}

// CleanupJob returns a scheduler-compatible func deleting events older
// than retention.
func (s *Store) CleanupJob(retention time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := s.Cleanup(ctx, time.Now().Add(-retention))
		return err
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
