// Package backup copies keyword scores and recommendation sets from Redis
// into PostgreSQL on a schedule, and replays them into Redis when the
// process starts.
package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/postgres"
)

// Schema creates the backup tables. Both carry the uniqueness constraint
// the upserts conflict on.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS keyword_scores (
		id         BIGSERIAL PRIMARY KEY,
		scope      VARCHAR(100) NOT NULL,
		dimension  VARCHAR(50)  NOT NULL,
		value      VARCHAR(200) NOT NULL,
		score      DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (scope, dimension, value)
	)`,
	`CREATE INDEX IF NOT EXISTS keyword_scores_scope_dimension_idx ON keyword_scores (scope, dimension)`,
	`CREATE TABLE IF NOT EXISTS recommendation_snapshots (
		id                BIGSERIAL PRIMARY KEY,
		scope             VARCHAR(100) NOT NULL,
		recommendation_id VARCHAR(255) NOT NULL,
		payload           JSONB NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (scope, recommendation_id)
	)`,
}

// ScoreRow is the durable form of one score entry.
type ScoreRow struct {
	Scope     string
	Dimension string
	Value     string
	Score     float64
	UpdatedAt time.Time
}

// SnapshotRow is the durable form of one recommendation set.
type SnapshotRow struct {
	Scope            string
	RecommendationID string
	Payload          []byte
	UpdatedAt        time.Time
}

// Repository is the durable side of the backup. Upserts report whether a
// row was inserted or changed; an identical row is left untouched.
type Repository interface {
	UpsertScore(ctx context.Context, row ScoreRow) (changed bool, err error)
	UpsertSnapshot(ctx context.Context, row SnapshotRow) (changed bool, err error)
	ListScores(ctx context.Context) ([]ScoreRow, error)
	ListSnapshots(ctx context.Context) ([]SnapshotRow, error)
	DeleteScores(ctx context.Context, scope string) (int64, error)
}

// PostgresRepository stores backups in the keyword_scores and
// recommendation_snapshots tables.
type PostgresRepository struct {
	db *postgres.Client
}

func NewPostgresRepository(db *postgres.Client) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate creates the backup tables if they do not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	return r.db.Migrate(ctx, Schema...)
}

func (r *PostgresRepository) UpsertScore(ctx context.Context, row ScoreRow) (bool, error) {
	res, err := r.db.DB.ExecContext(ctx,
		`INSERT INTO keyword_scores (scope, dimension, value, score, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (scope, dimension, value) DO UPDATE
		 SET score = EXCLUDED.score, updated_at = EXCLUDED.updated_at
		 WHERE keyword_scores.score IS DISTINCT FROM EXCLUDED.score`,
		row.Scope, row.Dimension, row.Value, row.Score, row.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("upserting score %s/%s/%s: %w", row.Scope, row.Dimension, row.Value, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) UpsertSnapshot(ctx context.Context, row SnapshotRow) (bool, error) {
	res, err := r.db.DB.ExecContext(ctx,
		`INSERT INTO recommendation_snapshots (scope, recommendation_id, payload, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (scope, recommendation_id) DO UPDATE
		 SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
		 WHERE recommendation_snapshots.payload IS DISTINCT FROM EXCLUDED.payload`,
		row.Scope, row.RecommendationID, row.Payload, row.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("upserting snapshot %s/%s: %w", row.Scope, row.RecommendationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}
	return n > 0, nil
}

// DeleteScores removes every score row of scope.
func (r *PostgresRepository) DeleteScores(ctx context.Context, scope string) (int64, error) {
	res, err := r.db.DB.ExecContext(ctx, `DELETE FROM keyword_scores WHERE scope = $1`, scope)
	if err != nil {
		return 0, fmt.Errorf("deleting scores of %s: %w", scope, err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// ListScores returns every score row, oldest update first so replaying
// them preserves relative recency.
func (r *PostgresRepository) ListScores(ctx context.Context) ([]ScoreRow, error) {
	rows, err := r.db.DB.QueryContext(ctx,
		`SELECT scope, dimension, value, score, updated_at
		 FROM keyword_scores ORDER BY updated_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing scores: %w", err)
	}
	defer rows.Close()

	var out []ScoreRow
	for rows.Next() {
		var row ScoreRow
		if err := rows.Scan(&row.Scope, &row.Dimension, &row.Value, &row.Score, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning score row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ListSnapshots(ctx context.Context) ([]SnapshotRow, error) {
	rows, err := r.db.DB.QueryContext(ctx,
		`SELECT scope, recommendation_id, payload, updated_at
		 FROM recommendation_snapshots ORDER BY updated_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var row SnapshotRow
		if err := rows.Scan(&row.Scope, &row.RecommendationID, &row.Payload, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
