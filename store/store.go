// Package store persists classification outcomes for auditing. It is an
// append-only history with retention pruning, never consulted to answer a
// classification request.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"payclassd/llm"
)

// Classification is one recorded classification outcome.
type Classification struct {
	ID               int64
	PaymentText      string
	Category         string
	Reasoning        string
	Confidence       *float64
	Provider         string
	Model            string
	CorrelationID    string
	SearchUsed       bool
	ProcessingTimeMS float64
	CreatedAt        time.Time
}

// Store handles persistence of classification history.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store over an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record appends a classification result to the history.
func (s *Store) Record(ctx context.Context, paymentText, provider string, result *llm.Result) error {
	query := sq.Insert("classifications").
		Columns(
			"payment_text", "category", "reasoning", "confidence",
			"provider", "model", "correlation_id", "search_used",
			"processing_time_ms", "created_at",
		).
		Values(
			paymentText, result.Category, result.Reasoning, result.Confidence,
			provider, result.Model, result.CorrelationID, result.SearchUsed(),
			result.ProcessingTimeMS, time.Now().Unix(),
		)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	_, err = s.db.ExecContext(ctx, queryStr, args...)
	return err
}

// ListRecent returns up to limit classifications, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Classification, error) {
	if limit < 1 {
		limit = 50
	}
	query := sq.Select(
		"id", "payment_text", "category", "reasoning", "confidence",
		"provider", "model", "correlation_id", "search_used",
		"processing_time_ms", "created_at",
	).
		From("classifications").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit))

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []Classification
	for rows.Next() {
		var (
			c          Classification
			confidence sql.NullFloat64
			searchUsed int
			createdAt  int64
		)
		if err := rows.Scan(
			&c.ID, &c.PaymentText, &c.Category, &c.Reasoning, &confidence,
			&c.Provider, &c.Model, &c.CorrelationID, &searchUsed,
			&c.ProcessingTimeMS, &createdAt,
		); err != nil {
			return nil, err
		}
		if confidence.Valid {
			c.Confidence = &confidence.Float64
		}
		c.SearchUsed = searchUsed != 0
		c.CreatedAt = time.Unix(createdAt, 0)
		results = append(results, c)
	}
	return results, rows.Err()
}

// PruneOlderThan deletes history rows created before cutoff and returns the
// number of rows removed.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := sq.Delete("classifications").
		Where(sq.Lt{"created_at": cutoff.Unix()})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
