// Package postgres provides PostgreSQL storage for group activity.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/groupcart/pkg/audit"
)

const (
	defaultRetentionDays = 90
	defaultQueryCapacity = 100
	maxQueryCapacity     = 1000
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var activityColumns = []string{
	"id", "timestamp", "action", "session_id", "user_id",
	"variant_id", "quantity", "success", "error_code",
}

// Config configures the store.
type Config struct {
	RetentionDays int
}

// Store implements audit.Store using PostgreSQL.
type Store struct {
	db            *sql.DB
	retentionDays int
	cancel        context.CancelFunc
	done          chan struct{}
}

// New creates a new PostgreSQL activity store.
func New(db *sql.DB, cfg Config) *Store {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = defaultRetentionDays
	}
	return &Store{db: db, retentionDays: cfg.RetentionDays}
}

// Log records an event.
func (s *Store) Log(ctx context.Context, e audit.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_activity
		(id, timestamp, action, session_id, user_id, variant_id, quantity, success, error_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.Timestamp, string(e.Action), e.SessionID, e.UserID,
		e.VariantID, e.Quantity, e.Success, e.ErrorCode,
	)
	if err != nil {
		return fmt.Errorf("inserting activity: %w", err)
	}
	return nil
}

func applyFilter(qb sq.SelectBuilder, f audit.QueryFilter) sq.SelectBuilder {
	if f.SessionID != "" {
		qb = qb.Where(sq.Eq{"session_id": f.SessionID})
	}
	if f.UserID != "" {
		qb = qb.Where(sq.Eq{"user_id": f.UserID})
	}
	if f.Action != "" {
		qb = qb.Where(sq.Eq{"action": string(f.Action)})
	}
	if f.Success != nil {
		qb = qb.Where(sq.Eq{"success": *f.Success})
	}
	if f.StartTime != nil {
		qb = qb.Where(sq.GtOrEq{"timestamp": *f.StartTime})
	}
	if f.EndTime != nil {
		qb = qb.Where(sq.LtOrEq{"timestamp": *f.EndTime})
	}
	return qb
}

// Query returns matching events, newest first.
func (s *Store) Query(ctx context.Context, f audit.QueryFilter) ([]audit.Event, error) {
	qb := applyFilter(psq.Select(activityColumns...).From("group_activity"), f).
		OrderBy("timestamp DESC", "id")
	if f.Limit > 0 {
		qb = qb.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		qb = qb.Offset(uint64(f.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building activity query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	allocCap := defaultQueryCapacity
	if f.Limit > 0 && f.Limit <= maxQueryCapacity {
		allocCap = f.Limit
	}
	events := make([]audit.Event, 0, allocCap)
	for rows.Next() {
		var e audit.Event
		var action string
		if err := rows.Scan(&e.ID, &e.Timestamp, &action, &e.SessionID, &e.UserID,
			&e.VariantID, &e.Quantity, &e.Success, &e.ErrorCode); err != nil {
			return nil, fmt.Errorf("scanning activity row: %w", err)
		}
		e.Action = audit.Action(action)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activity rows: %w", err)
	}
	return events, nil
}

// Count returns the number of matching events.
func (s *Store) Count(ctx context.Context, f audit.QueryFilter) (int, error) {
	query, args, err := applyFilter(psq.Select("COUNT(*)").From("group_activity"), f).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting activity: %w", err)
	}
	return n, nil
}

// CountByAction groups matching events by action.
func (s *Store) CountByAction(ctx context.Context, f audit.QueryFilter) ([]audit.ActionCount, error) {
	query, args, err := applyFilter(psq.Select("action", "COUNT(*)").From("group_activity"), f).
		GroupBy("action").OrderBy("action").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building breakdown query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying breakdown: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []audit.ActionCount
	for rows.Next() {
		var c audit.ActionCount
		var action string
		if err := rows.Scan(&action, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning breakdown row: %w", err)
		}
		c.Action = audit.Action(action)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating breakdown rows: %w", err)
	}
	return out, nil
}

// Cleanup deletes events older than the retention period.
func (s *Store) Cleanup(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM group_activity WHERE timestamp < $1`, cutoff); err != nil {
		return fmt.Errorf("cleaning up activity: %w", err)
	}
	return nil
}

// StartCleanupRoutine runs Cleanup every interval until Close is called.
func (s *Store) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Cleanup(ctx); err != nil {
					slog.Warn("activity cleanup failed", "error", err)
				}
			}
		}
	}()
}

// Close stops the cleanup routine. Safe to call when it was never started.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
	return nil
}

// Verify interface compliance.
var _ audit.Store = (*Store)(nil)
