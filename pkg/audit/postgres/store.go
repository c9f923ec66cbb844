// Package postgres provides PostgreSQL storage for audit logs.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/codeengage/snippet-collab/pkg/audit"
)

const (
	defaultRetentionDays = 90
	defaultQueryCapacity = 100
	maxQueryCapacity     = 10000
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// auditColumns lists columns returned by audit SELECT queries.
var auditColumns = []string{
	"id", "timestamp", "actor_id", "action_type", "entity_type",
	"entity_id", "old_values", "new_values", "request_id",
}

// Store implements audit.Logger and audit.Querier using PostgreSQL.
type Store struct {
	db            *sql.DB
	retentionDays int
	cancel        context.CancelFunc
	done          chan struct{}
}

// Config configures the PostgreSQL audit store.
type Config struct {
	RetentionDays int
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB, cfg Config) *Store {
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = defaultRetentionDays
	}
	return &Store{
		db:            db,
		retentionDays: cfg.RetentionDays,
	}
}

// Log records an audit event. Secret-bearing keys in the value maps are
// redacted before they reach the table.
func (s *Store) Log(ctx context.Context, event audit.Event) error {
	oldValues := marshalValues(audit.SanitizeValues(event.OldValues))
	newValues := marshalValues(audit.SanitizeValues(event.NewValues))

	query, args, err := psq.Insert("audit_logs").
		Columns("id", "timestamp", "actor_id", "action_type", "entity_type",
			"entity_id", "old_values", "new_values", "request_id", "created_date").
		Values(event.ID, event.Timestamp, event.ActorID, event.ActionType, event.EntityType,
			event.EntityID, oldValues, newValues, event.RequestID, event.Timestamp.Format("2006-01-02")).
		ToSql()
	if err != nil {
		return fmt.Errorf("building audit insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

func marshalValues(values map[string]any) []byte {
	if values == nil {
		return nil
	}
	b, err := json.Marshal(values)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// applyAuditFilter adds filter conditions to a SELECT builder.
func applyAuditFilter(qb sq.SelectBuilder, filter audit.QueryFilter) sq.SelectBuilder {
	if filter.ID != "" {
		qb = qb.Where(sq.Eq{"id": filter.ID})
	}
	if filter.StartTime != nil {
		qb = qb.Where(sq.GtOrEq{"timestamp": *filter.StartTime})
	}
	if filter.EndTime != nil {
		qb = qb.Where(sq.LtOrEq{"timestamp": *filter.EndTime})
	}
	if filter.ActorID != "" {
		qb = qb.Where(sq.Eq{"actor_id": filter.ActorID})
	}
	if filter.ActionType != "" {
		qb = qb.Where(sq.Eq{"action_type": filter.ActionType})
	}
	if filter.EntityType != "" {
		qb = qb.Where(sq.Eq{"entity_type": filter.EntityType})
	}
	if filter.EntityID != "" {
		qb = qb.Where(sq.Eq{"entity_id": filter.EntityID})
	}
	return qb
}

// Query retrieves audit events matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Event, error) {
	qb := applyAuditFilter(psq.Select(auditColumns...).From("audit_logs"), filter)
	qb = qb.OrderBy("timestamp DESC")
	if filter.Limit > 0 {
		qb = qb.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		qb = qb.Offset(uint64(filter.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building audit query: %w", err)
	}

	return s.executeQuery(ctx, query, args, filter.Limit)
}

// Count returns the number of audit events matching the filter.
func (s *Store) Count(ctx context.Context, filter audit.QueryFilter) (int, error) {
	qb := applyAuditFilter(psq.Select("COUNT(*)").From("audit_logs"), filter)

	query, args, err := qb.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting audit logs: %w", err)
	}
	return count, nil
}

func (s *Store) executeQuery(ctx context.Context, query string, args []any, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	allocCap := defaultQueryCapacity
	if limit > 0 && limit <= maxQueryCapacity {
		allocCap = limit
	}
	events := make([]audit.Event, 0, allocCap)

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit log rows: %w", err)
	}

	return events, nil
}

func scanEvent(rows *sql.Rows) (audit.Event, error) {
	var event audit.Event
	var oldValues, newValues []byte

	err := rows.Scan(
		&event.ID,
		&event.Timestamp,
		&event.ActorID,
		&event.ActionType,
		&event.EntityType,
		&event.EntityID,
		&oldValues,
		&newValues,
		&event.RequestID,
	)
	if err != nil {
		return event, fmt.Errorf("scanning audit log row: %w", err)
	}

	if len(oldValues) > 0 {
		_ = json.Unmarshal(oldValues, &event.OldValues)
	}
	if len(newValues) > 0 {
		_ = json.Unmarshal(newValues, &event.NewValues)
	}

	return event, nil
}

// Close cancels the cleanup goroutine and waits for it to exit.
// It is safe to call Close even if StartCleanupRoutine was never called.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

// Cleanup removes audit logs older than the retention period.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up audit logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading cleaned up count: %w", err)
	}
	return n, nil
}

// StartCleanupRoutine starts a background goroutine that periodically deletes
// old audit logs. The goroutine is stopped when Close is called.
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
				_, _ = s.Cleanup(ctx)
			}
		}
	}()
}

// Verify interface compliance.
var (
	_ audit.Logger  = (*Store)(nil)
	_ audit.Querier = (*Store)(nil)
)
