package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/codeengage/snippet-collab/pkg/audit"
)

// defaultMetricsWindow is the default lookback when no time range is specified.
const defaultMetricsWindow = 24 * time.Hour

// defaultBreakdownLimit is the default number of breakdown entries returned.
const defaultBreakdownLimit = 10

// maxBreakdownLimit caps the number of breakdown entries.
const maxBreakdownLimit = 100

// Timeseries returns audit event counts bucketed by the given resolution.
func (s *Store) Timeseries(ctx context.Context, filter audit.TimeseriesFilter) ([]audit.TimeseriesBucket, error) {
	if !audit.ValidResolutions[filter.Resolution] {
		return nil, fmt.Errorf("invalid resolution: %q", filter.Resolution)
	}

	start, end := defaultTimeRange(filter.StartTime, filter.EndTime)

	// Resolution is validated against ValidResolutions.
	truncExpr := fmt.Sprintf("date_trunc('%s', timestamp) AS bucket", string(filter.Resolution))

	qb := psq.Select(
		truncExpr,
		"COUNT(*) AS count",
		"COUNT(DISTINCT actor_id) AS unique_actors",
	).From("audit_logs").
		Where(sq.GtOrEq{"timestamp": start}).
		Where(sq.LtOrEq{"timestamp": end})
	if filter.ActionType != "" {
		qb = qb.Where(sq.Eq{"action_type": filter.ActionType})
	}
	qb = qb.GroupBy("bucket").OrderBy("bucket ASC")

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building timeseries query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying timeseries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	buckets := []audit.TimeseriesBucket{}
	for rows.Next() {
		var bucket audit.TimeseriesBucket
		if err := rows.Scan(&bucket.Bucket, &bucket.Count, &bucket.UniqueActors); err != nil {
			return nil, fmt.Errorf("scanning timeseries row: %w", err)
		}
		buckets = append(buckets, bucket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating timeseries rows: %w", err)
	}
	return buckets, nil
}

// clampBreakdownLimit applies default and max bounds to a breakdown limit.
func clampBreakdownLimit(limit int) int {
	if limit <= 0 {
		return defaultBreakdownLimit
	}
	if limit > maxBreakdownLimit {
		return maxBreakdownLimit
	}
	return limit
}

// Breakdown returns audit event counts grouped by a dimension.
func (s *Store) Breakdown(ctx context.Context, filter audit.BreakdownFilter) ([]audit.BreakdownEntry, error) {
	if !audit.ValidBreakdownDimensions[filter.GroupBy] {
		return nil, fmt.Errorf("invalid breakdown dimension: %q", filter.GroupBy)
	}

	start, end := defaultTimeRange(filter.StartTime, filter.EndTime)
	limit := clampBreakdownLimit(filter.Limit)

	// GroupBy is validated against ValidBreakdownDimensions.
	dimensionExpr := fmt.Sprintf("COALESCE(%s, '') AS dimension", string(filter.GroupBy))

	qb := psq.Select(dimensionExpr, "COUNT(*) AS count").
		From("audit_logs").
		Where(sq.GtOrEq{"timestamp": start}).
		Where(sq.LtOrEq{"timestamp": end}).
		GroupBy("dimension").
		OrderBy("count DESC").
		Limit(uint64(limit)) // #nosec G115 -- clamped to [1, 100]

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building breakdown query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying breakdown: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []audit.BreakdownEntry{}
	for rows.Next() {
		var entry audit.BreakdownEntry
		if err := rows.Scan(&entry.Dimension, &entry.Count); err != nil {
			return nil, fmt.Errorf("scanning breakdown row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating breakdown rows: %w", err)
	}
	return entries, nil
}

// defaultTimeRange returns the start and end times, defaulting to the last 24h.
func defaultTimeRange(start, end *time.Time) (startTime, endTime time.Time) {
	now := time.Now()
	startTime = now.Add(-defaultMetricsWindow)
	endTime = now
	if start != nil {
		startTime = *start
	}
	if end != nil {
		endTime = *end
	}
	return startTime, endTime
}
