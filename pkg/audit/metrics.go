package audit

import "time"

// Resolution defines the time bucketing granularity for timeseries queries.
type Resolution string

const (
	// ResolutionHour buckets by hour.
	ResolutionHour Resolution = "hour"

	// ResolutionDay buckets by day.
	ResolutionDay Resolution = "day"
)

// ValidResolutions is the set of allowed resolution values.
var ValidResolutions = map[Resolution]bool{
	ResolutionHour: true,
	ResolutionDay:  true,
}

// TimeseriesFilter controls timeseries query parameters.
type TimeseriesFilter struct {
	Resolution Resolution
	ActionType string
	StartTime  *time.Time
	EndTime    *time.Time
}

// TimeseriesBucket holds counts for a single time bucket.
type TimeseriesBucket struct {
	Bucket       time.Time `json:"bucket"`
	Count        int       `json:"count"`
	UniqueActors int       `json:"unique_actors"`
}

// BreakdownDimension defines valid group-by dimensions.
type BreakdownDimension string

const (
	// BreakdownByAction groups by action type.
	BreakdownByAction BreakdownDimension = "action_type"

	// BreakdownByActor groups by acting user.
	BreakdownByActor BreakdownDimension = "actor_id"

	// BreakdownByEntity groups by entity id, e.g. the busiest sessions.
	BreakdownByEntity BreakdownDimension = "entity_id"
)

// ValidBreakdownDimensions is the set of allowed group-by values.
var ValidBreakdownDimensions = map[BreakdownDimension]bool{
	BreakdownByAction: true,
	BreakdownByActor:  true,
	BreakdownByEntity: true,
}

// BreakdownFilter controls breakdown query parameters.
type BreakdownFilter struct {
	GroupBy   BreakdownDimension
	Limit     int
	StartTime *time.Time
	EndTime   *time.Time
}

// BreakdownEntry holds the event count for a single dimension value.
type BreakdownEntry struct {
	Dimension string `json:"dimension"`
	Count     int    `json:"count"`
}
