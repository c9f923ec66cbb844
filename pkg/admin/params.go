package admin

import (
	"net/url"
	"strconv"
	"time"
)

const (
	pathParamID    = "id"
	paramStartTime = "start_time"
	paramEndTime   = "end_time"
)

// parseTimeParam parses an RFC3339 time from a query parameter.
func parseTimeParam(q url.Values, key string) *time.Time {
	v := q.Get(key)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}

// parsePageOffset parses the page query parameter and computes offset using the given effective limit.
func parsePageOffset(q url.Values, effectiveLimit int) int {
	if v := q.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return (n - 1) * effectiveLimit
		}
	}
	return 0
}

// parseLimit parses the per_page query parameter into a limit value.
func parseLimit(q url.Values) int {
	if v := q.Get("per_page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
