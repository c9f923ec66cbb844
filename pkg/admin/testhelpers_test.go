package admin

import (
	"context"
	"errors"
	"time"

	"github.com/codeengage/snippet-collab/pkg/audit"
	"github.com/codeengage/snippet-collab/pkg/auth"
)

var errDB = errors.New("db error")

type mockSweeper struct {
	removed int
	err     error
	calls   int
}

func (m *mockSweeper) SweepExpired(context.Context) (int, error) {
	m.calls++
	return m.removed, m.err
}

type mockAuditQuerier struct {
	queryResult []audit.Event
	queryErr    error
	countResult int
	countErr    error
	lastFilter  audit.QueryFilter
}

func (m *mockAuditQuerier) Query(_ context.Context, f audit.QueryFilter) ([]audit.Event, error) {
	m.lastFilter = f
	return m.queryResult, m.queryErr
}

func (m *mockAuditQuerier) Count(_ context.Context, _ audit.QueryFilter) (int, error) {
	return m.countResult, m.countErr
}

type mockAuditMetricsQuerier struct {
	timeseriesResult []audit.TimeseriesBucket
	timeseriesErr    error
	breakdownResult  []audit.BreakdownEntry
	breakdownErr     error
	lastTimeseries   audit.TimeseriesFilter
	lastBreakdown    audit.BreakdownFilter
}

func (m *mockAuditMetricsQuerier) Timeseries(_ context.Context, f audit.TimeseriesFilter) ([]audit.TimeseriesBucket, error) {
	m.lastTimeseries = f
	return m.timeseriesResult, m.timeseriesErr
}

func (m *mockAuditMetricsQuerier) Breakdown(_ context.Context, f audit.BreakdownFilter) ([]audit.BreakdownEntry, error) {
	m.lastBreakdown = f
	return m.breakdownResult, m.breakdownErr
}

// tokenAuth accepts a fixed set of tokens.
type tokenAuth map[string]*auth.UserContext

func (a tokenAuth) Authenticate(ctx context.Context) (*auth.UserContext, error) {
	if uc, ok := a[auth.GetToken(ctx)]; ok {
		return uc, nil
	}
	return nil, errors.New("unknown token")
}

// Verify interface compliance.
var (
	_ Sweeper             = (*mockSweeper)(nil)
	_ audit.Querier       = (*mockAuditQuerier)(nil)
	_ AuditMetricsQuerier = (*mockAuditMetricsQuerier)(nil)
	_ auth.Authenticator  = tokenAuth(nil)
)

func timePtr(t time.Time) *time.Time { return &t }
