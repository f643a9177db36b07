package review

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rsrlabs/dqreview/pkg/config"
	"github.com/rsrlabs/dqreview/pkg/reports"
	"github.com/rsrlabs/dqreview/pkg/resolver"
	"github.com/rsrlabs/dqreview/pkg/warehouse"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWarehouse answers queries by the first matching SQL fragment.
type fakeWarehouse struct {
	mu         sync.Mutex
	acquireErr error
	answers    map[string]*warehouse.Table
	failures   map[string]error
	acquired   int
	released   int
	queries    []string
}

type fakeSession struct {
	w *fakeWarehouse
}

func (f *fakeWarehouse) Start(context.Context) error { return nil }
func (f *fakeWarehouse) Stop() error                 { return nil }

func (f *fakeWarehouse) Acquire(context.Context) (warehouse.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.acquireErr != nil {
		return nil, f.acquireErr
	}

	f.acquired++

	return &fakeSession{w: f}, nil
}

func (s *fakeSession) Query(_ context.Context, query string) (*warehouse.Table, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()

	s.w.queries = append(s.w.queries, query)

	for fragment, err := range s.w.failures {
		if strings.Contains(query, fragment) {
			return nil, err
		}
	}

	for fragment, table := range s.w.answers {
		if strings.Contains(query, fragment) {
			return table, nil
		}
	}

	return warehouse.NewTable([]string{"empty"}), nil
}

func (s *fakeSession) Close() error {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()

	s.w.released++

	return nil
}

func testConfig() *config.ReviewConfig {
	return &config.ReviewConfig{
		DefaultCSID: 12610,
		MinCSID:     1,
		MaxCSID:     10000000,
		Periods:     []string{"2025-1H", "2025-2H"},
	}
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func previousCSID(v any) *warehouse.Table {
	return warehouse.NewTable([]string{"fn_get_previous_csid"}, []any{v})
}

func madTable() *warehouse.Table {
	return warehouse.NewTable(
		[]string{"collection_set", "carrier", "test_type_id", "acc", "task", "ul_speed_50p"},
		[]any{"MKT-2025-1H", "Verizon", int64(19), 98.0, 97.0, 10.5},
		[]any{"MKT-2025-2H", "Verizon", int64(19), 99.0, 98.5, 12.5},
		[]any{"MKT-LEGACY", "AT&T", int64(19), 90.0, 91.0, 8.0},
	)
}

func panelByID(t *testing.T, rev *Review, id string) *Panel {
	t.Helper()

	for _, p := range rev.Panels {
		if p.ReportID == id {
			return p
		}
	}

	t.Fatalf("panel %s not found", id)

	return nil
}

func TestLabelPeriod(t *testing.T) {
	periods := []string{"2025-1H", "2025-2H"}

	tests := []struct {
		value string
		want  string
	}{
		{value: "MKT-2025-1H", want: "2025-1H"},
		{value: "MKT-2025-2H", want: "2025-2H"},
		{value: "MKT-LEGACY", want: "Other"},
		{value: "MKT-2025-2h", want: "Other"},
		{value: "2025-1H-MKT", want: "Other"},
		{value: "", want: "Other"},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, LabelPeriod(tt.value, periods))
		})
	}

	assert.Equal(t, "Other", LabelPeriod("MKT-2025-1H", nil))
}

func TestRun_AllPanels(t *testing.T) {
	wh := &fakeWarehouse{
		answers: map[string]*warehouse.Table{
			"fn_get_previous_csid": previousCSID(int64(12001)),
			"dq.fn_sort_of_mad":    madTable(),
			"analytic.fn_dq_check": warehouse.NewTable([]string{"item"}, []any{"late uploads"}),
		},
	}

	d := NewDriver(testLogger(), wh, testConfig(), nil)

	rev, err := d.Run(context.Background(), NewRequest(12610, 0))
	require.NoError(t, err)

	assert.Equal(t, int64(12610), rev.CSID)
	assert.Equal(t, Comparison{CompCSID: 12001, Source: resolver.SourceLookup}, rev.Comparison)
	assert.Equal(t, "2025-2H", rev.ThresholdsVersion)
	require.Len(t, rev.Panels, len(reports.Dashboard()))

	for i, r := range reports.Dashboard() {
		p := rev.Panels[i]
		assert.Equal(t, r.ID, p.ReportID)
		assert.True(t, p.OK(), "panel %s: %s", p.ReportID, p.Err)
	}

	assert.Equal(t, 0, rev.Failed())
	assert.Equal(t, 1, wh.acquired, "one session per submission")
	assert.Equal(t, 1, wh.released, "session released")

	// One lookup query, then one query per dashboard report.
	assert.Len(t, wh.queries, 1+len(reports.Dashboard()))

	dispersion := panelByID(t, rev, "dispersion")
	require.Equal(t, 3, dispersion.Table.Len())
	assert.Equal(t, "2025-1H", dispersion.Table.Row(0).Get(PeriodColumn))
	assert.Equal(t, "2025-2H", dispersion.Table.Row(1).Get(PeriodColumn))
	assert.Equal(t, "Other", dispersion.Table.Row(2).Get(PeriodColumn))
	assert.Empty(t, dispersion.ChartErr)
	assert.NotEmpty(t, dispersion.Charts)

	var grid int
	for _, c := range dispersion.Charts {
		if c.Group == "speed-grid" {
			grid++
		}
	}

	assert.Equal(t, 4, grid)
}

func TestRun_ReportFailureIsIsolated(t *testing.T) {
	wh := &fakeWarehouse{
		answers: map[string]*warehouse.Table{
			"fn_get_previous_csid": previousCSID(int64(12001)),
		},
		failures: map[string]error{
			"dq.fn_dq_kit_diff": errors.New(`function dq.fn_dq_kit_diff(integer) does not exist`),
		},
	}

	d := NewDriver(testLogger(), wh, testConfig(), nil)

	rev, err := d.Run(context.Background(), NewRequest(12610, 0))
	require.NoError(t, err)

	failed := panelByID(t, rev, "daily-diff")
	assert.Contains(t, failed.Err, "does not exist")
	assert.Nil(t, failed.Table)
	assert.Equal(t, 1, rev.Failed())

	assert.True(t, panelByID(t, rev, "dispersion").OK(), "earlier panels unaffected")
	assert.True(t, panelByID(t, rev, "exclusions").OK(), "later panels still run")
}

func TestRun_WarehouseUnreachable(t *testing.T) {
	wh := &fakeWarehouse{acquireErr: errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")}

	d := NewDriver(testLogger(), wh, testConfig(), nil)

	rev, err := d.Run(context.Background(), NewRequest(12610, 11000))
	require.NoError(t, err)

	require.Len(t, rev.Panels, len(reports.Dashboard()))

	for _, p := range rev.Panels {
		assert.Contains(t, p.Err, "connection refused", p.ReportID)
	}

	assert.Equal(t, len(rev.Panels), rev.Failed())
	assert.Equal(t, resolver.SourceNone, rev.Comparison.Source)
	assert.Contains(t, rev.Comparison.LookupError, "connection refused")
	assert.Equal(t, 0, wh.released)
}

func TestRun_NoComparisonSkipsDependentPanels(t *testing.T) {
	wh := &fakeWarehouse{
		answers: map[string]*warehouse.Table{
			"fn_get_previous_csid": warehouse.NewTable([]string{"fn_get_previous_csid"}),
		},
	}

	d := NewDriver(testLogger(), wh, testConfig(), nil)

	rev, err := d.Run(context.Background(), NewRequest(12610, 0))
	require.NoError(t, err)

	assert.Equal(t, resolver.SourceNone, rev.Comparison.Source)

	for _, p := range rev.Panels {
		r, err := reports.Lookup(p.ReportID)
		require.NoError(t, err)

		if r.NeedsComparison() {
			assert.Equal(t, SkipNoComparison, p.Skipped, p.ReportID)
			assert.Nil(t, p.Table)
		} else {
			assert.True(t, p.OK(), p.ReportID)
		}
	}

	for _, q := range wh.queries {
		assert.NotContains(t, q, "fn_sort_of_mad", "skipped reports never query")
	}

	eom := panelByID(t, rev, "eom")
	assert.True(t, eom.OK(), "optional comparison reports still run")
}

func TestRun_ManualComparison(t *testing.T) {
	wh := &fakeWarehouse{
		answers: map[string]*warehouse.Table{
			"fn_get_previous_csid": previousCSID(nil),
		},
	}

	d := NewDriver(testLogger(), wh, testConfig(), nil)

	rev, err := d.Run(context.Background(), NewRequest(12610, 11000))
	require.NoError(t, err)

	assert.Equal(t, Comparison{CompCSID: 11000, Source: resolver.SourceManual}, rev.Comparison)

	var sawManual bool
	for _, q := range wh.queries {
		if strings.Contains(q, "dq.fn_sort_of_mad(11000)") {
			sawManual = true
		}
	}

	assert.True(t, sawManual)
}

func TestRun_LookupFailureFallsBackToManual(t *testing.T) {
	wh := &fakeWarehouse{
		failures: map[string]error{
			"fn_get_previous_csid": errors.New("permission denied for schema analytic"),
		},
	}

	d := NewDriver(testLogger(), wh, testConfig(), nil)

	rev, err := d.Run(context.Background(), NewRequest(12610, 11000))
	require.NoError(t, err)

	assert.Equal(t, int64(11000), rev.Comparison.CompCSID)
	assert.Equal(t, resolver.SourceManual, rev.Comparison.Source)
	assert.Contains(t, rev.Comparison.LookupError, "permission denied")
	assert.True(t, panelByID(t, rev, "dispersion").OK())
}

func TestRun_CSIDOutOfRange(t *testing.T) {
	wh := &fakeWarehouse{}
	d := NewDriver(testLogger(), wh, testConfig(), nil)

	for _, req := range []Request{
		NewRequest(0, 0),
		NewRequest(10000001, 0),
		NewRequest(12610, -1),
	} {
		_, err := d.Run(context.Background(), req)
		require.ErrorIs(t, err, ErrCSIDOutOfRange)
	}

	assert.Equal(t, 0, wh.acquired)
}

func TestRunReport(t *testing.T) {
	wh := &fakeWarehouse{
		answers: map[string]*warehouse.Table{
			"fn_get_previous_csid": previousCSID(int64(12001)),
			"dq.best_net_comp":     warehouse.NewTable([]string{"carrier"}, []any{"Verizon"}),
			"dq.fn_sort_of_mad":    madTable(),
		},
		failures: map[string]error{
			"dq.fn_dev_algo_fails(": errors.New("statement timeout"),
		},
	}

	d := NewDriver(testLogger(), wh, testConfig(), nil)
	ctx := context.Background()

	p, err := d.RunReport(ctx, "market-net", NewRequest(12610, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, p.Table.Len())

	p, err = d.RunReport(ctx, "dispersion", NewRequest(12610, 0))
	require.NoError(t, err)
	assert.Contains(t, wh.queries[len(wh.queries)-1], "dq.fn_sort_of_mad(12001)")
	require.Equal(t, 3, p.Table.Len())
	assert.Equal(t, "Other", p.Table.Row(2).Get(PeriodColumn))
	assert.NotEmpty(t, p.Charts)

	_, err = d.RunReport(ctx, "dev-algo", NewRequest(12610, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement timeout")

	_, err = d.RunReport(ctx, "no-such-report", NewRequest(12610, 0))
	require.ErrorIs(t, err, reports.ErrUnknownReport)

	assert.Equal(t, wh.acquired, wh.released)
}

func TestRunReport_ComparisonRequired(t *testing.T) {
	wh := &fakeWarehouse{
		answers: map[string]*warehouse.Table{
			"fn_get_previous_csid": previousCSID(nil),
		},
	}

	d := NewDriver(testLogger(), wh, testConfig(), nil)

	_, err := d.RunReport(context.Background(), "market-check", NewRequest(12610, 0))
	require.ErrorIs(t, err, reports.ErrComparisonRequired)
}

func TestResolve(t *testing.T) {
	wh := &fakeWarehouse{
		answers: map[string]*warehouse.Table{
			"fn_get_previous_csid": previousCSID(int64(12001)),
		},
	}

	d := NewDriver(testLogger(), wh, testConfig(), nil)

	res, err := d.Resolve(context.Background(), NewRequest(12610, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(12001), res.CompCSID)
	assert.Equal(t, 1, wh.released)

	wh.acquireErr = errors.New("too many connections")

	_, err = d.Resolve(context.Background(), NewRequest(12610, 0))
	require.Error(t, err)
}
