package reports

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rsrlabs/dqreview/pkg/thresholds"
	"github.com/rsrlabs/dqreview/pkg/warehouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	current    = Params{CSID: 12610}
	withCompar = Params{CSID: 12610, CompCSID: 12001}
)

func mustSQL(t *testing.T, id string, p Params, set *thresholds.Set) string {
	t.Helper()

	r, err := Lookup(id)
	require.NoError(t, err)

	query, err := r.SQL(p, set)
	require.NoError(t, err)

	return query
}

func TestDashboardOrder(t *testing.T) {
	ids := make([]string, 0, 13)
	for _, r := range Dashboard() {
		ids = append(ids, r.ID)
	}

	assert.Equal(t, []string{
		"market-check",
		"eom",
		"nr-share",
		"market-net",
		"daily-diff",
		"dispersion",
		"dev-algo",
		"dev-algo-filtered",
		"layer3",
		"auto-check",
		"dq-check",
		"bl-rate",
		"exclusions",
	}, ids)
}

func TestCatalog(t *testing.T) {
	seen := make(map[string]bool)

	for _, r := range Catalog() {
		assert.False(t, seen[r.ID], "duplicate report %s", r.ID)
		seen[r.ID] = true

		assert.NotEmpty(t, r.Title)

		if r.Filtered {
			full, err := Lookup(r.FullID)
			require.NoError(t, err, "report %s", r.ID)
			assert.False(t, full.Filtered)
			assert.Equal(t, r.Comparison, full.Comparison)
		}
	}

	assert.True(t, seen["callnet"])
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("weekly-summary")
	require.ErrorIs(t, err, ErrUnknownReport)
}

func TestSQL_ParamValidation(t *testing.T) {
	dispersion, err := Lookup("dispersion")
	require.NoError(t, err)

	_, err = dispersion.SQL(Params{CSID: 0, CompCSID: 1}, nil)
	require.ErrorIs(t, err, ErrInvalidCSID)

	_, err = dispersion.SQL(Params{CSID: 12610, CompCSID: -4}, nil)
	require.ErrorIs(t, err, ErrInvalidCSID)

	_, err = dispersion.SQL(current, nil)
	require.ErrorIs(t, err, ErrComparisonRequired)

	query, err := dispersion.SQL(withCompar, nil)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT * FROM dq.fn_sort_of_mad(12610)\nUNION\nSELECT * FROM dq.fn_sort_of_mad(12001)",
		query)
}

func TestSQL_EveryReportRenders(t *testing.T) {
	for _, r := range Catalog() {
		t.Run(r.ID, func(t *testing.T) {
			query, err := r.SQL(withCompar, thresholds.Defaults())
			require.NoError(t, err)

			assert.NotEmpty(t, query)
			assert.Contains(t, query, "12610")
			assert.NotContains(t, query, "<no value>")
			assert.NotContains(t, query, "{{")
			assert.Equal(t, strings.TrimSpace(query), query)
		})
	}
}

func TestSQL_EOM(t *testing.T) {
	query := mustSQL(t, "eom", current, nil)

	for _, predicate := range []string{
		"WHERE (pct_change < -24)",
		"WHERE (metric IN ('m2m_block','m2m_drop') AND delta > 2)",
		"WHERE (rank NOT IN ('12v','13v','14v','16v','05d','08u','01m','02m') AND delta < -2)",
		"WHERE (rank IN ('12v','13v','14v') AND delta > 2)",
		"WHERE (rank IN ('16v') AND delta > 10)",
	} {
		assert.Contains(t, query, predicate)
	}

	assert.Contains(t, query, "SELECT * FROM dq.fn_eom_plus(12610)\n)")
	assert.Equal(t, 4, strings.Count(query, "\nUNION\n"))
	assert.True(t, strings.HasSuffix(query, "ORDER BY rank"))

	compared := mustSQL(t, "eom", withCompar, nil)
	assert.Contains(t, compared, "dq.fn_eom_plus(12610, 12001)")
}

func TestSQL_EOMThresholdOverride(t *testing.T) {
	set := thresholds.Defaults()
	set.EOM.StallDelta = 20
	set.EOM.ThroughputPctChange = -24.5

	query := mustSQL(t, "eom", current, set)

	assert.Contains(t, query, "WHERE (rank IN ('16v') AND delta > 20)")
	assert.Contains(t, query, "WHERE (pct_change < -24.5)")
}

func TestSQL_DailyDiff(t *testing.T) {
	query := mustSQL(t, "daily-diff", current, nil)

	assert.Contains(t, query,
		"SELECT ABS(acc_delta) AS acc_dif_ab, ABS(tsk_delta) AS tsk_dif_ab, *\n    FROM dq.fn_dq_kit_diff(12610)")

	for _, predicate := range []string{
		"(test_type_id = 27 AND tsk_dif_ab > 10 AND n_grp > 19)",
		"(test_type_id = 27 AND acc_dif_ab > 10 AND n_grp > 19)",
		"(test_type_id IN (19,20,26,23) AND tsk_dif_ab > 5 AND n_grp > 19)",
		"(test_type_id IN (19,20,26,23) AND acc_dif_ab > 5 AND n_grp > 19)",
		"(test_type_id = 14 AND tsk_dif_ab > 10000 AND n_grp > 19)",
		"(test_type_id = 14 AND acc_dif_ab > 25 AND n_grp > 19)",
	} {
		assert.Contains(t, query, predicate)
	}

	assert.Equal(t, 2, strings.Count(query, "\nUNION\n"))
}

func TestSQL_DailyDiffAlternateRules(t *testing.T) {
	set := thresholds.Defaults()
	set.DailyDiff.Rules = []thresholds.DiffRule{
		{TestTypeIDs: []int{27}, Task: 10, Access: 10},
		{TestTypeIDs: []int{19, 20, 26}, Task: 3, Access: 3},
		{TestTypeIDs: []int{23}, Task: 1, Access: 1},
		{TestTypeIDs: []int{14}, Task: 10000, Access: 25},
	}

	query := mustSQL(t, "daily-diff", current, set)

	assert.Contains(t, query, "(test_type_id IN (19,20,26) AND acc_dif_ab > 3 AND n_grp > 19)")
	assert.Contains(t, query, "(test_type_id = 23 AND tsk_dif_ab > 1 AND n_grp > 19)")
	assert.Equal(t, 3, strings.Count(query, "\nUNION\n"))
}

func TestSQL_PassThroughReports(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{id: "market-net", want: "SELECT * FROM dq.best_net_comp(12610)"},
		{id: "dev-algo", want: "SELECT * FROM dq.fn_dev_algo_fails(12610)"},
		{id: "dev-algo-filtered", want: "SELECT * FROM dq.fn_dev_algo_fails_filtered(12610)"},
		{id: "layer3", want: "SELECT * FROM dq.fn_m2m_fail_layer3_py(12610)"},
		{id: "auto-check", want: "SELECT * FROM analytic.fn_dq_auto_check(12610)"},
		{id: "dq-check", want: "SELECT * FROM analytic.fn_dq_check(12610)"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			// The comparison CSID is ignored by single-set reports.
			assert.Equal(t, tt.want, mustSQL(t, tt.id, withCompar, nil))
		})
	}
}

func TestSQL_MarketCheckAndNRShare(t *testing.T) {
	market := mustSQL(t, "market-check", withCompar, nil)
	assert.Contains(t, market, "WHERE collection_set_id IN (12610, 12001)")

	nr := mustSQL(t, "nr-share", withCompar, nil)
	assert.Contains(t, nr, "auto.fn_test_summary_reporting(12610)")
	assert.Contains(t, nr, "auto.fn_test_summary_reporting(12001)")
	assert.Contains(t, nr, ",ftsr.device_id AS device_id")
	assert.Contains(t, nr, "PARTITION BY product_period, device_f_name, device_id")
	assert.Contains(t, nr, "GROUP BY product_period, device_f_name, device_id, sa_status")
	assert.Contains(t, nr, "CASE sa_status WHEN 'NR-SA' THEN 1 WHEN 'Mixed-NR' THEN 2 ELSE 3 END")
}

func TestSQL_BlocklistRate(t *testing.T) {
	query := mustSQL(t, "bl-rate", current, nil)

	for _, fragment := range []string{
		"FROM prod_ms_partitions.test_summary_12610 tsp1",
		"WHERE period_name IS NOT NULL\n    AND flag_valid IS TRUE",
		",total_count - bl AS reportable",
		",ROUND((CAST(bl AS NUMERIC) / CAST(total_count AS NUMERIC) * 100), 2) AS bl_rate",
		"GROUP BY collection_set_id, test_type_id",
	} {
		assert.Contains(t, query, fragment)
	}

	assert.True(t, strings.HasSuffix(query, "ORDER BY test_type_id"))
}

func TestSQL_Exclusions(t *testing.T) {
	query := mustSQL(t, "exclusions", current, nil)

	assert.Equal(t, 2, strings.Count(query, "FROM dq.fn_exclusion_review(12610)"))
	assert.Contains(t, query, "'manual_blacklist_remark' AS exclusion_category")
	assert.Contains(t, query, "'auto_bl_reason' AS exclusion_category")
	assert.Contains(t, query, "\nUNION ALL\n")
	assert.True(t, strings.HasSuffix(query, "ORDER BY exclusion_category, row_count DESC"))
}

func TestSQL_Callnet(t *testing.T) {
	query := mustSQL(t, "callnet", current, nil)

	assert.Contains(t, query, "FROM auto.fn_test_summary_reporting(12610) ftsr")
	assert.Contains(t, query, "kit1 AS (")
	assert.Contains(t, query, "WHERE kit_type_id = 1\n),\nkit2 AS (")
	assert.Contains(t, query, "WHERE kit_type_id = 2\n)\nSELECT DISTINCT")

	for _, rate := range []string{"block", "drop", "volte", "vonr", "nsa", "sa"} {
		assert.Contains(t, query, ",kit1."+rate+"_rate AS k1_"+rate)
		assert.Contains(t, query, ",kit2."+rate+"_rate AS k2_"+rate)
		assert.Contains(t, query, ",ROUND(kit2."+rate+"_rate - kit1."+rate+"_rate, 1) AS "+rate+"_delta")
	}

	assert.True(t, strings.HasSuffix(query, "ORDER BY cte.loc_day"))
}

func TestQuoteList(t *testing.T) {
	assert.Equal(t, "'12v','13v'", quoteList([]string{"12v", "13v"}))
	assert.Equal(t, "'o''brien'", quoteList([]string{"o'brien"}))
}

func TestIDSet(t *testing.T) {
	assert.Equal(t, "= 27", idSet([]int{27}))
	assert.Equal(t, "IN (19,20,26,23)", idSet([]int{19, 20, 26, 23}))
}

type stubQuerier struct {
	queries []string
	table   *warehouse.Table
	err     error
}

func (s *stubQuerier) Query(_ context.Context, query string) (*warehouse.Table, error) {
	s.queries = append(s.queries, query)

	return s.table, s.err
}

func TestRun(t *testing.T) {
	r, err := Lookup("dq-check")
	require.NoError(t, err)

	t.Run("returns table", func(t *testing.T) {
		q := &stubQuerier{table: warehouse.NewTable([]string{"item", "status"})}

		table, err := Run(context.Background(), q, r, current, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, table.Len())
		assert.Equal(t, []string{"SELECT * FROM analytic.fn_dq_check(12610)"}, q.queries)
	})

	t.Run("wraps query error", func(t *testing.T) {
		boom := errors.New("connection refused")
		q := &stubQuerier{err: boom}

		_, err := Run(context.Background(), q, r, current, nil)
		require.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "running report dq-check")
	})

	t.Run("invalid params never reach the warehouse", func(t *testing.T) {
		q := &stubQuerier{}

		_, err := Run(context.Background(), q, r, Params{}, nil)
		require.ErrorIs(t, err, ErrInvalidCSID)
		assert.Empty(t, q.queries)
	})
}
