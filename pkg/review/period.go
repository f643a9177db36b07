package review

import (
	"strings"

	"github.com/rsrlabs/dqreview/pkg/charts"
	"github.com/rsrlabs/dqreview/pkg/warehouse"
)

// PeriodColumn is the derived column added to dispersion tables.
const PeriodColumn = "period"

// LabelPeriod returns the first period that value ends with, or "Other".
// The match is a case-sensitive suffix match.
func LabelPeriod(value string, periods []string) string {
	for _, p := range periods {
		if p != "" && strings.HasSuffix(value, p) {
			return p
		}
	}

	return charts.OtherPeriod
}

// LabelPeriods adds a period column derived from source to the table.
func LabelPeriods(table *warehouse.Table, source string, periods []string) {
	table.AddColumn(PeriodColumn, func(r warehouse.Row) any {
		return LabelPeriod(r.String(source), periods)
	})
}
