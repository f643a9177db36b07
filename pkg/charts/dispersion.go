package charts

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/rsrlabs/dqreview/pkg/warehouse"
	chart "github.com/wcharczuk/go-chart/v2"
)

// madRow is one dispersion row. The period column is added by the review
// driver before charting.
type madRow struct {
	Period     string   `col:"period"`
	Carrier    string   `col:"carrier"`
	TestTypeID int      `col:"test_type_id"`
	Acc        *float64 `col:"acc"`
	Task       *float64 `col:"task"`
	ULSpeed    *float64 `col:"ul_speed_50p"`
	DLSpeed    *float64 `col:"dl_speed_50p"`
	LDRsAccess *float64 `col:"ldrs_access_sp_95p"`
	LDRsTask   *float64 `col:"ldrs_task_sp_95p"`
}

type metric struct {
	key   string
	title string
	axis  string
	value func(madRow) *float64
}

var dispersionMetrics = []metric{
	{
		key:   "acc",
		title: "Access Values by Test Type and Carrier",
		axis:  "access Value",
		value: func(r madRow) *float64 { return r.Acc },
	},
	{
		key:   "task",
		title: "Task Values by Test Type and Carrier",
		axis:  "Task Value",
		value: func(r madRow) *float64 { return r.Task },
	},
}

type gridCell struct {
	title      string
	testTypeID int
	metric     metric
}

// speedGrid is the fixed 2x2 layout, row by row.
var speedGrid = []gridCell{
	{
		title:      "Upload Speed (Test 19)",
		testTypeID: 19,
		metric: metric{
			key: "ul_speed_50p", axis: "ul_speed_50p",
			value: func(r madRow) *float64 { return r.ULSpeed },
		},
	},
	{
		title:      "Download Speed (Test 20)",
		testTypeID: 20,
		metric: metric{
			key: "dl_speed_50p", axis: "dl_speed_50p",
			value: func(r madRow) *float64 { return r.DLSpeed },
		},
	},
	{
		title:      "LDRs Access Speed 95p (Test 26)",
		testTypeID: 26,
		metric: metric{
			key: "ldrs_access_sp_95p", axis: "ldrs_access_sp_95p",
			value: func(r madRow) *float64 { return r.LDRsAccess },
		},
	},
	{
		title:      "LDRs Task Speed 95p (Test 26)",
		testTypeID: 26,
		metric: metric{
			key: "ldrs_task_sp_95p", axis: "ldrs_task_sp_95p",
			value: func(r madRow) *float64 { return r.LDRsTask },
		},
	},
}

type point struct {
	period  string
	carrier string
	value   float64
}

func decodeMAD(table *warehouse.Table) ([]madRow, error) {
	var rows []madRow
	if err := table.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding dispersion rows: %w", err)
	}

	return rows, nil
}

// Dispersion renders the access and task scatter charts, one chart per test
// type with carriers on the x axis and one series per period.
func Dispersion(table *warehouse.Table, periods []string) ([]Chart, error) {
	if table == nil || table.Len() == 0 {
		return nil, nil
	}

	rows, err := decodeMAD(table)
	if err != nil {
		return nil, err
	}

	byTest := make(map[int][]madRow)
	for _, r := range rows {
		byTest[r.TestTypeID] = append(byTest[r.TestTypeID], r)
	}

	testTypes := make([]int, 0, len(byTest))
	for id := range byTest {
		testTypes = append(testTypes, id)
	}

	sort.Ints(testTypes)

	charts := make([]Chart, 0, len(dispersionMetrics)*len(testTypes))

	for _, m := range dispersionMetrics {
		for _, id := range testTypes {
			points := collect(byTest[id], m, nil)
			if len(points) == 0 {
				continue
			}

			title := m.title + " - Test " + strconv.Itoa(id)

			c, err := scatter(title, m.axis, "", points, periods, chartWidth, chartHeight)
			if err != nil {
				return nil, err
			}

			c.Name = fmt.Sprintf("%s-test-%d", m.key, id)
			c.Group = "dispersion-" + m.key
			charts = append(charts, c)
		}
	}

	return charts, nil
}

// SpeedGrid renders the fixed 2x2 speed grid. Rows outside the configured
// periods are not plotted. Cells without data are returned empty so the
// layout stays fixed.
func SpeedGrid(table *warehouse.Table, periods []string) ([]Chart, error) {
	if table == nil || table.Len() == 0 {
		return nil, nil
	}

	rows, err := decodeMAD(table)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(periods))
	for _, p := range periods {
		known[p] = true
	}

	charts := make([]Chart, 0, len(speedGrid))

	for _, cell := range speedGrid {
		var cellRows []madRow

		for _, r := range rows {
			if r.TestTypeID == cell.testTypeID {
				cellRows = append(cellRows, r)
			}
		}

		points := collect(cellRows, cell.metric, known)
		name := "speed-" + Slug(cell.title)

		if len(points) == 0 {
			charts = append(charts, Chart{
				Name:  name,
				Title: cell.title,
				Group: "speed-grid",
				Empty: true,
			})

			continue
		}

		suffix := " - Test " + strconv.Itoa(cell.testTypeID)

		c, err := scatter(cell.title, cell.metric.axis, suffix, points, periods, gridWidth, gridHeight)
		if err != nil {
			return nil, err
		}

		c.Name = name
		c.Group = "speed-grid"
		charts = append(charts, c)
	}

	return charts, nil
}

// collect extracts the non-null metric values, limited to the given periods
// when only is non-nil.
func collect(rows []madRow, m metric, only map[string]bool) []point {
	points := make([]point, 0, len(rows))

	for _, r := range rows {
		if only != nil && !only[r.Period] {
			continue
		}

		v := m.value(r)
		if v == nil {
			continue
		}

		period := r.Period
		if period == "" {
			period = OtherPeriod
		}

		points = append(points, point{period: period, carrier: r.Carrier, value: *v})
	}

	return points
}

// scatter renders points with carriers as categories and one dot-only
// series per period.
func scatter(
	title, yName, seriesSuffix string,
	points []point,
	periods []string,
	width, height int,
) (Chart, error) {
	carrierSet := make(map[string]struct{})
	for _, p := range points {
		carrierSet[p.carrier] = struct{}{}
	}

	carriers := sortedKeys(carrierSet)

	index := make(map[string]float64, len(carriers))
	for i, c := range carriers {
		index[c] = float64(i + 1)
	}

	seriesOrder := append(append([]string(nil), periods...), OtherPeriod)
	xs := make(map[string][]float64)
	ys := make(map[string][]float64)
	all := make([]float64, 0, len(points))

	for _, p := range points {
		xs[p.period] = append(xs[p.period], index[p.carrier])
		ys[p.period] = append(ys[p.period], p.value)
		all = append(all, p.value)

		if !contains(seriesOrder, p.period) {
			seriesOrder = append(seriesOrder, p.period)
		}
	}

	series := make([]chart.Series, 0, len(seriesOrder))

	for _, period := range seriesOrder {
		if len(xs[period]) == 0 {
			continue
		}

		series = append(series, chart.ContinuousSeries{
			Name:    svgText("Period " + period + seriesSuffix),
			XValues: xs[period],
			YValues: ys[period],
			Style:   periodStyle(period, periods),
		})
	}

	ch := chart.Chart{
		Title:      svgText(title),
		Width:      width,
		Height:     height,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 64}},
		XAxis:      categoryAxis("Carrier", carriers),
		YAxis:      chart.YAxis{Name: svgText(yName), Range: valueRange(all)},
		Series:     series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}

	svg, err := renderSVG(ch.Render)
	if err != nil {
		return Chart{}, chartError(title, err)
	}

	return Chart{Title: title, SVG: svg}, nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}

	return false
}
