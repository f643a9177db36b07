package charts

import (
	"fmt"

	"github.com/rsrlabs/dqreview/pkg/warehouse"
	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// SA status buckets produced by the nr-share report, in stacking order.
var statusOrder = []string{"NR-SA", "Mixed-NR", "Non-NR"}

var statusColors = map[string]drawing.Color{
	"NR-SA":    drawing.ColorFromHex("009697"),
	"Mixed-NR": drawing.ColorFromHex("3CB371"),
	"Non-NR":   drawing.ColorFromHex("58595b"),
}

var unknownStatusColor = drawing.ColorFromHex("f4a460")

type nrRow struct {
	ProductPeriod string  `col:"product_period"`
	Device        string  `col:"device_f_name"`
	DeviceID      string  `col:"device_id"`
	Status        string  `col:"sa_status"`
	Pct           float64 `col:"dl_pct"`
}

// deviceKey names a chart by friendly name and device ID. Markets with
// several device pairs reuse friendly names.
func (r nrRow) deviceKey() string {
	name := r.Device
	if name == "" {
		name = "Unknown device"
	}

	if r.DeviceID == "" {
		return name
	}

	return fmt.Sprintf("%s (%s)", name, r.DeviceID)
}

// NRShare renders one stacked bar chart per device with a bar per product
// period, stacked by SA status. An empty table renders no charts.
func NRShare(table *warehouse.Table) ([]Chart, error) {
	if table == nil || table.Len() == 0 {
		return nil, nil
	}

	var rows []nrRow
	if err := table.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding nr-share rows: %w", err)
	}

	var devices ordered

	periods := make(map[string]*ordered)
	shares := make(map[string]map[string]map[string]float64)

	for _, r := range rows {
		device := r.deviceKey()

		devices.add(device)

		if periods[device] == nil {
			periods[device] = &ordered{}
			shares[device] = make(map[string]map[string]float64)
		}

		periods[device].add(r.ProductPeriod)

		if shares[device][r.ProductPeriod] == nil {
			shares[device][r.ProductPeriod] = make(map[string]float64)
		}

		shares[device][r.ProductPeriod][r.Status] += r.Pct
	}

	charts := make([]Chart, 0, len(devices.keys))

	for _, device := range devices.keys {
		bars := make([]chart.StackedBar, 0, len(periods[device].keys))

		for _, period := range periods[device].keys {
			values := stackValues(shares[device][period])
			if len(values) == 0 {
				continue
			}

			bars = append(bars, chart.StackedBar{Name: svgText(period), Values: values})
		}

		if len(bars) == 0 {
			continue
		}

		title := device
		sbc := chart.StackedBarChart{
			Title:      svgText(title),
			Width:      gridWidth,
			Height:     gridHeight,
			BarSpacing: 40,
			Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
			Bars:       bars,
		}

		svg, err := renderSVG(sbc.Render)
		if err != nil {
			return nil, chartError("nr-share "+device, err)
		}

		charts = append(charts, Chart{
			Name:  "nr-share-" + Slug(device),
			Title: title,
			Group: "nr-share",
			SVG:   svg,
		})
	}

	return charts, nil
}

// stackValues orders the known statuses first, then any others by name.
func stackValues(byStatus map[string]float64) []chart.Value {
	values := make([]chart.Value, 0, len(byStatus))
	known := make(map[string]bool, len(statusOrder))

	for _, status := range statusOrder {
		known[status] = true

		if pct := byStatus[status]; pct > 0 {
			values = append(values, statusValue(status, pct, statusColors[status]))
		}
	}

	for _, status := range sortedKeys(byStatus) {
		if known[status] || byStatus[status] <= 0 {
			continue
		}

		values = append(values, statusValue(status, byStatus[status], unknownStatusColor))
	}

	return values
}

func statusValue(status string, pct float64, color drawing.Color) chart.Value {
	return chart.Value{
		Label: svgText(fmt.Sprintf("%s %.1f%%", status, pct)),
		Value: pct,
		Style: chart.Style{
			FillColor:   color,
			StrokeColor: color,
			FontColor:   drawing.ColorWhite,
		},
	}
}
