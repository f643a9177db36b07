// Package charts renders review tables as SVG charts.
package charts

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"math"
	"regexp"
	"sort"
	"strings"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// OtherPeriod labels rows that match no configured period.
const OtherPeriod = "Other"

const (
	chartWidth  = 960
	chartHeight = 480
	gridWidth   = 480
	gridHeight  = 360
)

// Chart is one rendered chart.
type Chart struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	// Group ties charts that are laid out together, e.g. the speed grid.
	Group string `json:"group,omitempty"`
	SVG   string `json:"svg,omitempty"`
	// Empty is set for grid cells that had nothing to plot.
	Empty bool `json:"empty,omitempty"`
}

var periodPalette = []drawing.Color{
	drawing.ColorFromHex("1f77b4"),
	drawing.ColorFromHex("d62728"),
	drawing.ColorFromHex("2ca02c"),
	drawing.ColorFromHex("9467bd"),
	drawing.ColorFromHex("ff7f0e"),
}

var otherColor = drawing.ColorFromHex("7f7f7f")

// periodStyle returns a dot-only style for a period. The most recent
// configured period is drawn with the largest markers.
func periodStyle(period string, periods []string) chart.Style {
	color := otherColor
	width := 3.0

	for i, p := range periods {
		if p == period {
			color = periodPalette[i%len(periodPalette)]
			width = 4 + 2*float64(i)

			break
		}
	}

	return chart.Style{
		StrokeWidth: chart.Disabled,
		DotWidth:    width,
		DotColor:    color,
		StrokeColor: color,
	}
}

// categoryAxis lays categories out on 1..n with a padded range so a single
// category still renders.
func categoryAxis(name string, categories []string) chart.XAxis {
	ticks := make([]chart.Tick, 0, len(categories)+1)
	for i, c := range categories {
		ticks = append(ticks, chart.Tick{Value: float64(i + 1), Label: svgText(c)})
	}

	minR := 0.5
	maxR := float64(len(categories)) + 0.5

	if len(categories) == 1 {
		maxR = 2.0
		ticks = append(ticks, chart.Tick{Value: 2, Label: ""})
	}

	return chart.XAxis{
		Name:  svgText(name),
		Ticks: ticks,
		Range: &chart.ContinuousRange{Min: minR, Max: maxR},
	}
}

// svgText escapes text for go-chart, which writes labels into the SVG
// verbatim. Warehouse values such as carrier names must never reach it raw.
func svgText(s string) string {
	return html.EscapeString(s)
}

// valueRange pads the observed range so flat data does not collapse.
func valueRange(values []float64) *chart.ContinuousRange {
	lo, hi := math.Inf(1), math.Inf(-1)

	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	if math.IsInf(lo, 0) {
		return &chart.ContinuousRange{Min: 0, Max: 1}
	}

	pad := (hi - lo) * 0.05
	if pad == 0 {
		pad = math.Max(math.Abs(hi)*0.1, 1)
	}

	return &chart.ContinuousRange{Min: lo - pad, Max: hi + pad}
}

// renderSVG runs a chart's Render method into a string.
func renderSVG(r func(chart.RendererProvider, io.Writer) error) (string, error) {
	var buf bytes.Buffer
	if err := r(chart.SVG, &buf); err != nil {
		return "", err
	}

	return buf.String(), nil
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug converts a title into a file-name friendly chart name.
func Slug(s string) string {
	return strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// ordered returns keys in first-seen order.
type ordered struct {
	keys []string
	seen map[string]bool
}

func (o *ordered) add(k string) {
	if o.seen == nil {
		o.seen = make(map[string]bool)
	}

	if !o.seen[k] {
		o.seen[k] = true
		o.keys = append(o.keys, k)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

func chartError(name string, err error) error {
	return fmt.Errorf("rendering %s chart: %w", name, err)
}
