// Package reports is the catalog of review reports. Every report renders a
// single SQL statement from the embedded query templates, with the
// collection set identifiers and threshold table interpolated.
package reports

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/rsrlabs/dqreview/pkg/thresholds"
	"github.com/rsrlabs/dqreview/pkg/warehouse"
)

var (
	// ErrUnknownReport is returned by Lookup for an unknown report ID.
	ErrUnknownReport = errors.New("unknown report")
	// ErrComparisonRequired is returned when a report needs a comparison
	// CSID and none was resolved.
	ErrComparisonRequired = errors.New("comparison CSID required")
	// ErrInvalidCSID is returned for non-positive collection set IDs.
	ErrInvalidCSID = errors.New("CSID must be a positive integer")
)

// Comparison describes how a report uses the comparison CSID.
type Comparison int

const (
	// ComparisonNone reports only read the primary CSID.
	ComparisonNone Comparison = iota
	// ComparisonOptional reports use the comparison CSID when one is set.
	ComparisonOptional
	// ComparisonRequired reports cannot run without a comparison CSID.
	ComparisonRequired
)

func (c Comparison) String() string {
	switch c {
	case ComparisonOptional:
		return "optional"
	case ComparisonRequired:
		return "required"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Comparison) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Params are the identifiers of one review submission.
type Params struct {
	CSID     int64 `json:"csid"`
	CompCSID int64 `json:"comp_csid,omitempty"`
}

// HasComparison reports whether a comparison CSID is set.
func (p Params) HasComparison() bool {
	return p.CompCSID > 0
}

// Report is a single catalog entry.
type Report struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Checkpoint string     `json:"checkpoint,omitempty"`
	Comparison Comparison `json:"comparison"`
	// Filtered reports apply the threshold table.
	Filtered bool `json:"filtered"`
	// Dashboard reports are run on every review submission.
	Dashboard bool `json:"dashboard"`
	// FullID names the unfiltered report a filtered report selects from.
	FullID string `json:"full_id,omitempty"`
}

// NeedsComparison reports whether the report requires a comparison CSID.
func (r *Report) NeedsComparison() bool {
	return r.Comparison == ComparisonRequired
}

//go:embed queries.sql.tmpl
var queriesTemplate string

var queries = template.Must(
	template.New("reports").
		Option("missingkey=error").
		Funcs(template.FuncMap{
			"num":          formatNumber,
			"quoted":       quoteList,
			"idset":        idSet,
			"kits":         func() []int { return []int{1, 2} },
			"callnetRates": func() []string { return callnetRates },
		}).
		Parse(queriesTemplate),
)

var callnetRates = []string{"block", "drop", "volte", "vonr", "nsa", "sa"}

// catalog lists the dashboard reports in panel order, followed by the
// reports only available through the API and CLI.
var catalog = []*Report{
	{
		ID:         "market-check",
		Title:      "Check comparison market",
		Comparison: ComparisonRequired,
		Dashboard:  true,
	},
	{
		ID:         "eom",
		Title:      "Flagged Market level comparisons",
		Checkpoint: "Market checkpoint 1a",
		Comparison: ComparisonOptional,
		Filtered:   true,
		Dashboard:  true,
		FullID:     "eom-full",
	},
	{
		ID:         "nr-share",
		Title:      "Stand-alone 5G NR percentages by device",
		Comparison: ComparisonRequired,
		Dashboard:  true,
	},
	{
		ID:        "market-net",
		Title:     "Market-level network comparisons - NOT filtered",
		Dashboard: true,
	},
	{
		ID:         "daily-diff",
		Title:      "Filtered daily differences in data/call tests",
		Checkpoint: "Market checkpoint 1b",
		Filtered:   true,
		Dashboard:  true,
		FullID:     "daily-diff-full",
	},
	{
		ID:         "dispersion",
		Title:      "MAD-type tables plots",
		Checkpoint: "Market checkpoint 1c",
		Comparison: ComparisonRequired,
		Dashboard:  true,
	},
	{
		ID:         "dev-algo",
		Title:      "Device algorithm: 4+ consecutive failures",
		Checkpoint: "Market checkpoint 2",
		Dashboard:  true,
	},
	{
		ID:        "dev-algo-filtered",
		Title:     "Filtered Device algorithm: 4+ consecutive failures only one device",
		Dashboard: true,
	},
	{
		ID:         "layer3",
		Title:      "M2M call failures flagged for layer 3 review",
		Checkpoint: "Market checkpoint 3",
		Dashboard:  true,
	},
	{
		ID:         "auto-check",
		Title:      "DQ auto check",
		Checkpoint: "Market checkpoint 4b",
		Dashboard:  true,
	},
	{
		ID:         "dq-check",
		Title:      "DQ check items",
		Checkpoint: "Market checkpoint 4",
		Dashboard:  true,
	},
	{
		ID:        "bl-rate",
		Title:     "Review the rate of blocklisting by test type",
		Dashboard: true,
	},
	{
		ID:        "exclusions",
		Title:     "Data Exclusion Review",
		Dashboard: true,
	},
	{
		ID:    "callnet",
		Title: "Call Net - NOT filtered",
	},
	{
		ID:         "eom-full",
		Title:      "Full Market level comparisons",
		Comparison: ComparisonOptional,
	},
	{
		ID:    "daily-diff-full",
		Title: "Daily differences - NOT filtered",
	},
}

// Catalog returns every report in catalog order.
func Catalog() []*Report {
	out := make([]*Report, len(catalog))
	copy(out, catalog)

	return out
}

// Dashboard returns the reports run on every review, in panel order.
func Dashboard() []*Report {
	out := make([]*Report, 0, len(catalog))

	for _, r := range catalog {
		if r.Dashboard {
			out = append(out, r)
		}
	}

	return out
}

// Lookup returns the report with the given ID.
func Lookup(id string) (*Report, error) {
	for _, r := range catalog {
		if r.ID == id {
			return r, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownReport, id)
}

type queryData struct {
	Params
	T *thresholds.Set
}

// SQL renders the report's statement for the given identifiers.
func (r *Report) SQL(p Params, set *thresholds.Set) (string, error) {
	if p.CSID <= 0 {
		return "", ErrInvalidCSID
	}

	if p.CompCSID < 0 {
		return "", fmt.Errorf("comparison %w", ErrInvalidCSID)
	}

	if r.NeedsComparison() && !p.HasComparison() {
		return "", ErrComparisonRequired
	}

	if r.Comparison == ComparisonNone {
		p.CompCSID = 0
	}

	if set == nil {
		set = thresholds.Defaults()
	}

	var buf bytes.Buffer
	if err := queries.ExecuteTemplate(&buf, r.ID, queryData{Params: p, T: set}); err != nil {
		return "", fmt.Errorf("rendering %s query: %w", r.ID, err)
	}

	return buf.String(), nil
}

// Run renders the report and executes it with q.
func Run(
	ctx context.Context,
	q warehouse.Querier,
	r *Report,
	p Params,
	set *thresholds.Set,
) (*warehouse.Table, error) {
	query, err := r.SQL(p, set)
	if err != nil {
		return nil, err
	}

	table, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("running report %s: %w", r.ID, err)
	}

	return table, nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func quoteList(values []string) string {
	quoted := make([]string, 0, len(values))

	for _, v := range values {
		quoted = append(quoted, "'"+strings.ReplaceAll(v, "'", "''")+"'")
	}

	return strings.Join(quoted, ",")
}

// idSet renders a test type predicate: "= 27" or "IN (19,20,26,23)".
func idSet(ids []int) string {
	if len(ids) == 1 {
		return "= " + strconv.Itoa(ids[0])
	}

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.Itoa(id))
	}

	return "IN (" + strings.Join(parts, ",") + ")"
}
