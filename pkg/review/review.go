// Package review runs the dashboard report battery for one submission.
package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rsrlabs/dqreview/pkg/charts"
	"github.com/rsrlabs/dqreview/pkg/config"
	"github.com/rsrlabs/dqreview/pkg/reports"
	"github.com/rsrlabs/dqreview/pkg/resolver"
	"github.com/rsrlabs/dqreview/pkg/thresholds"
	"github.com/rsrlabs/dqreview/pkg/warehouse"
	"github.com/sirupsen/logrus"
)

// ErrCSIDOutOfRange is returned for a CSID outside the configured range.
var ErrCSIDOutOfRange = errors.New("CSID out of range")

// SkipNoComparison is the skip reason of comparison-dependent panels when no
// comparison CSID was resolved.
const SkipNoComparison = "comparison CSID required"

// Request is one operator submission. It carries all session state.
type Request struct {
	ID             uuid.UUID `json:"id"`
	CSID           int64     `json:"csid"`
	ManualCompCSID int64     `json:"manual_comp_csid,omitempty"`
}

// NewRequest creates a request with a fresh ID.
func NewRequest(csid, manualComp int64) Request {
	return Request{
		ID:             uuid.New(),
		CSID:           csid,
		ManualCompCSID: manualComp,
	}
}

// Panel is the rendered result of one report.
type Panel struct {
	ReportID   string           `json:"report_id"`
	Title      string           `json:"title"`
	Checkpoint string           `json:"checkpoint,omitempty"`
	Table      *warehouse.Table `json:"table,omitempty"`
	Charts     []charts.Chart   `json:"charts,omitempty"`
	Err        string           `json:"error,omitempty"`
	ChartErr   string           `json:"chart_error,omitempty"`
	Skipped    string           `json:"skipped,omitempty"`
	Elapsed    time.Duration    `json:"elapsed"`
}

// OK reports whether the panel has a table to show.
func (p *Panel) OK() bool {
	return p.Err == "" && p.Skipped == "" && p.Table != nil
}

// Comparison summarizes how the comparison CSID was resolved.
type Comparison struct {
	CompCSID    int64           `json:"comp_csid,omitempty"`
	Source      resolver.Source `json:"source"`
	LookupError string          `json:"lookup_error,omitempty"`
}

// Review is the result of one submission.
type Review struct {
	ID                uuid.UUID     `json:"id"`
	CSID              int64         `json:"csid"`
	Comparison        Comparison    `json:"comparison"`
	ThresholdsVersion string        `json:"thresholds_version"`
	Panels            []*Panel      `json:"panels"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
}

// Failed returns the number of panels that ended in an error.
func (r *Review) Failed() int {
	n := 0

	for _, p := range r.Panels {
		if p.Err != "" {
			n++
		}
	}

	return n
}

// Driver runs reviews against the warehouse.
type Driver interface {
	// Run executes every dashboard report for the request in panel order.
	// Report failures are recorded on their panel; only invalid input
	// returns an error.
	Run(ctx context.Context, req Request) (*Review, error)

	// RunReport executes a single catalog report.
	RunReport(ctx context.Context, reportID string, req Request) (*Panel, error)

	// Resolve resolves the comparison CSID for the request.
	Resolve(ctx context.Context, req Request) (*resolver.Resolution, error)

	// Periods returns the configured period suffixes.
	Periods() []string

	// Thresholds returns the active threshold table.
	Thresholds() *thresholds.Set
}

// Compile-time interface check.
var _ Driver = (*driver)(nil)

type driver struct {
	log      logrus.FieldLogger
	wh       warehouse.Warehouse
	cfg      *config.ReviewConfig
	set      *thresholds.Set
	resolver *resolver.Resolver
}

// NewDriver creates a review driver.
func NewDriver(
	log logrus.FieldLogger,
	wh warehouse.Warehouse,
	cfg *config.ReviewConfig,
	set *thresholds.Set,
) Driver {
	if set == nil {
		set = thresholds.Defaults()
	}

	return &driver{
		log:      log.WithField("component", "review"),
		wh:       wh,
		cfg:      cfg,
		set:      set,
		resolver: resolver.New(log),
	}
}

// Periods implements Driver.
func (d *driver) Periods() []string {
	return d.cfg.Periods
}

// Thresholds implements Driver.
func (d *driver) Thresholds() *thresholds.Set {
	return d.set
}

func (d *driver) validate(req Request) error {
	if req.CSID < d.cfg.MinCSID || req.CSID > d.cfg.MaxCSID {
		return fmt.Errorf("%w: %d not in [%d, %d]",
			ErrCSIDOutOfRange, req.CSID, d.cfg.MinCSID, d.cfg.MaxCSID)
	}

	if req.ManualCompCSID < 0 || req.ManualCompCSID > d.cfg.MaxCSID {
		return fmt.Errorf("%w: comparison %d not in [1, %d]",
			ErrCSIDOutOfRange, req.ManualCompCSID, d.cfg.MaxCSID)
	}

	return nil
}

// Run implements Driver.
func (d *driver) Run(ctx context.Context, req Request) (*Review, error) {
	if err := d.validate(req); err != nil {
		return nil, err
	}

	log := d.log.WithFields(logrus.Fields{
		"review_id": req.ID,
		"csid":      req.CSID,
	})

	rev := &Review{
		ID:                req.ID,
		CSID:              req.CSID,
		ThresholdsVersion: d.set.Version,
		StartedAt:         time.Now(),
	}

	dashboard := reports.Dashboard()
	rev.Panels = make([]*Panel, 0, len(dashboard))

	sess, err := d.wh.Acquire(ctx)
	if err != nil {
		log.WithError(err).Error("Warehouse unavailable")

		rev.Comparison = Comparison{
			Source:      resolver.SourceNone,
			LookupError: err.Error(),
		}

		for _, r := range dashboard {
			p := newPanel(r)
			p.Err = err.Error()
			rev.Panels = append(rev.Panels, p)
		}

		rev.Duration = time.Since(rev.StartedAt)

		return rev, nil
	}

	defer func() {
		if err := sess.Close(); err != nil {
			log.WithError(err).Warn("Failed to release warehouse session")
		}
	}()

	res := d.resolver.Resolve(ctx, sess, req.CSID, req.ManualCompCSID)
	rev.Comparison = comparisonOf(res)

	params := reports.Params{CSID: req.CSID, CompCSID: res.CompCSID}

	for _, r := range dashboard {
		p := d.runPanel(ctx, sess, r, params)
		rev.Panels = append(rev.Panels, p)

		entry := log.WithFields(logrus.Fields{
			"report":  r.ID,
			"elapsed": p.Elapsed,
		})

		switch {
		case p.Err != "":
			entry.WithField("error", p.Err).Warn("Report failed")
		case p.Skipped != "":
			entry.WithField("reason", p.Skipped).Debug("Report skipped")
		default:
			entry.WithField("rows", p.Table.Len()).Debug("Report completed")
		}
	}

	rev.Duration = time.Since(rev.StartedAt)

	log.WithFields(logrus.Fields{
		"comp_csid": res.CompCSID,
		"source":    res.Source,
		"panels":    len(rev.Panels),
		"failed":    rev.Failed(),
		"duration":  rev.Duration,
	}).Info("Review completed")

	return rev, nil
}

// RunReport implements Driver.
func (d *driver) RunReport(
	ctx context.Context,
	reportID string,
	req Request,
) (*Panel, error) {
	r, err := reports.Lookup(reportID)
	if err != nil {
		return nil, err
	}

	if err := d.validate(req); err != nil {
		return nil, err
	}

	sess, err := d.wh.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	defer func() { _ = sess.Close() }()

	params := reports.Params{CSID: req.CSID}

	if r.Comparison != reports.ComparisonNone {
		res := d.resolver.Resolve(ctx, sess, req.CSID, req.ManualCompCSID)
		params.CompCSID = res.CompCSID
	}

	return d.execute(ctx, sess, r, params)
}

// Resolve implements Driver.
func (d *driver) Resolve(ctx context.Context, req Request) (*resolver.Resolution, error) {
	if err := d.validate(req); err != nil {
		return nil, err
	}

	sess, err := d.wh.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	defer func() { _ = sess.Close() }()

	return d.resolver.Resolve(ctx, sess, req.CSID, req.ManualCompCSID), nil
}

// runPanel executes a dashboard report, recording failures on the panel.
func (d *driver) runPanel(
	ctx context.Context,
	q warehouse.Querier,
	r *reports.Report,
	params reports.Params,
) *Panel {
	started := time.Now()
	p, err := d.execute(ctx, q, r, params)

	switch {
	case errors.Is(err, reports.ErrComparisonRequired):
		p = newPanel(r)
		p.Skipped = SkipNoComparison
	case err != nil:
		p = newPanel(r)
		p.Err = err.Error()
		p.Elapsed = time.Since(started)
	}

	return p
}

func (d *driver) execute(
	ctx context.Context,
	q warehouse.Querier,
	r *reports.Report,
	params reports.Params,
) (*Panel, error) {
	if r.NeedsComparison() && !params.HasComparison() {
		return nil, reports.ErrComparisonRequired
	}

	started := time.Now()

	table, err := reports.Run(ctx, q, r, params, d.set)
	if err != nil {
		return nil, err
	}

	p := newPanel(r)
	p.Table = table
	p.Elapsed = time.Since(started)

	if err := d.decorate(p); err != nil {
		p.ChartErr = err.Error()
	}

	return p, nil
}

// decorate adds the derived columns and charts of chart-backed panels.
func (d *driver) decorate(p *Panel) error {
	switch p.ReportID {
	case "nr-share":
		c, err := charts.NRShare(p.Table)
		if err != nil {
			return err
		}

		p.Charts = c
	case "dispersion":
		LabelPeriods(p.Table, "collection_set", d.cfg.Periods)

		scatter, err := charts.Dispersion(p.Table, d.cfg.Periods)
		if err != nil {
			return err
		}

		grid, err := charts.SpeedGrid(p.Table, d.cfg.Periods)
		if err != nil {
			return err
		}

		p.Charts = append(scatter, grid...)
	}

	return nil
}

func newPanel(r *reports.Report) *Panel {
	return &Panel{
		ReportID:   r.ID,
		Title:      r.Title,
		Checkpoint: r.Checkpoint,
	}
}

func comparisonOf(res *resolver.Resolution) Comparison {
	return Comparison{
		CompCSID:    res.CompCSID,
		Source:      res.Source,
		LookupError: res.LookupError(),
	}
}
