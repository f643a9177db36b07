// Package resolver finds the comparison collection set for a review.
package resolver

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rsrlabs/dqreview/pkg/warehouse"
	"github.com/sirupsen/logrus"
)

// Source records where a comparison CSID came from.
type Source string

const (
	SourceLookup Source = "lookup"
	SourceManual Source = "manual"
	SourceNone   Source = "none"
)

// Resolution is the outcome of resolving one submission's comparison CSID.
type Resolution struct {
	CSID     int64  `json:"csid"`
	CompCSID int64  `json:"comp_csid,omitempty"`
	Source   Source `json:"source"`
	// LookupErr is set when the warehouse lookup failed. The manual
	// fallback still applies.
	LookupErr error `json:"-"`
}

// Resolved reports whether a comparison CSID is available.
func (r *Resolution) Resolved() bool {
	return r.CompCSID > 0
}

// LookupError returns the lookup failure message, if any.
func (r *Resolution) LookupError() string {
	if r.LookupErr == nil {
		return ""
	}

	return r.LookupErr.Error()
}

// LookupSQL returns the statement asking the warehouse for the previous
// comparable collection set.
func LookupSQL(csid int64) string {
	return "SELECT fn_get_previous_csid FROM analytic.fn_get_previous_csid(" +
		strconv.FormatInt(csid, 10) + ")"
}

// Resolver resolves comparison CSIDs.
type Resolver struct {
	log logrus.FieldLogger
}

// New creates a Resolver.
func New(log logrus.FieldLogger) *Resolver {
	return &Resolver{log: log.WithField("component", "resolver")}
}

// Resolve asks the warehouse for the comparison CSID of csid. A positive
// lookup result wins; otherwise manual is used when positive. Lookup errors
// never fail the resolution.
func (r *Resolver) Resolve(
	ctx context.Context,
	q warehouse.Querier,
	csid, manual int64,
) *Resolution {
	res := &Resolution{CSID: csid, Source: SourceNone}

	comp, err := lookup(ctx, q, csid)
	if err != nil {
		res.LookupErr = err

		r.log.WithError(err).WithField("csid", csid).Warn("Comparison CSID lookup failed")
	}

	switch {
	case comp > 0:
		res.CompCSID = comp
		res.Source = SourceLookup
	case manual > 0:
		res.CompCSID = manual
		res.Source = SourceManual
	}

	r.log.WithFields(logrus.Fields{
		"csid":      csid,
		"comp_csid": res.CompCSID,
		"source":    res.Source,
	}).Debug("Resolved comparison CSID")

	return res
}

func lookup(ctx context.Context, q warehouse.Querier, csid int64) (int64, error) {
	table, err := q.Query(ctx, LookupSQL(csid))
	if err != nil {
		return 0, fmt.Errorf("looking up previous CSID: %w", err)
	}

	if table.Len() == 0 || len(table.Columns) == 0 {
		return 0, nil
	}

	value := table.Row(0).String(table.Columns[0])
	if value == "" {
		return 0, nil
	}

	comp, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing previous CSID %q: %w", value, err)
	}

	return comp, nil
}
