package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rsrlabs/dqreview/pkg/reports"
	"github.com/rsrlabs/dqreview/pkg/review"
	"github.com/sirupsen/logrus"
)

// errInvalidParam marks malformed query or path parameters.
var errInvalidParam = errors.New("invalid parameter")

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeError maps err to a status code and writes it as an errorResponse.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{err.Error()})
}

// statusFor maps review errors to HTTP status codes. Anything that is not
// bad input or an unknown report is a warehouse failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errInvalidParam),
		errors.Is(err, review.ErrCSIDOutOfRange),
		errors.Is(err, reports.ErrInvalidCSID),
		errors.Is(err, reports.ErrComparisonRequired):
		return http.StatusBadRequest
	case errors.Is(err, reports.ErrUnknownReport):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

// parseCSID parses an optional CSID parameter. Empty input yields zero.
func parseCSID(name, raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q",
			errInvalidParam, name, raw)
	}

	return v, nil
}

// parseReviewRequest builds a review request from the csid and comp query
// parameters. csid is required.
func parseReviewRequest(r *http.Request) (review.Request, error) {
	q := r.URL.Query()

	if strings.TrimSpace(q.Get("csid")) == "" {
		return review.Request{}, fmt.Errorf("%w: csid is required", errInvalidParam)
	}

	csid, err := parseCSID("csid", q.Get("csid"))
	if err != nil {
		return review.Request{}, err
	}

	comp, err := parseCSID("comp", q.Get("comp"))
	if err != nil {
		return review.Request{}, err
	}

	return review.NewRequest(csid, comp), nil
}

// --- Public handlers ---

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConfig returns the form bounds and public settings.
func (s *server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"review": map[string]any{
			"default_csid": s.cfg.Review.DefaultCSID,
			"min_csid":     s.cfg.Review.MinCSID,
			"max_csid":     s.cfg.Review.MaxCSID,
			"periods":      s.driver.Periods(),
		},
		"auth": map[string]any{
			"basic_enabled": s.cfg.Auth.Basic.Enabled,
		},
		"thresholds_version": s.driver.Thresholds().Version,
	})
}

// handleThresholds returns the active threshold table.
func (s *server) handleThresholds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.driver.Thresholds())
}

// handleReports lists the report catalog.
func (s *server) handleReports(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, reports.Catalog())
}

// handleReportSQL renders a report's SQL without executing it. The
// comparison CSID is taken as given; no lookup is made.
func (s *server) handleReportSQL(w http.ResponseWriter, r *http.Request) {
	rep, err := reports.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)

		return
	}

	req, err := parseReviewRequest(r)
	if err != nil {
		writeError(w, err)

		return
	}

	query, err := rep.SQL(
		reports.Params{CSID: req.CSID, CompCSID: req.ManualCompCSID},
		s.driver.Thresholds(),
	)
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":  rep.ID,
		"sql": query,
	})
}

// handleReport runs a single report and returns its panel.
func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	req, err := parseReviewRequest(r)
	if err != nil {
		writeError(w, err)

		return
	}

	panel, err := s.driver.RunReport(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.log.WithError(err).
			WithField("report", chi.URLParam(r, "id")).
			Warn("Report request failed")
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, panel)
}

// comparisonResponse is the JSON form of a comparison resolution.
type comparisonResponse struct {
	CSID        int64  `json:"csid"`
	CompCSID    int64  `json:"comp_csid,omitempty"`
	Source      string `json:"source"`
	LookupError string `json:"lookup_error,omitempty"`
}

// handleComparison resolves the comparison CSID for the path CSID.
func (s *server) handleComparison(w http.ResponseWriter, r *http.Request) {
	csid, err := parseCSID("csid", chi.URLParam(r, "csid"))
	if err != nil {
		writeError(w, err)

		return
	}

	manual, err := parseCSID("comp", r.URL.Query().Get("comp"))
	if err != nil {
		writeError(w, err)

		return
	}

	res, err := s.driver.Resolve(r.Context(), review.NewRequest(csid, manual))
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, comparisonResponse{
		CSID:        res.CSID,
		CompCSID:    res.CompCSID,
		Source:      string(res.Source),
		LookupError: res.LookupError(),
	})
}

// handleReview runs the full dashboard battery and returns the review.
func (s *server) handleReview(w http.ResponseWriter, r *http.Request) {
	req, err := parseReviewRequest(r)
	if err != nil {
		writeError(w, err)

		return
	}

	rev, err := s.runReview(r, req)
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, rev)
}

func (s *server) runReview(r *http.Request, req review.Request) (*review.Review, error) {
	s.log.WithFields(logrus.Fields{
		"review_id": req.ID,
		"csid":      req.CSID,
		"comp":      req.ManualCompCSID,
		"user":      userFromContext(r.Context()),
	}).Info("Review requested")

	return s.driver.Run(r.Context(), req)
}
