package api

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/rsrlabs/dqreview/pkg/charts"
	"github.com/rsrlabs/dqreview/pkg/resolver"
	"github.com/rsrlabs/dqreview/pkg/review"
)

//go:embed templates/page.html.tmpl
var pageTemplate string

// speedGridGroup is laid out as a fixed 2x2 grid.
const speedGridGroup = "speed-grid"

type pageRenderer struct {
	tmpl *template.Template
}

func newPageRenderer() *pageRenderer {
	funcs := template.FuncMap{
		"human": units.HumanDuration,
		"elapsed": func(d time.Duration) string {
			return d.Round(time.Millisecond).String()
		},
	}

	return &pageRenderer{
		tmpl: template.Must(
			template.New("page").Funcs(funcs).Parse(pageTemplate),
		),
	}
}

type pageData struct {
	Form   formData
	Error  string
	Notice string
	Review *review.Review
	Panels []panelView
}

type formData struct {
	CSID string
	Comp string
	Min  int64
	Max  int64
}

type panelView struct {
	*review.Panel
	Anchor   string
	Rows     [][]string
	Sections []chartSection
}

type chartSection struct {
	Grid   bool
	Charts []chartView
}

type chartView struct {
	Name  string
	Title string
	Empty bool
	SVG   template.HTML
}

func (p *pageRenderer) render(w http.ResponseWriter, status int, data *pageData) {
	var buf bytes.Buffer

	if err := p.tmpl.Execute(&buf, data); err != nil {
		http.Error(w, fmt.Sprintf("rendering page: %v", err),
			http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (s *server) newPageData() *pageData {
	return &pageData{
		Form: formData{
			CSID: strconv.FormatInt(s.cfg.Review.DefaultCSID, 10),
			Min:  s.cfg.Review.MinCSID,
			Max:  s.cfg.Review.MaxCSID,
		},
	}
}

// handleIndexPage renders the empty review form.
func (s *server) handleIndexPage(w http.ResponseWriter, _ *http.Request) {
	s.page.render(w, http.StatusOK, s.newPageData())
}

// handleReviewPage runs a review and renders every panel. Warehouse
// failures are shown per panel; only bad input changes the status code.
func (s *server) handleReviewPage(w http.ResponseWriter, r *http.Request) {
	data := s.newPageData()
	data.Form.CSID = r.URL.Query().Get("csid")
	data.Form.Comp = r.URL.Query().Get("comp")

	req, err := parseReviewRequest(r)
	if err != nil {
		data.Error = err.Error()
		s.page.render(w, statusFor(err), data)

		return
	}

	rev, err := s.runReview(r, req)
	if err != nil {
		data.Error = err.Error()
		s.page.render(w, statusFor(err), data)

		return
	}

	data.Review = rev
	data.Notice = comparisonNotice(rev)
	data.Panels = panelViews(rev.Panels)

	s.page.render(w, http.StatusOK, data)
}

// comparisonNotice prompts for a manual comparison CSID when none resolved.
func comparisonNotice(rev *review.Review) string {
	if rev.Comparison.Source != resolver.SourceNone {
		return ""
	}

	msg := fmt.Sprintf(
		"No comparison CSID found for CSID %d. Enter one manually to run the comparison reports.",
		rev.CSID,
	)

	if rev.Comparison.LookupError != "" {
		msg += " Lookup failed: " + rev.Comparison.LookupError
	}

	return msg
}

func panelViews(panels []*review.Panel) []panelView {
	views := make([]panelView, 0, len(panels))

	for _, p := range panels {
		v := panelView{
			Panel:    p,
			Anchor:   "panel-" + p.ReportID,
			Sections: chartSections(p.Charts),
		}

		if p.OK() {
			v.Rows = make([][]string, 0, p.Table.Len())

			for i := 0; i < p.Table.Len(); i++ {
				v.Rows = append(v.Rows, p.Table.Row(i).Strings())
			}
		}

		views = append(views, v)
	}

	return views
}

// chartSections splits charts into consecutive runs, placing speed grid
// cells in their own grid section.
func chartSections(list []charts.Chart) []chartSection {
	sections := make([]chartSection, 0, 2)

	for _, c := range list {
		grid := c.Group == speedGridGroup

		if len(sections) == 0 || sections[len(sections)-1].Grid != grid {
			sections = append(sections, chartSection{Grid: grid})
		}

		last := &sections[len(sections)-1]
		last.Charts = append(last.Charts, chartView{
			Name:  c.Name,
			Title: c.Title,
			Empty: c.Empty,
			SVG:   template.HTML(c.SVG), //nolint:gosec // charts escape warehouse text before go-chart renders it.
		})
	}

	return sections
}
