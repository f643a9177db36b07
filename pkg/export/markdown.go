package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/rsrlabs/dqreview/pkg/review"
	"github.com/rsrlabs/dqreview/pkg/warehouse"
)

// DefaultMaxRows caps the rows of each markdown table.
const DefaultMaxRows = 50

// GenerateReviewMarkdown renders a markdown summary of a review. The output
// is capped at maxChars characters; zero means unlimited.
func GenerateReviewMarkdown(rev *review.Review, maxChars int) string {
	var sb strings.Builder

	sb.Grow(8192)

	writeTitle(&sb, rev)
	writeOverview(&sb, rev)
	writePanelIndex(&sb, rev)

	// Panels are last and get truncated if needed.
	writePanels(&sb, rev, maxChars)

	return sb.String()
}

func writeTitle(sb *strings.Builder, rev *review.Review) {
	fmt.Fprintf(sb, "# DQ Review: CSID %d\n\n", rev.CSID)
}

func writeOverview(sb *strings.Builder, rev *review.Review) {
	sb.WriteString("## Overview\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|---|---|\n")

	fmt.Fprintf(sb, "| Review ID | `%s` |\n", rev.ID)
	fmt.Fprintf(sb, "| CSID | %d |\n", rev.CSID)

	if rev.Comparison.CompCSID > 0 {
		fmt.Fprintf(sb, "| Comparison CSID | %d (%s) |\n",
			rev.Comparison.CompCSID, rev.Comparison.Source)
	} else {
		sb.WriteString("| Comparison CSID | not resolved |\n")
	}

	if rev.Comparison.LookupError != "" {
		fmt.Fprintf(sb, "| Lookup Error | %s |\n", escapeCell(rev.Comparison.LookupError))
	}

	if rev.ThresholdsVersion != "" {
		fmt.Fprintf(sb, "| Thresholds | %s |\n", rev.ThresholdsVersion)
	}

	if !rev.StartedAt.IsZero() {
		fmt.Fprintf(sb, "| Started | %s |\n",
			rev.StartedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	}

	fmt.Fprintf(sb, "| Duration | %s |\n", formatDuration(rev.Duration))
	fmt.Fprintf(sb, "| Failed Panels | %d of %d |\n", rev.Failed(), len(rev.Panels))

	sb.WriteByte('\n')
}

func writePanelIndex(sb *strings.Builder, rev *review.Review) {
	if len(rev.Panels) == 0 {
		return
	}

	sb.WriteString("## Panels\n\n")
	sb.WriteString("| Report | Status | Rows | Time |\n")
	sb.WriteString("|---|---|---:|---:|\n")

	for _, p := range rev.Panels {
		rows := "-"
		if p.Table != nil {
			rows = fmt.Sprintf("%d", p.Table.Len())
		}

		fmt.Fprintf(sb, "| %s | %s | %s | %s |\n",
			panelHeading(p), panelStatus(p), rows, formatDuration(p.Elapsed))
	}

	sb.WriteByte('\n')
}

func writePanels(sb *strings.Builder, rev *review.Review, maxChars int) {
	// Reserve space for the truncation message.
	const reserveChars = 100

	for i, p := range rev.Panels {
		section := panelSection(p)

		if maxChars > 0 && sb.Len()+len(section)+reserveChars > maxChars {
			fmt.Fprintf(sb,
				"\n*%d more panel(s) not shown (output truncated at %d chars)*\n",
				len(rev.Panels)-i, maxChars)

			return
		}

		sb.WriteString(section)
	}
}

func panelSection(p *review.Panel) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "## %s\n\n", panelHeading(p))

	switch {
	case p.Err != "":
		fmt.Fprintf(&sb, "**Error:** %s\n\n", p.Err)
	case p.Skipped != "":
		fmt.Fprintf(&sb, "*Skipped: %s*\n\n", p.Skipped)
	case p.Table == nil || p.Table.Len() == 0:
		sb.WriteString("*No rows.*\n\n")
	default:
		writeTable(&sb, p.Table, DefaultMaxRows)
	}

	if p.ChartErr != "" {
		fmt.Fprintf(&sb, "**Chart error:** %s\n\n", p.ChartErr)
	}

	return sb.String()
}

func writeTable(sb *strings.Builder, table *warehouse.Table, maxRows int) {
	sb.WriteString("| " + strings.Join(table.Columns, " | ") + " |\n")
	sb.WriteString("|" + strings.Repeat("---|", len(table.Columns)) + "\n")

	for i := 0; i < table.Len() && i < maxRows; i++ {
		cells := table.Row(i).Strings()
		for j := range cells {
			cells[j] = escapeCell(cells[j])
		}

		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}

	if table.Len() > maxRows {
		fmt.Fprintf(sb, "\n*%d more row(s) in the CSV export*\n", table.Len()-maxRows)
	}

	sb.WriteByte('\n')
}

func panelHeading(p *review.Panel) string {
	if p.Checkpoint == "" {
		return p.Title
	}

	return fmt.Sprintf("%s [%s]", p.Title, p.Checkpoint)
}

func panelStatus(p *review.Panel) string {
	switch {
	case p.Err != "":
		return "error"
	case p.Skipped != "":
		return "skipped"
	default:
		return "ok"
	}
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)

	return strings.ReplaceAll(s, "\n", " ")
}

// formatDuration formats a duration for summaries.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}

	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60

	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}

	return fmt.Sprintf("%ds", seconds)
}
