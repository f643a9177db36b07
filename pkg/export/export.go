// Package export writes review bundles to disk and remote storage.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/rsrlabs/dqreview/pkg/review"
	"github.com/rsrlabs/dqreview/pkg/warehouse"
)

// DefaultMaxChars caps the markdown summary of a bundle.
const DefaultMaxChars = 200000

// Bundle describes a written review bundle.
type Bundle struct {
	Dir   string
	Files []string
	Bytes int64
}

// Size returns the bundle size in human readable form.
func (b *Bundle) Size() string {
	return units.HumanSize(float64(b.Bytes))
}

// BundleName returns the directory name of a review bundle:
// <csid>_<unix start>_<first 8 chars of the review ID>.
func BundleName(rev *review.Review) string {
	return fmt.Sprintf("%d_%d_%s", rev.CSID, rev.StartedAt.Unix(), rev.ID.String()[:8])
}

// WriteBundle writes the summary, the review JSON, one CSV per table and
// one SVG per chart under resultsDir/<bundle name>.
func WriteBundle(resultsDir string, rev *review.Review) (*Bundle, error) {
	b := &Bundle{Dir: filepath.Join(resultsDir, BundleName(rev))}

	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating bundle directory: %w", err)
	}

	summary := GenerateReviewMarkdown(rev, DefaultMaxChars)
	if err := b.write("summary.md", []byte(summary)); err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(rev, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling review: %w", err)
	}

	if err := b.write("review.json", data); err != nil {
		return nil, err
	}

	for _, p := range rev.Panels {
		if p.Table != nil {
			if err := b.writeCSV(filepath.Join("tables", p.ReportID+".csv"), p.Table); err != nil {
				return nil, err
			}
		}

		for _, c := range p.Charts {
			if c.Empty || c.SVG == "" {
				continue
			}

			if err := b.write(filepath.Join("charts", c.Name+".svg"), []byte(c.SVG)); err != nil {
				return nil, err
			}
		}
	}

	return b, nil
}

func (b *Bundle) write(rel string, data []byte) error {
	path := filepath.Join(b.Dir, rel)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", rel, err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}

	b.Files = append(b.Files, filepath.ToSlash(rel))
	b.Bytes += int64(len(data))

	return nil
}

func (b *Bundle) writeCSV(rel string, table *warehouse.Table) error {
	path := filepath.Join(b.Dir, rel)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", rel, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", rel, err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)

	if err := w.Write(table.Columns); err != nil {
		return fmt.Errorf("writing %s header: %w", rel, err)
	}

	for i := 0; i < table.Len(); i++ {
		if err := w.Write(table.Row(i).Strings()); err != nil {
			return fmt.Errorf("writing %s row %d: %w", rel, i, err)
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", rel, err)
	}

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", rel, err)
	}

	b.Files = append(b.Files, filepath.ToSlash(rel))
	b.Bytes += info.Size()

	return nil
}
