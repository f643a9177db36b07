// Package thresholds holds the alert thresholds that the filtered review
// reports embed in their SQL. Keeping them in one table lets analysts audit
// and change a threshold without touching query construction.
package thresholds

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Set is the complete threshold table for one review version.
type Set struct {
	Version   string    `yaml:"version" json:"version"`
	EOM       EOM       `yaml:"eom" json:"eom"`
	DailyDiff DailyDiff `yaml:"daily_diff" json:"daily_diff"`
}

// EOM contains the end-of-market flag thresholds. Each field maps to one
// branch of the flagged EOM union.
type EOM struct {
	// Rows with pct_change below this value are flagged (throughput drop).
	ThroughputPctChange float64 `yaml:"throughput_pct_change" json:"throughput_pct_change"`

	M2MMetrics []string `yaml:"m2m_metrics" json:"m2m_metrics"`
	M2MDelta   float64  `yaml:"m2m_delta" json:"m2m_delta"`

	NonVideoExcludedRanks []string `yaml:"non_video_excluded_ranks" json:"non_video_excluded_ranks"`
	NonVideoDelta         float64  `yaml:"non_video_delta" json:"non_video_delta"`

	VideoRanks []string `yaml:"video_ranks" json:"video_ranks"`
	VideoDelta float64  `yaml:"video_delta" json:"video_delta"`

	// Video stall severity uses its own, higher threshold.
	StallRanks []string `yaml:"stall_ranks" json:"stall_ranks"`
	StallDelta float64  `yaml:"stall_delta" json:"stall_delta"`
}

// DailyDiff contains the kit-to-kit daily difference thresholds.
type DailyDiff struct {
	// Only groups with more than MinGroupSize tests are flagged.
	MinGroupSize int        `yaml:"min_group_size" json:"min_group_size"`
	Rules        []DiffRule `yaml:"rules" json:"rules"`
}

// DiffRule flags rows of the listed test types whose absolute task or
// access delta exceeds the given limits.
type DiffRule struct {
	TestTypeIDs []int   `yaml:"test_type_ids" json:"test_type_ids"`
	Task        float64 `yaml:"task" json:"task"`
	Access      float64 `yaml:"access" json:"access"`
}

var identPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Defaults returns the built-in threshold table.
func Defaults() *Set {
	set, err := Parse(defaultsYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded thresholds are invalid: %v", err))
	}

	return set
}

// Load reads a threshold table from path. An empty path returns Defaults.
func Load(path string) (*Set, error) {
	if path == "" {
		return Defaults(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading thresholds file: %w", err)
	}

	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("thresholds file %s: %w", path, err)
	}

	return set, nil
}

// Parse decodes and validates a YAML threshold table.
func Parse(data []byte) (*Set, error) {
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing thresholds: %w", err)
	}

	if err := set.Validate(); err != nil {
		return nil, err
	}

	return &set, nil
}

// Marshal encodes the threshold table as YAML.
func (s *Set) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

// Validate checks the threshold table. Rank and metric codes are
// interpolated into SQL, so they are restricted to identifier characters.
func (s *Set) Validate() error {
	lists := []struct {
		name   string
		values []string
	}{
		{"eom.m2m_metrics", s.EOM.M2MMetrics},
		{"eom.non_video_excluded_ranks", s.EOM.NonVideoExcludedRanks},
		{"eom.video_ranks", s.EOM.VideoRanks},
		{"eom.stall_ranks", s.EOM.StallRanks},
	}

	for _, l := range lists {
		if len(l.values) == 0 {
			return fmt.Errorf("%s must not be empty", l.name)
		}

		for _, v := range l.values {
			if !identPattern.MatchString(v) {
				return fmt.Errorf("%s: invalid code %q", l.name, v)
			}
		}
	}

	if s.DailyDiff.MinGroupSize < 0 {
		return errors.New("daily_diff.min_group_size must not be negative")
	}

	if len(s.DailyDiff.Rules) == 0 {
		return errors.New("daily_diff.rules must not be empty")
	}

	for i, r := range s.DailyDiff.Rules {
		if len(r.TestTypeIDs) == 0 {
			return fmt.Errorf("daily_diff.rules[%d]: test_type_ids must not be empty", i)
		}

		for _, id := range r.TestTypeIDs {
			if id <= 0 {
				return fmt.Errorf("daily_diff.rules[%d]: invalid test type id %d", i, id)
			}
		}

		if r.Task < 0 || r.Access < 0 {
			return fmt.Errorf("daily_diff.rules[%d]: limits must not be negative", i)
		}
	}

	return nil
}
