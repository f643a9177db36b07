package main

import (
	"fmt"

	"github.com/rsrlabs/dqreview/pkg/thresholds"
	"github.com/spf13/cobra"
)

var thresholdsDefaults bool

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Print the active threshold table as YAML",
	Long: `Print the threshold table the filtered reports embed in their SQL. The
output is a valid thresholds_file and can be edited and loaded back.`,
	RunE: runThresholds,
}

func init() {
	rootCmd.AddCommand(thresholdsCmd)
	thresholdsCmd.Flags().BoolVar(&thresholdsDefaults, "defaults", false,
		"Print the built-in defaults, ignoring thresholds_file")
}

func runThresholds(cmd *cobra.Command, _ []string) error {
	set := thresholds.Defaults()

	if !thresholdsDefaults {
		loaded, err := loadThresholdSet()
		if err != nil {
			return err
		}

		set = loaded
	}

	data, err := set.Marshal()
	if err != nil {
		return fmt.Errorf("encoding thresholds: %w", err)
	}

	_, err = cmd.OutOrStdout().Write(data)

	return err
}
