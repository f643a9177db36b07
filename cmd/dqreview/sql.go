package main

import (
	"fmt"

	"github.com/rsrlabs/dqreview/pkg/reports"
	"github.com/rsrlabs/dqreview/pkg/resolver"
	"github.com/spf13/cobra"
)

var (
	sqlCSID int64
	sqlComp int64
	sqlList bool
)

var sqlCmd = &cobra.Command{
	Use:   "sql [report-id]",
	Short: "Print the SQL of a report",
	Long: `Render a report's SQL with the active thresholds without running it.
With --list, print the report catalog instead. The pseudo report
"comparison" prints the comparison CSID lookup.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSQL,
}

func init() {
	rootCmd.AddCommand(sqlCmd)
	sqlCmd.Flags().Int64Var(&sqlCSID, "csid", 0, "Collection set ID")
	sqlCmd.Flags().Int64Var(&sqlComp, "comp", 0, "Comparison collection set ID")
	sqlCmd.Flags().BoolVar(&sqlList, "list", false, "List the report catalog")
}

func runSQL(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if sqlList || len(args) == 0 {
		for _, r := range reports.Catalog() {
			fmt.Fprintf(out, "%-18s %-9s %s\n", r.ID, r.Comparison, r.Title)
		}

		return nil
	}

	if args[0] == "comparison" {
		fmt.Fprintln(out, resolver.LookupSQL(sqlCSID))

		return nil
	}

	set, err := loadThresholdSet()
	if err != nil {
		return err
	}

	r, err := reports.Lookup(args[0])
	if err != nil {
		return err
	}

	query, err := r.SQL(reports.Params{CSID: sqlCSID, CompCSID: sqlComp}, set)
	if err != nil {
		return fmt.Errorf("rendering %s: %w", r.ID, err)
	}

	fmt.Fprintln(out, query)

	return nil
}
