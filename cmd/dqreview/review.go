package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rsrlabs/dqreview/pkg/export"
	"github.com/rsrlabs/dqreview/pkg/review"
	"github.com/rsrlabs/dqreview/pkg/warehouse"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	reviewCSID   int64
	reviewComp   int64
	reviewOutput string
	reviewUpload bool
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Run a review once and export it",
	Long: `Run the dashboard report battery for one collection set and write the
result bundle (markdown summary, review JSON, CSV tables and SVG charts) to
the results directory, optionally uploading it to S3.`,
	RunE: runReview,
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.Flags().Int64Var(&reviewCSID, "csid", 0,
		"Collection set ID to review")
	reviewCmd.Flags().Int64Var(&reviewComp, "comp", 0,
		"Comparison collection set ID, used when the warehouse lookup finds none")
	reviewCmd.Flags().StringVar(&reviewOutput, "output", "",
		"Results directory (default: export.results_dir)")
	reviewCmd.Flags().BoolVar(&reviewUpload, "upload", false,
		"Upload the bundle to S3 (requires export.s3.enabled)")

	if err := reviewCmd.MarkFlagRequired("csid"); err != nil {
		panic(err)
	}
}

func runReview(cmd *cobra.Command, _ []string) error {
	cfg, set, err := loadConfig()
	if err != nil {
		return err
	}

	var uploader export.Uploader

	if reviewUpload {
		if cfg.Export.S3 == nil || !cfg.Export.S3.Enabled {
			return fmt.Errorf("S3 upload is not configured or not enabled in config")
		}

		uploader = export.NewS3Uploader(log, cfg.Export.S3)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Fail fast on bad credentials before spending time on the warehouse.
	if uploader != nil {
		if err := uploader.Preflight(ctx); err != nil {
			return fmt.Errorf("s3 preflight: %w", err)
		}
	}

	wh := warehouse.New(log, &cfg.Warehouse)
	if err := wh.Start(ctx); err != nil {
		return fmt.Errorf("starting warehouse: %w", err)
	}

	defer func() {
		if err := wh.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close warehouse")
		}
	}()

	driver := review.NewDriver(log, wh, &cfg.Review, set)

	rev, err := driver.Run(ctx, review.NewRequest(reviewCSID, reviewComp))
	if err != nil {
		return fmt.Errorf("running review: %w", err)
	}

	resultsDir := reviewOutput
	if resultsDir == "" {
		resultsDir = cfg.Export.ResultsDir
	}

	bundle, err := export.WriteBundle(resultsDir, rev)
	if err != nil {
		return fmt.Errorf("writing bundle: %w", err)
	}

	log.WithFields(logrus.Fields{
		"dir":    bundle.Dir,
		"files":  len(bundle.Files),
		"size":   bundle.Size(),
		"failed": rev.Failed(),
	}).Info("Review bundle written")

	if uploader != nil {
		if err := uploader.Upload(ctx, bundle.Dir); err != nil {
			return fmt.Errorf("uploading bundle: %w", err)
		}

		log.Info("Upload completed successfully")
	}

	if n := rev.Failed(); n > 0 {
		log.WithField("failed", n).Warn("Some reports failed, see the summary for details")
	}

	return nil
}
