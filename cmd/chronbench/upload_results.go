package main

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/ethpandaops/chronbench/pkg/characterize"
	"github.com/ethpandaops/chronbench/pkg/fpga"
	"github.com/ethpandaops/chronbench/pkg/upload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var uploadSkipPreflight bool

var uploadResultsCmd = &cobra.Command{
	Use:   "upload-results <tool> <benchmark>",
	Short: "Upload characterization results to remote storage",
	Long: `Upload the result artifacts of a benchmark's characterization projects
(result files, tool logs and reports, fmax records, manifest) to
S3-compatible storage using the config file settings. Exported sources are
not uploaded.`,
	Args: cobra.ExactArgs(2),
	RunE: runUploadResults,
}

func init() {
	rootCmd.AddCommand(uploadResultsCmd)
	uploadResultsCmd.Flags().BoolVar(&uploadSkipPreflight, "skip-preflight", false,
		"Skip the bucket write test")
}

func runUploadResults(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if cfg.Upload == nil || cfg.Upload.S3 == nil || !cfg.Upload.S3.Enabled {
		return fmt.Errorf("S3 upload is not configured or not enabled in config")
	}

	tool, err := fpga.NewTool(args[0], cfg.Tools)
	if err != nil {
		return err
	}

	b, err := loadBenchmark(cfg, args[1])
	if err != nil {
		return err
	}

	root := characterize.Root(cfg.Characterize.ProjectsDir, b.Name, tool.Name)
	if _, err := characterize.Enumerate(root); err != nil {
		return err
	}

	uploader, err := upload.NewS3Uploader(log, cfg.Upload.S3)
	if err != nil {
		return fmt.Errorf("creating S3 uploader: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if !uploadSkipPreflight {
		if err := uploader.Preflight(ctx); err != nil {
			return fmt.Errorf("s3 preflight: %w", err)
		}
	}

	log.WithField("dir", root).Info("Uploading results")

	summary, err := uploader.Upload(ctx, root)
	if err != nil {
		return fmt.Errorf("uploading results: %w", err)
	}

	log.WithFields(logrus.Fields{
		"uploaded": summary.Uploaded,
		"skipped":  summary.Skipped,
		"size":     units.BytesSize(float64(summary.Bytes)),
	}).Info("Upload completed successfully")

	return nil
}
