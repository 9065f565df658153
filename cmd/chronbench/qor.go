package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethpandaops/chronbench/pkg/characterize"
	"github.com/ethpandaops/chronbench/pkg/fpga"
	"github.com/ethpandaops/chronbench/pkg/gitrepo"
	"github.com/ethpandaops/chronbench/pkg/qor"
	"github.com/ethpandaops/chronbench/pkg/resultstore"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	qorFormat  string
	qorOutput  string
	qorNoStore bool
)

var qorCmd = &cobra.Command{
	Use:   "qor <tool> <benchmark>",
	Short: "Report quality of results of a characterized benchmark",
	Long: `Collect area, fmax and tool runtime from the characterization projects of a
benchmark, relate them to the source changes of each commit and print a
report. The per-commit rows are stored in the results database.`,
	Args: cobra.ExactArgs(2),
	RunE: runQoR,
}

func init() {
	rootCmd.AddCommand(qorCmd)
	qorCmd.Flags().StringVar(&qorFormat, "format", "markdown", "Output format (json or markdown)")
	qorCmd.Flags().StringVarP(&qorOutput, "output", "o", "", "Write the report to a file instead of stdout")
	qorCmd.Flags().BoolVar(&qorNoStore, "no-store", false, "Do not store rows in the results database")
}

func runQoR(cmd *cobra.Command, args []string) error {
	if qorFormat != "json" && qorFormat != "markdown" {
		return fmt.Errorf("unsupported format %q (expected json or markdown)", qorFormat)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
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

	projects, err := characterize.Enumerate(root)
	if err != nil {
		if errors.Is(err, characterize.ErrNoProjects) {
			return fmt.Errorf("%w: run characterize %s setup %s first", err, tool.Name, b.Name)
		}

		return err
	}

	fingerprint, err := b.Fingerprint()
	if err != nil {
		return err
	}

	if m, err := characterize.ReadManifest(root); err == nil {
		if m.Fingerprint != fingerprint {
			log.WithField("benchmark", b.Name).
				Warn("Benchmark descriptor changed since the projects were set up")
		}

		fingerprint = m.Fingerprint
	}

	// Source statistics need the working copy's object database.
	insp, err := gitrepo.Inspect(cfg.WorkingCopyPath(b.Name))
	if err != nil {
		log.WithError(err).Warn("Working copy unavailable, source statistics skipped")
	}

	rows, err := qor.NewCollector(log, tool, insp).Collect(projects)
	if err != nil {
		return fmt.Errorf("collecting qor: %w", err)
	}

	report := qor.NewReport(b.Name, tool.Name, rows)

	var out io.Writer = os.Stdout

	if qorOutput != "" {
		f, err := os.Create(qorOutput)
		if err != nil {
			return fmt.Errorf("creating %s: %w", qorOutput, err)
		}
		defer func() { _ = f.Close() }()

		out = f
	}

	if qorFormat == "json" {
		err = qor.WriteJSON(out, report)
	} else {
		err = qor.WriteMarkdown(out, report)
	}

	if err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	if qorNoStore {
		return nil
	}

	ctx := cmd.Context()

	st := resultstore.NewStore(log, &cfg.Results.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting results store: %w", err)
	}

	defer func() { _ = st.Stop() }()

	dbRows, err := resultstore.FromQoR(report, fingerprint)
	if err != nil {
		return err
	}

	if err := st.ReplaceCommits(ctx, b.Name, tool.Name, dbRows); err != nil {
		return fmt.Errorf("storing qor rows: %w", err)
	}

	log.WithFields(logrus.Fields{
		"benchmark": b.Name,
		"tool":      tool.Name,
		"commits":   len(dbRows),
	}).Info("QoR stored")

	return nil
}
