package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/ethpandaops/chronbench/pkg/benchmark"
	"github.com/ethpandaops/chronbench/pkg/config"
	"github.com/ethpandaops/chronbench/pkg/docker"
	"github.com/ethpandaops/chronbench/pkg/fpga"
	"github.com/ethpandaops/chronbench/pkg/fsutil"
	"github.com/ethpandaops/chronbench/pkg/resultstore"
	"github.com/ethpandaops/chronbench/pkg/runner"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	characterizeWorkers int
	toolLogsToStdout    bool
)

var characterizeCmd = &cobra.Command{
	Use:   "characterize <tool> <step> <benchmark>",
	Short: "Characterize every commit of a benchmark history",
	Long: `Set up one project per commit of a built benchmark and run the FPGA flow
on all of them. Steps are setup, synth and pnr; later steps run their
dependencies. Projects with a recorded result are skipped.

Tools: ` + strings.Join(fpga.Names(), ", "),
	Args: cobra.ExactArgs(3),
	RunE: runCharacterize,
}

func init() {
	rootCmd.AddCommand(characterizeCmd)
	characterizeCmd.Flags().IntVarP(&characterizeWorkers, "jobs", "j", 0,
		"Number of parallel workers (default from config)")
	characterizeCmd.Flags().BoolVar(&toolLogsToStdout, "tool-logs", false,
		"Mirror tool output to stdout, prefixed per project")
}

// newRunner creates and starts a runner for tool with the configured
// runtime.
func newRunner(ctx context.Context, cfg *config.Config, tool *fpga.Tool, workers int) (runner.Runner, error) {
	owner, err := fsutil.ParseOwner(cfg.Global.ResultsOwner)
	if err != nil {
		return nil, fmt.Errorf("parsing results_owner: %w", err)
	}

	if workers < 1 {
		workers = cfg.Characterize.Workers
	}

	rcfg := &runner.Config{
		ProjectsDir:      cfg.Characterize.ProjectsDir,
		WorkspaceDir:     cfg.Global.WorkspaceDir,
		Workers:          workers,
		ToolLogsToStdout: toolLogsToStdout,
		Owner:            owner,
	}

	var dockerMgr docker.Manager

	if cfg.Characterize.Runtime == "docker" {
		mgr, err := docker.NewManager(log)
		if err != nil {
			return nil, fmt.Errorf("creating docker manager: %w", err)
		}

		dockerMgr = mgr
		rcfg.Docker = &cfg.Characterize.Docker
	}

	r := runner.NewRunner(log, rcfg, tool, dockerMgr)
	if err := r.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting runner: %w", err)
	}

	return r, nil
}

// requireWorkingCopy fails with a precondition error when the benchmark
// has not been built.
func requireWorkingCopy(cfg *config.Config, b *config.Benchmark) error {
	if !newBenchmarkManager(cfg).Exists(b) {
		return fmt.Errorf("%w: %s", benchmark.ErrWorkingCopyMissing,
			filepath.Join(cfg.Global.WorkspaceDir, b.Name))
	}

	return nil
}

func runCharacterize(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	tool, err := fpga.NewTool(args[0], cfg.Tools)
	if err != nil {
		return err
	}

	step, err := fpga.ParseStep(args[1])
	if err != nil {
		return err
	}

	b, err := loadBenchmark(cfg, args[2])
	if err != nil {
		return err
	}

	if err := requireWorkingCopy(cfg, b); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	r, err := newRunner(ctx, cfg, tool, characterizeWorkers)
	if err != nil {
		return err
	}

	defer func() {
		if err := r.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop runner")
		}
	}()

	report, err := r.Run(ctx, b, step)
	if err != nil {
		if report != nil && len(report.Results) > 0 {
			recordRun(ctx, cfg, report)
		}

		return fmt.Errorf("characterizing %s: %w", b.Name, err)
	}

	log.WithFields(logrus.Fields{
		"benchmark":    b.Name,
		"tool":         tool.Name,
		"step":         step,
		"projects":     report.Projects,
		"synth_passed": report.Passed(fpga.StepSynth),
		"pnr_passed":   report.Passed(fpga.StepPnR),
		"duration":     units.HumanDuration(report.Duration),
	}).Info("Characterization finished")

	recordRun(ctx, cfg, report)

	return nil
}

// recordRun stores the run in the results database. Results on disk stay
// authoritative, so failures are only logged.
func recordRun(ctx context.Context, cfg *config.Config, report *runner.Report) {
	st := resultstore.NewStore(log, &cfg.Results.Database)
	if err := st.Start(ctx); err != nil {
		log.WithError(err).Warn("Results database unavailable, run not recorded")

		return
	}

	defer func() { _ = st.Stop() }()

	if err := st.UpsertRun(ctx, resultstore.RunFromReport(report)); err != nil {
		log.WithError(err).Warn("Failed to record run")
	}
}
