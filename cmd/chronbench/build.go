package main

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/ethpandaops/chronbench/pkg/benchmark"
	"github.com/ethpandaops/chronbench/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build <benchmark>",
	Short: "Build the working copy of a benchmark",
	Long: `Clone the benchmark repository and rewrite its history into a linear,
truncated and squashed history that only contains the benchmark fileset.`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

var cleanCmd = &cobra.Command{
	Use:   "clean <benchmark>",
	Short: "Delete the working copy of a benchmark",
	Args:  cobra.ExactArgs(1),
	RunE:  runClean,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(cleanCmd)
}

func newBenchmarkManager(cfg *config.Config) benchmark.Manager {
	return benchmark.NewManager(log, benchmark.Config{
		WorkspaceDir:  cfg.Global.WorkspaceDir,
		FilterRepoBin: cfg.Global.FilterRepoBin,
	}, nil)
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	b, err := loadBenchmark(cfg, args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := newBenchmarkManager(cfg).Build(ctx, b)
	if err != nil {
		return fmt.Errorf("building %s: %w", b.Name, err)
	}

	log.WithFields(logrus.Fields{
		"benchmark": res.Name,
		"path":      res.Path,
		"branch":    res.Branch,
		"commits":   res.Commits,
		"files":     len(res.Files),
		"duration":  units.HumanDuration(res.Duration),
	}).Info("Benchmark built")

	return nil
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	b, err := loadBenchmark(cfg, args[0])
	if err != nil {
		return err
	}

	if err := newBenchmarkManager(cfg).Clean(cmd.Context(), b); err != nil {
		return fmt.Errorf("cleaning %s: %w", b.Name, err)
	}

	log.WithField("benchmark", b.Name).Info("Working copy removed")

	return nil
}
