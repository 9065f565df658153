package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/ethpandaops/chronbench/pkg/characterize"
	"github.com/ethpandaops/chronbench/pkg/fpga"
	"github.com/ethpandaops/chronbench/pkg/gitrepo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	probeCommits int
	probeJSON    bool
)

var probeCmd = &cobra.Command{
	Use:   "probe <tool> <benchmark>",
	Short: "Find the commits of a working copy that do not synthesize",
	Long: `Walk back from the working copy's HEAD, synthesizing every commit in a
scratch project, and report which commits are synthesizable. The failing
commits are printed as squash list candidates. The original checkout is
restored at the end.`,
	Args: cobra.ExactArgs(2),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeCommits, "commits", 0,
		"Number of commits to probe (0 walks back to the root)")
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "Print results as JSON")
}

func runProbe(cmd *cobra.Command, args []string) error {
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

	if err := requireWorkingCopy(cfg, b); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	r, err := newRunner(ctx, cfg, tool, 1)
	if err != nil {
		return err
	}

	defer func() {
		if err := r.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop runner")
		}
	}()

	repo := gitrepo.Open(cfg.WorkingCopyPath(b.Name), nil, log)

	depth, err := repo.CountCommits(ctx, "HEAD")
	if err != nil {
		return fmt.Errorf("counting commits: %w", err)
	}

	scratch := filepath.Join(cfg.Characterize.ProjectsDir, b.Name+"_"+tool.Name+"_probe")
	prober := characterize.NewProber(log, repo, fpga.NewFlow(log, tool, r.ToolRunner()))

	results, err := prober.Probe(ctx, b, scratch, probeCommits)
	if err != nil {
		return fmt.Errorf("probing %s: %w", b.Name, err)
	}

	candidates := characterize.SquashCandidates(results, depth)

	log.WithFields(logrus.Fields{
		"benchmark":  b.Name,
		"probed":     len(results),
		"candidates": len(candidates),
	}).Info("Probe finished")

	if probeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(map[string]any{
			"results":           results,
			"squash_candidates": candidates,
		})
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HEAD~N\tCOMMIT\tSYNTH\tMESSAGE")

	for _, res := range results {
		verdict := fpga.Fail
		if res.Passed {
			verdict = fpga.Pass
		}

		fmt.Fprintf(tw, "%d\t%.10s\t%s\t%s\n", res.Index, res.SHA, verdict, res.Message)
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nsquash-list candidates: %v\n", candidates)

	return nil
}
