package characterize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethpandaops/chronbench/pkg/config"
	"github.com/ethpandaops/chronbench/pkg/fpga"
	"github.com/ethpandaops/chronbench/pkg/gitrepo"
	"github.com/sirupsen/logrus"
)

// ProbeResult is the synthesizability of one commit.
type ProbeResult struct {
	// Index is the distance from the starting HEAD.
	Index   int    `json:"index"`
	SHA     string `json:"sha"`
	Message string `json:"message"`
	Passed  bool   `json:"passed"`
}

// Prober walks back through a working copy and synthesizes every commit.
type Prober struct {
	log  logrus.FieldLogger
	repo *gitrepo.Repo
	flow *fpga.Flow
}

// NewProber creates a prober for a working copy.
func NewProber(log logrus.FieldLogger, repo *gitrepo.Repo, flow *fpga.Flow) *Prober {
	return &Prober{
		log:  log.WithField("component", "probe"),
		repo: repo,
		flow: flow,
	}
}

// Probe steps back from HEAD one commit at a time, synthesizing each in
// its own scratch project below scratchDir. It stops at the root or after
// limit commits (zero means no limit) and restores the original checkout.
func (p *Prober) Probe(ctx context.Context, b *config.Benchmark, scratchDir string, limit int) (results []ProbeResult, err error) {
	branch, err := p.repo.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}

	if branch == "HEAD" {
		if branch, err = p.repo.RevParse(ctx, "HEAD"); err != nil {
			return nil, err
		}
	}

	defer func() {
		if coErr := p.repo.Checkout(context.Background(), branch); coErr != nil {
			err = errors.Join(err, fmt.Errorf("restoring %s: %w", branch, coErr))
		}
	}()

	insp, err := gitrepo.Inspect(p.repo.Dir())
	if err != nil {
		return nil, err
	}

	for i := 0; limit == 0 || i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res, err := p.probeHead(ctx, insp, b, scratchDir, i)
		if err != nil {
			return results, err
		}

		results = append(results, *res)

		if err := p.repo.StepBack(ctx); err != nil {
			if errors.Is(err, gitrepo.ErrEndOfHistory) {
				p.log.WithField("commits", len(results)).Info("Reached the root commit")

				break
			}

			return results, err
		}
	}

	return results, nil
}

func (p *Prober) probeHead(ctx context.Context, insp *gitrepo.Inspector, b *config.Benchmark, scratchDir string, index int) (*ProbeResult, error) {
	sha, err := p.repo.RevParse(ctx, "HEAD")
	if err != nil {
		return nil, err
	}

	info, err := insp.Commit(sha)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(scratchDir, "probe_"+sha)
	src := filepath.Join(dir, SrcDir)

	if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		if err := insp.Export(sha, src); err != nil {
			return nil, fmt.Errorf("exporting %s: %w", sha, err)
		}
	}

	res, err := p.flow.Run(ctx, dir, b, fpga.StepSynth)
	if err != nil {
		return nil, err
	}

	p.log.WithFields(logrus.Fields{
		"index":  index,
		"sha":    sha,
		"passed": res.Passed,
	}).Info("Probed commit")

	return &ProbeResult{
		Index:   index,
		SHA:     sha,
		Message: firstLine(info.Message),
		Passed:  res.Passed,
	}, nil
}

// SquashCandidates returns the oldest-first indices, as used in a
// benchmark's squash list, of probed commits that failed synthesis. The
// root and the tip are never candidates.
func SquashCandidates(results []ProbeResult, depth int) []int {
	var out []int

	for _, r := range results {
		oldestFirst := depth - 1 - r.Index
		if r.Passed || oldestFirst <= 0 || oldestFirst >= depth-1 {
			continue
		}

		out = append(out, oldestFirst)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return out
}
