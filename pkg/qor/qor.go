// Package qor collects quality-of-results measurements (area, fmax, tool
// runtime) from characterization projects and relates them to the source
// churn of each commit.
package qor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethpandaops/chronbench/pkg/characterize"
	"github.com/ethpandaops/chronbench/pkg/fpga"
	"github.com/ethpandaops/chronbench/pkg/gitrepo"
	"github.com/sirupsen/logrus"
)

// ErrIncompleteSearch is returned when an fmax search never bracketed the
// minimum period from both sides.
var ErrIncompleteSearch = errors.New("fmax search has no passing and failing guess")

// utilizationRow marks the LUT count row of a Vivado utilization report.
const utilizationRow = "CLB LUTs"

// Fmax is the maximum clock frequency estimate of one commit, in MHz.
type Fmax struct {
	// Mid is the midpoint between the bracketing guesses.
	Mid float64 `json:"mid_mhz"`
	// Uncertainty is the width of the bracket.
	Uncertainty float64 `json:"uncertainty_mhz"`
	// MaxLow is the last period that failed timing, in ns.
	MaxLow float64 `json:"max_low_ns"`
	// MinHigh is the last period that met timing, in ns.
	MinHigh float64 `json:"min_high_ns"`
}

// PeriodToMHz converts a clock period in ns to a frequency in MHz.
func PeriodToMHz(ns float64) float64 {
	return (1 / (ns * 1e-9)) / 1e6
}

// FmaxFromGuesses derives fmax from the most recent passing and failing
// guesses of a search.
func FmaxFromGuesses(guesses []fpga.Guess) (Fmax, error) {
	var (
		maxLow, minHigh   float64
		haveLow, haveHigh bool
	)

	for i := len(guesses) - 1; i >= 0 && !(haveLow && haveHigh); i-- {
		g := guesses[i]

		switch {
		case !g.Met && !haveLow:
			maxLow, haveLow = g.Period, true
		case g.Met && !haveHigh:
			minHigh, haveHigh = g.Period, true
		}
	}

	if !haveLow || !haveHigh {
		return Fmax{}, ErrIncompleteSearch
	}

	lo := PeriodToMHz(maxLow)
	hi := PeriodToMHz(minHigh)

	return Fmax{
		Mid:         (lo + hi) / 2,
		Uncertainty: lo - hi,
		MaxLow:      maxLow,
		MinHigh:     minHigh,
	}, nil
}

// ParseUtilization extracts the used LUT count from a Vivado utilization
// report.
func ParseUtilization(r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, utilizationRow) {
			continue
		}

		cols := strings.Split(line, "|")
		if len(cols) < 3 {
			return 0, fmt.Errorf("malformed utilization row %q", line)
		}

		n, err := strconv.Atoi(strings.TrimSpace(cols[2]))
		if err != nil {
			return 0, fmt.Errorf("parsing LUT count: %w", err)
		}

		return n, nil
	}

	if err := sc.Err(); err != nil {
		return 0, err
	}

	return 0, fmt.Errorf("no %q row in utilization report", utilizationRow)
}

// CommitQoR is the measurement of one characterization project.
type CommitQoR struct {
	Index       int      `json:"index"`
	SHA         string   `json:"sha"`
	SynthPassed bool     `json:"synth_passed"`
	PnRPassed   bool     `json:"pnr_passed"`
	SynthSecs   float64  `json:"synth_seconds,omitempty"`
	PnRSecs     float64  `json:"pnr_seconds,omitempty"`
	AreaLUTs    *int     `json:"area_luts,omitempty"`
	Fmax        *Fmax    `json:"fmax,omitempty"`
	Churn       *int     `json:"churn,omitempty"`
	Guesses     []string `json:"guesses,omitempty"`
}

// Collector reads measurements out of characterization projects.
type Collector struct {
	log  logrus.FieldLogger
	tool *fpga.Tool
	// insp is optional; without it source churn is not reported.
	insp *gitrepo.Inspector
}

// NewCollector creates a collector for a tool. insp may be nil.
func NewCollector(log logrus.FieldLogger, tool *fpga.Tool, insp *gitrepo.Inspector) *Collector {
	return &Collector{
		log:  log.WithFields(logrus.Fields{"component": "qor", "tool": tool.Name}),
		tool: tool,
		insp: insp,
	}
}

// Collect measures every project. Missing artifacts leave the matching
// fields empty and are logged.
func (c *Collector) Collect(projects []characterize.Project) ([]CommitQoR, error) {
	out := make([]CommitQoR, 0, len(projects))

	for _, p := range projects {
		row, err := c.collectOne(p)
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", p.Name(), err)
		}

		out = append(out, *row)
	}

	return out, nil
}

func (c *Collector) collectOne(p characterize.Project) (*CommitQoR, error) {
	log := c.log.WithField("project", p.Name())
	row := &CommitQoR{Index: p.Index, SHA: p.SHA}

	synth, err := fpga.ReadStepState(p.Dir, c.tool.Name, fpga.StepSynth)
	if err != nil {
		return nil, err
	}

	pnr, err := fpga.ReadStepState(p.Dir, c.tool.Name, fpga.StepPnR)
	if err != nil {
		return nil, err
	}

	row.SynthPassed = synth.Passed
	row.PnRPassed = pnr.Passed
	row.SynthSecs = synth.Elapsed.Seconds()
	row.PnRSecs = pnr.Elapsed.Seconds()

	if f, err := os.Open(filepath.Join(p.Dir, fpga.TminFile)); err == nil {
		guesses, perr := fpga.ReadGuesses(f)
		_ = f.Close()

		if perr != nil {
			return nil, fmt.Errorf("reading %s: %w", fpga.TminFile, perr)
		}

		for _, g := range guesses {
			row.Guesses = append(row.Guesses, g.String())
		}

		fm, err := FmaxFromGuesses(guesses)
		if err != nil {
			log.WithError(err).Warn("No fmax estimate")
		} else {
			row.Fmax = &fm
		}
	} else {
		log.Warn("No fmax data")
	}

	if c.tool.UtilizationLog != "" {
		if f, err := os.Open(filepath.Join(p.Dir, c.tool.UtilizationLog)); err == nil {
			luts, perr := ParseUtilization(f)
			_ = f.Close()

			if perr != nil {
				log.WithError(perr).Warn("Unreadable utilization log")
			} else {
				row.AreaLUTs = &luts
			}
		} else {
			log.Warn("No utilization log")
		}
	}

	if c.insp != nil {
		stats, err := c.insp.Stats(p.SHA)
		if err != nil {
			log.WithError(err).Warn("No source statistics, working copy was rebuilt?")
		} else {
			churn := stats.Churn()
			row.Churn = &churn
		}
	}

	return row, nil
}
