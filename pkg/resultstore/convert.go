package resultstore

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethpandaops/chronbench/pkg/fpga"
	"github.com/ethpandaops/chronbench/pkg/qor"
	"github.com/ethpandaops/chronbench/pkg/runner"
)

// FromQoR converts the commits of a QoR report into database rows.
func FromQoR(r *qor.Report, fingerprint string) ([]*CommitResult, error) {
	rows := make([]*CommitResult, 0, len(r.Commits))

	for _, c := range r.Commits {
		row := &CommitResult{
			Benchmark:    r.Benchmark,
			Tool:         r.Tool,
			SHA:          c.SHA,
			Position:     c.Index,
			SynthPassed:  c.SynthPassed,
			PnRPassed:    c.PnRPassed,
			SynthSeconds: c.SynthSecs,
			PnRSeconds:   c.PnRSecs,
			AreaLUTs:     c.AreaLUTs,
			Churn:        c.Churn,
			Fingerprint:  fingerprint,
			CollectedAt:  r.GeneratedAt,
		}

		if c.Fmax != nil {
			mid, unc := c.Fmax.Mid, c.Fmax.Uncertainty
			row.FmaxMHz = &mid
			row.FmaxUncertaintyMHz = &unc
		}

		if len(c.Guesses) > 0 {
			data, err := json.Marshal(c.Guesses)
			if err != nil {
				return nil, fmt.Errorf("encoding guesses of %s: %w", c.SHA, err)
			}

			row.GuessesJSON = string(data)
		}

		rows = append(rows, row)
	}

	return rows, nil
}

// ToQoR converts stored rows back into QoR measurements. Fmax brackets
// are recovered from the stored guesses when present.
func ToQoR(rows []CommitResult) []qor.CommitQoR {
	out := make([]qor.CommitQoR, 0, len(rows))

	for i := range rows {
		row := &rows[i]
		c := qor.CommitQoR{
			Index:       row.Position,
			SHA:         row.SHA,
			SynthPassed: row.SynthPassed,
			PnRPassed:   row.PnRPassed,
			SynthSecs:   row.SynthSeconds,
			PnRSecs:     row.PnRSeconds,
			AreaLUTs:    row.AreaLUTs,
			Churn:       row.Churn,
		}

		if row.GuessesJSON != "" {
			_ = json.Unmarshal([]byte(row.GuessesJSON), &c.Guesses)
		}

		if row.FmaxMHz != nil && row.FmaxUncertaintyMHz != nil {
			f := &qor.Fmax{Mid: *row.FmaxMHz, Uncertainty: *row.FmaxUncertaintyMHz}

			if guesses, err := parseGuesses(c.Guesses); err == nil {
				if bracket, err := qor.FmaxFromGuesses(guesses); err == nil {
					f.MaxLow, f.MinHigh = bracket.MaxLow, bracket.MinHigh
				}
			}

			c.Fmax = f
		}

		out = append(out, c)
	}

	return out
}

// RunFromReport converts a characterization run report into a row.
func RunFromReport(rep *runner.Report) *Run {
	return &Run{
		RunID:           rep.RunID,
		Benchmark:       rep.Benchmark,
		Tool:            rep.Tool,
		Step:            string(rep.Step),
		Workers:         rep.Workers,
		Projects:        rep.Projects,
		SynthPassed:     rep.Passed(fpga.StepSynth),
		PnRPassed:       rep.Passed(fpga.StepPnR),
		StartedAt:       rep.StartedAt,
		DurationSeconds: rep.Duration.Seconds(),
		ImageDigest:     rep.ImageDigest,
	}
}

func parseGuesses(lines []string) ([]fpga.Guess, error) {
	return fpga.ReadGuesses(strings.NewReader(strings.Join(lines, "\n")))
}
