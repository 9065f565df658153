package fpga

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ethpandaops/chronbench/pkg/config"
)

// TminFile records every period guess of the fmax search.
const TminFile = "tmin.txt"

const (
	tooHigh = "too high"
	tooLow  = "too low"
)

// Guess is one implementation attempt at a clock period.
type Guess struct {
	// Period is the clock period in ns.
	Period float64
	// Met reports whether timing closed, meaning the period is too high.
	Met bool
}

// String formats the guess as a tmin.txt line.
func (g Guess) String() string {
	verdict := tooLow
	if g.Met {
		verdict = tooHigh
	}

	return FormatPeriod(g.Period) + " " + verdict
}

// FormatPeriod formats a period the same way in constraints and records.
func FormatPeriod(period float64) string {
	return strconv.FormatFloat(period, 'f', 3, 64)
}

// TryFunc runs implementation at a period and reports whether timing closed.
type TryFunc func(ctx context.Context, period float64) (bool, error)

// SearchFmax searches for the minimum clock period. A guess that meets
// timing shrinks the period by (1-coef), a failing guess grows it by
// (1+coef), and coef halves whenever the direction flips.
func SearchFmax(ctx context.Context, cfg config.FmaxSearchConfig, try TryFunc) ([]Guess, error) {
	period := cfg.InitialPeriod
	coef := 0.5
	guesses := make([]Guess, 0, cfg.Steps)

	var lastMet *bool

	for i := 0; i < cfg.Steps; i++ {
		if err := ctx.Err(); err != nil {
			return guesses, err
		}

		// Round so the recorded period is the one the tool saw.
		period, _ = strconv.ParseFloat(FormatPeriod(period), 64)

		met, err := try(ctx, period)
		if err != nil {
			return guesses, fmt.Errorf("guess %d at %s ns: %w", i, FormatPeriod(period), err)
		}

		guesses = append(guesses, Guess{Period: period, Met: met})

		if lastMet != nil && *lastMet != met {
			coef /= 2
		}

		if met {
			period *= 1 - coef
		} else {
			period *= 1 + coef
		}

		lastMet = &met
	}

	return guesses, nil
}

// AnyMet reports whether at least one guess closed timing.
func AnyMet(guesses []Guess) bool {
	for _, g := range guesses {
		if g.Met {
			return true
		}
	}

	return false
}

// WriteGuesses writes guesses in tmin.txt format.
func WriteGuesses(w io.Writer, guesses []Guess) error {
	for _, g := range guesses {
		if _, err := fmt.Fprintln(w, g.String()); err != nil {
			return err
		}
	}

	return nil
}

// ReadGuesses parses tmin.txt content.
func ReadGuesses(r io.Reader) ([]Guess, error) {
	var guesses []Guess

	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}

		fields := strings.SplitN(text, " ", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: malformed guess %q", line, text)
		}

		period, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid period: %w", line, err)
		}

		switch fields[1] {
		case tooHigh:
			guesses = append(guesses, Guess{Period: period, Met: true})
		case tooLow:
			guesses = append(guesses, Guess{Period: period, Met: false})
		default:
			return nil, fmt.Errorf("line %d: unknown verdict %q", line, fields[1])
		}
	}

	if err := sc.Err(); err != nil {
		return nil, err
	}

	return guesses, nil
}
