package fpga

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ethpandaops/chronbench/pkg/config"
	"github.com/sirupsen/logrus"
)

// StepResult is the outcome of running one step on one project.
type StepResult struct {
	Project string        `json:"project"`
	Step    Step          `json:"step"`
	Passed  bool          `json:"passed"`
	Skipped bool          `json:"skipped,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
	Guesses []Guess       `json:"guesses,omitempty"`
}

// Flow runs tool steps inside project directories.
type Flow struct {
	log    logrus.FieldLogger
	tool   *Tool
	runner ToolRunner
	// Tee, when set, receives a copy of all tool output.
	Tee io.Writer
}

// NewFlow creates a flow for a tool.
func NewFlow(log logrus.FieldLogger, tool *Tool, runner ToolRunner) *Flow {
	return &Flow{
		log:    log.WithFields(logrus.Fields{"component": "fpga", "tool": tool.Name}),
		tool:   tool,
		runner: runner,
	}
}

// Tool returns the flow's tool definition.
func (f *Flow) Tool() *Tool {
	return f.tool
}

// Run executes a step on the project at dir. Steps with an existing result
// file are skipped.
func (f *Flow) Run(ctx context.Context, dir string, b *config.Benchmark, step Step) (*StepResult, error) {
	state, err := ReadStepState(dir, f.tool.Name, step)
	if err != nil {
		return nil, err
	}

	log := f.log.WithFields(logrus.Fields{
		"project": filepath.Base(dir),
		"step":    step,
	})

	if state.Done {
		log.WithField("passed", state.Passed).Info("Nothing to be done, result exists")

		return &StepResult{
			Project: filepath.Base(dir),
			Step:    step,
			Passed:  state.Passed,
			Skipped: true,
			Elapsed: state.Elapsed,
		}, nil
	}

	var res *StepResult

	switch step {
	case StepSynth:
		res, err = f.synth(ctx, dir, b)
	case StepPnR:
		res, err = f.pnr(ctx, dir, b, log)
	default:
		return nil, fmt.Errorf("step %s cannot run on a project", step)
	}

	if err != nil {
		return nil, err
	}

	if err := WriteStepResult(dir, f.tool.Name, step, res.Passed, res.Elapsed); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"passed":  res.Passed,
		"elapsed": res.Elapsed.Round(time.Millisecond),
	}).Info("Step finished")

	return res, nil
}

func (f *Flow) synth(ctx context.Context, dir string, b *config.Benchmark) (*StepResult, error) {
	if err := f.writeScript(dir, StepSynth, b); err != nil {
		return nil, err
	}

	start := time.Now()

	passed, err := f.runStage(ctx, dir, StepSynth, &f.tool.Synth)
	if err != nil {
		return nil, err
	}

	return &StepResult{
		Project: filepath.Base(dir),
		Step:    StepSynth,
		Passed:  passed,
		Elapsed: time.Since(start),
	}, nil
}

func (f *Flow) pnr(ctx context.Context, dir string, b *config.Benchmark, log logrus.FieldLogger) (*StepResult, error) {
	res := &StepResult{Project: filepath.Base(dir), Step: StepPnR}

	synth, err := ReadStepState(dir, f.tool.Name, StepSynth)
	if err != nil {
		return nil, err
	}

	if !synth.Passed {
		log.Warn("Synthesis did not pass, recording implementation as failed")

		return res, nil
	}

	if err := f.writeScript(dir, StepPnR, b); err != nil {
		return nil, err
	}

	start := time.Now()

	guesses, err := SearchFmax(ctx, f.tool.Fmax, func(ctx context.Context, period float64) (bool, error) {
		constraint, err := f.tool.RenderConstraint(b, period)
		if err != nil {
			return false, err
		}

		if err := os.WriteFile(filepath.Join(dir, f.tool.Constraint), constraint, 0644); err != nil {
			return false, fmt.Errorf("writing constraint: %w", err)
		}

		inner := time.Now()

		met, err := f.runStage(ctx, dir, StepPnR, &f.tool.PnR)
		if err != nil {
			return false, err
		}

		log.WithFields(logrus.Fields{
			"period_ns": FormatPeriod(period),
			"met":       met,
			"runtime":   time.Since(inner).Round(time.Millisecond),
		}).Info("Implementation attempt finished")

		return met, nil
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := WriteGuesses(&buf, guesses); err != nil {
		return nil, err
	}

	if err := os.WriteFile(filepath.Join(dir, TminFile), buf.Bytes(), 0644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", TminFile, err)
	}

	res.Passed = AnyMet(guesses)
	res.Elapsed = time.Since(start)
	res.Guesses = guesses

	return res, nil
}

func (f *Flow) writeScript(dir string, step Step, b *config.Benchmark) error {
	script, err := f.tool.RenderScript(step, b)
	if err != nil {
		return err
	}

	stage, _ := f.tool.Stage(step)

	if err := os.WriteFile(filepath.Join(dir, stage.Script), script, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", stage.Script, err)
	}

	return nil
}

// runStage runs the stage commands and scans the stage log. A tool that
// left none of its expected artifacts behind counts as failed.
func (f *Flow) runStage(ctx context.Context, dir string, step Step, stage *Stage) (bool, error) {
	logPath := filepath.Join(dir, stage.Log)
	if err := os.Remove(logPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("removing stale log: %w", err)
	}

	outPath := filepath.Join(dir, fmt.Sprintf("chronbench_%s_%s.out", f.tool.Name, step))

	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return false, fmt.Errorf("opening tool output: %w", err)
	}
	defer func() { _ = out.Close() }()

	var w io.Writer = out
	if f.Tee != nil {
		w = io.MultiWriter(out, f.Tee)
	}

	for _, inv := range stage.Commands {
		code, err := f.runner.RunTool(ctx, dir, inv.Bin, inv.Args, w)
		if err != nil {
			return false, fmt.Errorf("running %s: %w", inv.Bin, err)
		}

		if code != 0 {
			f.log.WithFields(logrus.Fields{
				"bin":       inv.Bin,
				"exit_code": code,
				"project":   filepath.Base(dir),
			}).Debug("Tool exited with non-zero status")
		}
	}

	for _, a := range stage.Artifacts {
		if _, err := os.Stat(filepath.Join(dir, a)); err != nil {
			f.log.WithFields(logrus.Fields{
				"project":  filepath.Base(dir),
				"artifact": a,
			}).Warn("Tool did not produce its expected output, seems like it did not run")

			return false, nil
		}
	}

	return LogContains(logPath, stage.Success)
}
