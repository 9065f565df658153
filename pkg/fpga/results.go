package fpga

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Result file suffixes.
const (
	Pass = "PASS"
	Fail = "FAIL"
)

// ResultFile returns the result file name for a tool step and outcome.
func ResultFile(tool string, step Step, passed bool) string {
	outcome := Fail
	if passed {
		outcome = Pass
	}

	return tool + "_" + string(step) + "." + outcome
}

// StepState is the recorded outcome of a step in a project.
type StepState struct {
	Done    bool
	Passed  bool
	Elapsed time.Duration
}

// ReadStepState inspects a project directory for a step's result file.
func ReadStepState(dir, tool string, step Step) (StepState, error) {
	for _, passed := range []bool{true, false} {
		path := filepath.Join(dir, ResultFile(tool, step, passed))

		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}

		if err != nil {
			return StepState{}, fmt.Errorf("reading %s: %w", path, err)
		}

		state := StepState{Done: true, Passed: passed}

		if secs, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64); err == nil {
			state.Elapsed = time.Duration(secs * float64(time.Second))
		}

		return state, nil
	}

	return StepState{}, nil
}

// WriteStepResult records a step outcome with its elapsed wall-clock time
// in seconds.
func WriteStepResult(dir, tool string, step Step, passed bool, elapsed time.Duration) error {
	path := filepath.Join(dir, ResultFile(tool, step, passed))
	content := strconv.FormatFloat(elapsed.Seconds(), 'f', 3, 64) + "\n"

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing result %s: %w", path, err)
	}

	return nil
}

// ClearStepResults removes any recorded outcome of a step.
func ClearStepResults(dir, tool string, step Step) error {
	for _, passed := range []bool{true, false} {
		path := filepath.Join(dir, ResultFile(tool, step, passed))
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}

	return nil
}

// LogContains reports whether the file at path contains substr. A missing
// file is reported as false without error.
func LogContains(path, substr string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("reading log %s: %w", path, err)
	}

	return strings.Contains(string(data), substr), nil
}
