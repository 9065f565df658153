package fpga

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// ToolRunner executes vendor binaries.
type ToolRunner interface {
	// RunTool runs bin with args in dir, streaming combined output to out,
	// and returns the exit code. A non-zero exit code is a tool failure,
	// not an error.
	RunTool(ctx context.Context, dir, bin string, args []string, out io.Writer) (int, error)
}

// LocalRunner runs tools as local processes.
type LocalRunner struct {
	// Env is appended to the process environment.
	Env []string
}

// Ensure interface compliance.
var _ ToolRunner = (*LocalRunner)(nil)

// RunTool implements ToolRunner.
func (r *LocalRunner) RunTool(ctx context.Context, dir, bin string, args []string, out io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out

	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}

	return -1, fmt.Errorf("starting %s: %w", bin, err)
}
