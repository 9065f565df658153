package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Command describes a single external program invocation.
type Command struct {
	// Dir is the working directory. It is always set explicitly; the process
	// working directory is never changed.
	Dir  string
	Env  []string
	Name string
	Args []string
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes commands. It is an interface so tests can record or
// script command sequences without touching a real repository.
type Runner interface {
	// Run executes the command and waits for it to finish. A non-zero exit
	// status is reported through Result.ExitCode, not as an error. An error
	// is returned only when the process could not be started or the context
	// was cancelled.
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands as local processes.
type ExecRunner struct{}

// Ensure interface compliance.
var _ Runner = ExecRunner{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	err := cmd.Run()

	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()

		return res, nil
	}

	return res, fmt.Errorf("starting %s: %w", c.Name, err)
}
