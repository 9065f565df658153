// Package gitrepo wraps a git working copy. Every command runs with the
// working copy as its explicit working directory.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	// SyntheticName is the identity used for commits the pipeline creates.
	SyntheticName = "Chronbench"

	// SyntheticEmail is the e-mail of the synthetic identity.
	SyntheticEmail = "chronbench@localhost"
)

// ErrEndOfHistory is returned by StepBack when HEAD has no parent.
var ErrEndOfHistory = errors.New("no more history")

// endOfHistorySentinels are stderr fragments git prints when asked to
// check out the parent of a root commit. In a clone git reports the
// revision as a branch name it failed to guess.
var endOfHistorySentinels = []string{
	"did not match any file(s) known to git",
	"unknown revision",
	"invalid reference",
	"is not a valid branch name",
}

// CommandError is returned when a command exits with a non-zero status.
type CommandError struct {
	Name     string
	Args     []string
	ExitCode int
	Stderr   string
}

// Error implements error.
func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = "no output"
	}

	return fmt.Sprintf("%s %s: exit status %d: %s",
		e.Name, strings.Join(e.Args, " "), e.ExitCode, msg)
}

// Contains reports whether stderr contains the given fragment.
func (e *CommandError) Contains(fragment string) bool {
	return strings.Contains(e.Stderr, fragment)
}

// Repo is a handle on a single working copy.
type Repo struct {
	dir    string
	runner Runner
	log    logrus.FieldLogger
}

// Open returns a handle for an existing working copy. A nil runner uses
// ExecRunner.
func Open(dir string, runner Runner, log logrus.FieldLogger) *Repo {
	if runner == nil {
		runner = ExecRunner{}
	}

	return &Repo{
		dir:    dir,
		runner: runner,
		log:    log.WithField("component", "gitrepo"),
	}
}

// Clone clones url into dir and returns a handle on the new working copy.
func Clone(ctx context.Context, runner Runner, log logrus.FieldLogger, url, dir string) (*Repo, error) {
	parent := Open(filepath.Dir(dir), runner, log)

	if _, err := parent.Git(ctx, "clone", url, filepath.Base(dir)); err != nil {
		return nil, fmt.Errorf("cloning %s: %w", url, err)
	}

	return Open(dir, runner, log), nil
}

// Dir returns the working copy path.
func (r *Repo) Dir() string {
	return r.dir
}

// Run executes name with args inside the working copy and returns its
// stdout split into lines. On a non-zero exit the partial output is returned
// together with a *CommandError.
func (r *Repo) Run(ctx context.Context, name string, args ...string) ([]string, error) {
	r.log.WithField("cmd", name+" "+strings.Join(args, " ")).Debug("Running command")

	res, err := r.runner.Run(ctx, Command{
		Dir:  r.dir,
		Env:  syntheticEnv(),
		Name: name,
		Args: args,
	})

	lines := splitLines(res.Stdout)

	if err != nil {
		return lines, fmt.Errorf("running %s: %w", name, err)
	}

	if res.ExitCode != 0 {
		return lines, &CommandError{
			Name:     name,
			Args:     args,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
		}
	}

	return lines, nil
}

// Git runs a git subcommand.
func (r *Repo) Git(ctx context.Context, args ...string) ([]string, error) {
	return r.Run(ctx, "git", args...)
}

// Commits returns the commit SHAs reachable from ref, newest first.
func (r *Repo) Commits(ctx context.Context, ref string) ([]string, error) {
	lines, err := r.Git(ctx, "log", "--format=%H", ref, "--")
	if err != nil {
		return nil, fmt.Errorf("listing commits of %s: %w", ref, err)
	}

	return lines, nil
}

// CommitsOldestFirst returns the commit SHAs reachable from ref, oldest
// first.
func (r *Repo) CommitsOldestFirst(ctx context.Context, ref string) ([]string, error) {
	lines, err := r.Git(ctx, "log", "--reverse", "--format=%H", ref, "--")
	if err != nil {
		return nil, fmt.Errorf("listing commits of %s: %w", ref, err)
	}

	return lines, nil
}

// CountCommits returns the number of commits reachable from ref.
func (r *Repo) CountCommits(ctx context.Context, ref string) (int, error) {
	lines, err := r.Git(ctx, "rev-list", "--count", ref, "--")
	if err != nil {
		return 0, fmt.Errorf("counting commits of %s: %w", ref, err)
	}

	if len(lines) == 0 {
		return 0, fmt.Errorf("counting commits of %s: empty output", ref)
	}

	n, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, fmt.Errorf("parsing commit count %q: %w", lines[0], err)
	}

	return n, nil
}

// RevParse resolves ref to a full SHA.
func (r *Repo) RevParse(ctx context.Context, ref string) (string, error) {
	lines, err := r.Git(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", ref, err)
	}

	if len(lines) == 0 {
		return "", fmt.Errorf("resolving %s: empty output", ref)
	}

	return lines[0], nil
}

// CurrentBranch returns the checked out branch name, or "HEAD" when
// detached.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	lines, err := r.Git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("reading current branch: %w", err)
	}

	if len(lines) == 0 {
		return "", fmt.Errorf("reading current branch: empty output")
	}

	return lines[0], nil
}

// Checkout checks out ref.
func (r *Repo) Checkout(ctx context.Context, ref string) error {
	if _, err := r.Git(ctx, "checkout", "--quiet", ref); err != nil {
		return fmt.Errorf("checking out %s: %w", ref, err)
	}

	return nil
}

// StepBack moves HEAD to its first parent, detaching it. It returns
// ErrEndOfHistory when HEAD is a root commit.
func (r *Repo) StepBack(ctx context.Context) error {
	lines, err := r.Git(ctx, "rev-parse", "--verify", "--quiet", "HEAD~1^{commit}")
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
			return ErrEndOfHistory
		}

		return fmt.Errorf("stepping back: %w", err)
	}

	if len(lines) == 0 {
		return ErrEndOfHistory
	}

	_, err = r.Git(ctx, "checkout", "--quiet", "--detach", lines[0])
	if err == nil {
		return nil
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		for _, s := range endOfHistorySentinels {
			if cmdErr.Contains(s) {
				return ErrEndOfHistory
			}
		}
	}

	return fmt.Errorf("stepping back: %w", err)
}

// syntheticEnv pins the identity used for every commit git creates on
// behalf of the pipeline and disables interactive editors.
func syntheticEnv() []string {
	return []string{
		"GIT_AUTHOR_NAME=" + SyntheticName,
		"GIT_AUTHOR_EMAIL=" + SyntheticEmail,
		"GIT_COMMITTER_NAME=" + SyntheticName,
		"GIT_COMMITTER_EMAIL=" + SyntheticEmail,
		"GIT_EDITOR=true",
		"GIT_TERMINAL_PROMPT=0",
	}
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\r\n")
	if s == "" {
		return nil
	}

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, "\r")
	}

	return lines
}
