// Package benchmark builds and cleans benchmark working copies.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethpandaops/chronbench/pkg/config"
	"github.com/ethpandaops/chronbench/pkg/gitrepo"
	"github.com/ethpandaops/chronbench/pkg/history"
	"github.com/sirupsen/logrus"
)

// ErrPrecondition classifies fatal precondition violations.
var ErrPrecondition = errors.New("precondition violated")

// Precondition violations.
var (
	ErrWorkingCopyExists  = fmt.Errorf("%w: working copy already exists", ErrPrecondition)
	ErrWorkingCopyMissing = fmt.Errorf("%w: working copy does not exist", ErrPrecondition)
)

// IsPrecondition reports whether err is a fatal precondition violation.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrPrecondition) || errors.Is(err, history.ErrDepthExceedsHistory)
}

// Manager builds and cleans benchmark working copies.
type Manager interface {
	// Build clones the benchmark and rewrites its history. The working copy
	// must not exist yet.
	Build(ctx context.Context, b *config.Benchmark) (*BuildResult, error)
	// Clean deletes the working copy. It must exist.
	Clean(ctx context.Context, b *config.Benchmark) error
	// Path returns the working copy location of a benchmark.
	Path(b *config.Benchmark) string
	// Exists reports whether the working copy is present.
	Exists(b *config.Benchmark) bool
}

// Config configures a Manager.
type Config struct {
	WorkspaceDir  string
	FilterRepoBin string
}

// BuildResult describes a finished working copy.
type BuildResult struct {
	Name     string
	Path     string
	Branch   string
	Commits  int
	Files    []string
	Duration time.Duration
}

type manager struct {
	log    logrus.FieldLogger
	cfg    Config
	runner gitrepo.Runner
}

// Ensure interface compliance.
var _ Manager = (*manager)(nil)

// NewManager creates a Manager. A nil runner executes real processes.
func NewManager(log logrus.FieldLogger, cfg Config, runner gitrepo.Runner) Manager {
	if runner == nil {
		runner = gitrepo.ExecRunner{}
	}

	return &manager{
		log:    log.WithField("component", "benchmark"),
		cfg:    cfg,
		runner: runner,
	}
}

// Path implements Manager.
func (m *manager) Path(b *config.Benchmark) string {
	return filepath.Join(m.cfg.WorkspaceDir, b.Name)
}

// Exists implements Manager.
func (m *manager) Exists(b *config.Benchmark) bool {
	_, err := os.Stat(m.Path(b))

	return err == nil
}

// Build implements Manager.
func (m *manager) Build(ctx context.Context, b *config.Benchmark) (*BuildResult, error) {
	path := m.Path(b)

	if m.Exists(b) {
		return nil, fmt.Errorf("%w: %s", ErrWorkingCopyExists, path)
	}

	if err := history.ValidateSquashList(b.SquashList, b.Depth); err != nil {
		return nil, fmt.Errorf("benchmark %s: %w", b.Name, err)
	}

	log := m.log.WithFields(logrus.Fields{
		"benchmark": b.Name,
		"path":      path,
	})

	start := time.Now()

	log.WithField("url", b.URL).Info("Cloning repository")

	if err := os.MkdirAll(m.cfg.WorkspaceDir, 0755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	repo, err := gitrepo.Clone(ctx, m.runner, m.log, b.URL, path)
	if err != nil {
		return nil, err
	}

	if err := m.prepare(ctx, repo, b); err != nil {
		return nil, err
	}

	pipeline := history.New(repo, m.log, m.cfg.FilterRepoBin)

	if err := pipeline.Filter(ctx, b.Branch, b.Fileset); err != nil {
		return nil, fmt.Errorf("filtering history: %w", err)
	}

	if err := pipeline.Truncate(ctx, b.Branch, b.Depth); err != nil {
		return nil, fmt.Errorf("truncating history: %w", err)
	}

	if err := pipeline.Squash(ctx, b.Branch, b.SquashList); err != nil {
		return nil, fmt.Errorf("squashing history: %w", err)
	}

	result, err := m.verify(ctx, repo, b)
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)

	log.WithFields(logrus.Fields{
		"commits":  result.Commits,
		"files":    len(result.Files),
		"duration": result.Duration.Round(time.Millisecond),
	}).Info("Benchmark built")

	return result, nil
}

// prepare positions the fresh clone at the start commit and purges the
// reflog so the rewrite engine accepts the repository.
func (m *manager) prepare(ctx context.Context, repo *gitrepo.Repo, b *config.Benchmark) error {
	steps := []struct {
		what string
		args []string
	}{
		{"checking out branch", []string{"checkout", "--quiet", b.Branch}},
		{"resetting to start commit", []string{"reset", "--hard", "--quiet", b.Start}},
		{"purging reflog", []string{"reflog", "expire", "--expire=now", "--all"}},
	}

	for _, s := range steps {
		if _, err := repo.Git(ctx, s.args...); err != nil {
			return fmt.Errorf("%s: %w", s.what, err)
		}
	}

	return nil
}

// verify checks the final shape of the branch.
func (m *manager) verify(ctx context.Context, repo *gitrepo.Repo, b *config.Benchmark) (*BuildResult, error) {
	n, err := repo.CountCommits(ctx, b.Branch)
	if err != nil {
		return nil, err
	}

	if want := b.Depth - len(b.SquashList); n != want {
		return nil, fmt.Errorf("verifying %s: got %d commits, want %d", b.Name, n, want)
	}

	roots, err := repo.Git(ctx, "rev-list", "--max-parents=0", b.Branch, "--")
	if err != nil {
		return nil, fmt.Errorf("listing root commits: %w", err)
	}

	if len(roots) != 1 {
		return nil, fmt.Errorf("verifying %s: expected a single root commit, found %d", b.Name, len(roots))
	}

	files, err := repo.Git(ctx, "ls-tree", "-r", "--name-only", b.Branch)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	return &BuildResult{
		Name:    b.Name,
		Path:    repo.Dir(),
		Branch:  b.Branch,
		Commits: n,
		Files:   files,
	}, nil
}

// Clean implements Manager.
func (m *manager) Clean(_ context.Context, b *config.Benchmark) error {
	path := m.Path(b)

	if !m.Exists(b) {
		return fmt.Errorf("%w: %s", ErrWorkingCopyMissing, path)
	}

	m.log.WithFields(logrus.Fields{
		"benchmark": b.Name,
		"path":      path,
	}).Info("Removing working copy")

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}

	return nil
}
