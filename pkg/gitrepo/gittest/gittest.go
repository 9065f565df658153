// Package gittest provides helpers for tests that need real git
// repositories or a scripted command runner.
package gittest

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/chronbench/pkg/gitrepo"
	"github.com/stretchr/testify/require"
)

// RequireGit skips the test when no git binary is available.
func RequireGit(t testing.TB) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// Repo is a scratch repository used as an upstream in tests.
type Repo struct {
	t    testing.TB
	Dir  string
	tick int
}

// Init creates an empty repository whose initial branch is branch.
func Init(t testing.TB, branch string) *Repo {
	t.Helper()
	RequireGit(t)

	r := &Repo{t: t, Dir: filepath.Join(t.TempDir(), "upstream")}
	require.NoError(t, os.MkdirAll(r.Dir, 0755))

	r.Git("init", "--quiet")
	r.Git("symbolic-ref", "HEAD", "refs/heads/"+branch)

	return r
}

// Git runs a git command in the repository and returns trimmed stdout.
func (r *Repo) Git(args ...string) string {
	r.t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(), r.env()...)

	out, err := cmd.CombinedOutput()
	require.NoError(r.t, err, "git %s: %s", strings.Join(args, " "), out)

	return strings.TrimSpace(string(out))
}

// Write writes files relative to the repository root without committing.
func (r *Repo) Write(files map[string]string) {
	r.t.Helper()

	for name, content := range files {
		p := filepath.Join(r.Dir, filepath.FromSlash(name))
		require.NoError(r.t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(r.t, os.WriteFile(p, []byte(content), 0644))
	}
}

// Remove deletes files relative to the repository root without committing.
func (r *Repo) Remove(names ...string) {
	r.t.Helper()

	for _, name := range names {
		require.NoError(r.t, os.Remove(filepath.Join(r.Dir, filepath.FromSlash(name))))
	}
}

// Commit writes files, stages everything and commits. It returns the new
// commit SHA.
func (r *Repo) Commit(msg string, files map[string]string) string {
	r.t.Helper()

	r.Write(files)
	r.Git("add", "-A")
	r.Git("commit", "--quiet", "--allow-empty", "-m", msg)

	return r.Git("rev-parse", "HEAD")
}

// env pins author data and isolates the repository from user config. Dates
// advance by one minute per command so commit order is stable.
func (r *Repo) env() []string {
	r.tick++
	when := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(r.tick) * time.Minute)
	date := when.Format(time.RFC3339)

	return []string{
		"GIT_AUTHOR_NAME=Upstream Dev",
		"GIT_AUTHOR_EMAIL=dev@example.com",
		"GIT_COMMITTER_NAME=Upstream Dev",
		"GIT_COMMITTER_EMAIL=dev@example.com",
		"GIT_AUTHOR_DATE=" + date,
		"GIT_COMMITTER_DATE=" + date,
		"GIT_CONFIG_NOSYSTEM=1",
		"HOME=" + r.Dir,
	}
}

// Recorder is a gitrepo.Runner that records every command and answers
// with scripted results.
type Recorder struct {
	mu       sync.Mutex
	commands []gitrepo.Command

	// Respond returns the result for a command. When nil every command
	// succeeds with empty output.
	Respond func(cmd gitrepo.Command) gitrepo.Result
}

// Ensure interface compliance.
var _ gitrepo.Runner = (*Recorder)(nil)

// Run implements gitrepo.Runner.
func (r *Recorder) Run(_ context.Context, cmd gitrepo.Command) (gitrepo.Result, error) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()

	if r.Respond == nil {
		return gitrepo.Result{}, nil
	}

	return r.Respond(cmd), nil
}

// Commands returns the recorded commands.
func (r *Recorder) Commands() []gitrepo.Command {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]gitrepo.Command, len(r.commands))
	copy(out, r.commands)

	return out
}

// Lines returns each recorded command as "name arg1 arg2 ...".
func (r *Recorder) Lines() []string {
	cmds := r.Commands()
	out := make([]string, 0, len(cmds))

	for _, c := range cmds {
		out = append(out, Line(c))
	}

	return out
}

// Line formats a command as "name arg1 arg2 ...".
func Line(c gitrepo.Command) string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}
