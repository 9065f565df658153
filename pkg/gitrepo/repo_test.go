package gitrepo_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethpandaops/chronbench/pkg/gitrepo"
	"github.com/ethpandaops/chronbench/pkg/gitrepo/gittest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

func TestRun_UsesExplicitDirAndSplitsLines(t *testing.T) {
	rec := &gittest.Recorder{
		Respond: func(cmd gitrepo.Command) gitrepo.Result {
			return gitrepo.Result{Stdout: "a\nb\r\nc\n"}
		},
	}

	repo := gitrepo.Open("/work/bench", rec, testLogger())

	lines, err := repo.Git(context.Background(), "log", "--format=%H")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, lines)

	cmds := rec.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, "/work/bench", cmds[0].Dir)
	assert.Equal(t, "git log --format=%H", gittest.Line(cmds[0]))
	assert.Contains(t, cmds[0].Env, "GIT_COMMITTER_NAME="+gitrepo.SyntheticName)
}

func TestRun_NonZeroExitReturnsPartialOutput(t *testing.T) {
	rec := &gittest.Recorder{
		Respond: func(cmd gitrepo.Command) gitrepo.Result {
			return gitrepo.Result{Stdout: "partial\n", Stderr: "fatal: broken\n", ExitCode: 128}
		},
	}

	repo := gitrepo.Open("/work/bench", rec, testLogger())

	lines, err := repo.Git(context.Background(), "status")
	require.Error(t, err)
	assert.Equal(t, []string{"partial"}, lines)

	var cmdErr *gitrepo.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 128, cmdErr.ExitCode)
	assert.True(t, cmdErr.Contains("broken"))
	assert.Contains(t, err.Error(), "git status: exit status 128: fatal: broken")
}

func TestRun_EmptyOutput(t *testing.T) {
	repo := gitrepo.Open("/work/bench", &gittest.Recorder{}, testLogger())

	lines, err := repo.Git(context.Background(), "log")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestStepBack(t *testing.T) {
	const parent = "0123456789abcdef0123456789abcdef01234567"

	tests := []struct {
		name         string
		revParse     gitrepo.Result
		checkout     gitrepo.Result
		wantEnd      bool
		wantErr      bool
		wantCheckout bool
	}{
		{
			name:         "parent exists",
			revParse:     gitrepo.Result{Stdout: parent + "\n"},
			wantCheckout: true,
		},
		{
			name:     "root commit",
			revParse: gitrepo.Result{ExitCode: 1},
			wantEnd:  true,
			wantErr:  true,
		},
		{
			name:     "rev-parse fails otherwise",
			revParse: gitrepo.Result{Stderr: "fatal: not a git repository\n", ExitCode: 128},
			wantErr:  true,
		},
		{
			name:     "branch name guess in a clone",
			revParse: gitrepo.Result{Stdout: parent + "\n"},
			checkout: gitrepo.Result{
				Stderr:   "fatal: 'HEAD~1' is not a valid branch name\n",
				ExitCode: 128,
			},
			wantEnd:      true,
			wantErr:      true,
			wantCheckout: true,
		},
		{
			name:     "pathspec sentinel",
			revParse: gitrepo.Result{Stdout: parent + "\n"},
			checkout: gitrepo.Result{
				Stderr:   "error: pathspec 'HEAD~1' did not match any file(s) known to git\n",
				ExitCode: 1,
			},
			wantEnd:      true,
			wantErr:      true,
			wantCheckout: true,
		},
		{
			name:     "dirty working copy",
			revParse: gitrepo.Result{Stdout: parent + "\n"},
			checkout: gitrepo.Result{
				Stderr:   "error: Your local changes to the following files would be overwritten by checkout\n",
				ExitCode: 1,
			},
			wantErr:      true,
			wantCheckout: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &gittest.Recorder{
				Respond: func(cmd gitrepo.Command) gitrepo.Result {
					if cmd.Args[0] == "rev-parse" {
						return tt.revParse
					}

					return tt.checkout
				},
			}

			err := gitrepo.Open("/w", rec, testLogger()).StepBack(context.Background())
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, tt.wantEnd, errors.Is(err, gitrepo.ErrEndOfHistory))

			lines := rec.Lines()
			assert.Equal(t, "git rev-parse --verify --quiet HEAD~1^{commit}", lines[0])

			if tt.wantCheckout {
				require.Len(t, lines, 2)
				assert.Equal(t, "git checkout --quiet --detach "+parent, lines[1])
			} else {
				assert.Len(t, lines, 1)
			}
		})
	}
}

func TestRepo_AgainstRealGit(t *testing.T) {
	up := gittest.Init(t, "main")
	first := up.Commit("first", map[string]string{"a.v": "module a; endmodule\n"})
	second := up.Commit("second", map[string]string{"b.v": "module b; endmodule\n"})
	third := up.Commit("third", map[string]string{"a.v": "module a2; endmodule\n"})

	ctx := context.Background()
	dst := filepath.Join(t.TempDir(), "clone")

	repo, err := gitrepo.Clone(ctx, nil, testLogger(), up.Dir, dst)
	require.NoError(t, err)
	assert.Equal(t, dst, repo.Dir())

	newest, err := repo.Commits(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, []string{third, second, first}, newest)

	oldest, err := repo.CommitsOldestFirst(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, []string{first, second, third}, oldest)

	n, err := repo.CountCommits(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	sha, err := repo.RevParse(ctx, "main~1")
	require.NoError(t, err)
	assert.Equal(t, second, sha)

	branch, err := repo.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)

	require.NoError(t, repo.StepBack(ctx))
	require.NoError(t, repo.StepBack(ctx))

	head, err := repo.RevParse(ctx, "HEAD")
	require.NoError(t, err)
	assert.Equal(t, first, head)

	err = repo.StepBack(ctx)
	require.ErrorIs(t, err, gitrepo.ErrEndOfHistory)

	require.NoError(t, repo.Checkout(ctx, "main"))

	_, err = repo.RevParse(ctx, "does-not-exist")
	require.Error(t, err)
}

func TestCommandError_NoStderr(t *testing.T) {
	err := &gitrepo.CommandError{Name: "git", Args: []string{"rev-parse", "x"}, ExitCode: 1}
	assert.True(t, strings.HasSuffix(err.Error(), "no output"))
}
