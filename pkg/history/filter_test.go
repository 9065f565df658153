package history

import (
	"context"
	"os/exec"
	"testing"

	"github.com/ethpandaops/chronbench/pkg/gitrepo"
	"github.com/ethpandaops/chronbench/pkg/gitrepo/gittest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterArgs(t *testing.T) {
	got := FilterArgs("main", []string{"rtl/core.v", "rtl/sub/"})

	assert.Equal(t, []string{
		"--force", "--refs", "main",
		"--path-match", "rtl/core.v", "--path-rename", "rtl/core.v:core.v",
		"--path-match", "rtl/sub/", "--path-rename", "rtl/sub/:",
	}, got)
}

func TestFilter_EmptyBranchIsConfigurationError(t *testing.T) {
	tests := []struct {
		name    string
		respond func(cmd gitrepo.Command) gitrepo.Result
	}{
		{
			name: "ref removed",
			respond: func(cmd gitrepo.Command) gitrepo.Result {
				if cmd.Name == "git" && cmd.Args[0] == "rev-parse" {
					return gitrepo.Result{ExitCode: 1}
				}

				return gitrepo.Result{}
			},
		},
		{
			name: "zero commits",
			respond: func(cmd gitrepo.Command) gitrepo.Result {
				switch gittest.Line(cmd) {
				case "git rev-parse --verify --quiet main^{commit}":
					return gitrepo.Result{Stdout: "abc\n"}
				case "git rev-list --count main --":
					return gitrepo.Result{Stdout: "0\n"}
				}

				return gitrepo.Result{}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &gittest.Recorder{Respond: tt.respond}
			p := New(gitrepo.Open("/w", rec, testLogger()), testLogger(), "git-filter-repo")

			err := p.Filter(context.Background(), "main", []string{"rtl/core.v"})
			require.ErrorIs(t, err, ErrEmptyFileset)
		})
	}
}

func TestFilter_InvokesEngineInWorkingCopy(t *testing.T) {
	rec := &gittest.Recorder{
		Respond: func(cmd gitrepo.Command) gitrepo.Result {
			switch gittest.Line(cmd) {
			case "git rev-parse --verify --quiet main^{commit}":
				return gitrepo.Result{Stdout: "abc\n"}
			case "git rev-list --count main --":
				return gitrepo.Result{Stdout: "4\n"}
			}

			return gitrepo.Result{}
		},
	}

	p := New(gitrepo.Open("/w/bench", rec, testLogger()), testLogger(), "/opt/git-filter-repo")
	require.NoError(t, p.Filter(context.Background(), "main", []string{"a/b.v"}))

	cmds := rec.Commands()
	require.NotEmpty(t, cmds)
	assert.Equal(t, "/opt/git-filter-repo", cmds[0].Name)
	assert.Equal(t, "/w/bench", cmds[0].Dir)
	assert.Equal(t, "git reset --hard --quiet main", gittest.Line(cmds[len(cmds)-1]))
}

func TestFilter_RealEngine(t *testing.T) {
	bin, err := exec.LookPath("git-filter-repo")
	if err != nil {
		t.Skip("git-filter-repo not available")
	}

	up := gittest.Init(t, "main")
	up.Commit("docs", map[string]string{"README": "hi\n"})
	up.Commit("core", map[string]string{"rtl/core.v": "module core; endmodule\n"})
	up.Commit("alu", map[string]string{"rtl/sub/alu.v": "module alu; endmodule\n"})
	up.Commit("more docs", map[string]string{"README": "hello\n"})
	up.Commit("alu fix", map[string]string{"rtl/sub/alu.v": "module alu; wire w; endmodule\n"})

	repo := cloneAt(t, up)
	ctx := context.Background()

	p := New(repo, testLogger(), bin)
	require.NoError(t, p.Filter(ctx, "main", []string{"rtl/core.v", "rtl/sub/alu.v"}))

	insp, err := gitrepo.Inspect(repo.Dir())
	require.NoError(t, err)

	files, err := insp.Files("main")
	require.NoError(t, err)
	assert.Equal(t, []string{"alu.v", "core.v"}, files)

	hist, err := insp.History("main", 0)
	require.NoError(t, err)
	assert.Len(t, hist, 3, "commits touching only README are pruned")
}

func TestFilter_RealEngineDirectory(t *testing.T) {
	bin, err := exec.LookPath("git-filter-repo")
	if err != nil {
		t.Skip("git-filter-repo not available")
	}

	up := gittest.Init(t, "main")
	up.Commit("docs", map[string]string{"README": "hi\n"})
	up.Commit("alu", map[string]string{
		"rtl/sub/alu.v": "module alu; endmodule\n",
		"rtl/sub/mul.v": "module mul; endmodule\n",
	})

	repo := cloneAt(t, up)

	require.NoError(t, New(repo, testLogger(), bin).Filter(context.Background(), "main", []string{"rtl/sub/"}))

	insp, err := gitrepo.Inspect(repo.Dir())
	require.NoError(t, err)

	files, err := insp.Files("main")
	require.NoError(t, err)
	assert.Equal(t, []string{"alu.v", "mul.v"}, files)
}

func TestFilter_RealEngineNoMatch(t *testing.T) {
	bin, err := exec.LookPath("git-filter-repo")
	if err != nil {
		t.Skip("git-filter-repo not available")
	}

	up := gittest.Init(t, "main")
	up.Commit("docs", map[string]string{"README": "hi\n"})

	repo := cloneAt(t, up)

	err = New(repo, testLogger(), bin).Filter(context.Background(), "main", []string{"rtl/missing.v"})
	require.ErrorIs(t, err, ErrEmptyFileset)
}

func cloneAt(t *testing.T, up *gittest.Repo) *gitrepo.Repo {
	t.Helper()

	repo, err := gitrepo.Clone(context.Background(), nil, testLogger(), up.Dir, t.TempDir()+"/bench")
	require.NoError(t, err)

	return repo
}
