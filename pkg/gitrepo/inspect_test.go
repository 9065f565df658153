package gitrepo_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethpandaops/chronbench/pkg/gitrepo"
	"github.com/ethpandaops/chronbench/pkg/gitrepo/gittest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspector(t *testing.T) {
	up := gittest.Init(t, "main")
	first := up.Commit("first", map[string]string{
		"rtl/core.v": "module core;\nendmodule\n",
	})
	second := up.Commit("add alu", map[string]string{
		"rtl/sub/alu.v": "module alu;\n  wire x;\nendmodule\n",
		"rtl/core.v":    "module core;\n  alu u();\nendmodule\n",
	})

	insp, err := gitrepo.Inspect(up.Dir)
	require.NoError(t, err)

	sha, err := insp.Resolve("main")
	require.NoError(t, err)
	assert.Equal(t, second, sha)

	t.Run("commit info", func(t *testing.T) {
		info, err := insp.Commit(first)
		require.NoError(t, err)
		assert.Equal(t, first, info.SHA)
		assert.Equal(t, 0, info.Parents)
		assert.Equal(t, "Upstream Dev", info.AuthorName)
		assert.Equal(t, "first", info.Message)
	})

	t.Run("history", func(t *testing.T) {
		hist, err := insp.History("HEAD", 0)
		require.NoError(t, err)
		require.Len(t, hist, 2)
		assert.Equal(t, second, hist[0].SHA)
		assert.Equal(t, first, hist[1].SHA)

		limited, err := insp.History("HEAD", 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("files", func(t *testing.T) {
		files, err := insp.Files(second)
		require.NoError(t, err)
		assert.Equal(t, []string{"rtl/core.v", "rtl/sub/alu.v"}, files)
	})

	t.Run("stats", func(t *testing.T) {
		root, err := insp.Stats(first)
		require.NoError(t, err)
		assert.Equal(t, 1, root.Files)
		assert.Equal(t, 2, root.Additions)
		assert.Equal(t, 0, root.Deletions)

		s, err := insp.Stats(second)
		require.NoError(t, err)
		assert.Equal(t, 2, s.Files)
		assert.Equal(t, 4, s.Additions)
		assert.Equal(t, 0, s.Deletions)
		assert.Equal(t, 4, s.Churn())
	})

	t.Run("export", func(t *testing.T) {
		dst := filepath.Join(t.TempDir(), "src")
		require.NoError(t, insp.Export(first, dst))

		data, err := os.ReadFile(filepath.Join(dst, "rtl", "core.v"))
		require.NoError(t, err)
		assert.Equal(t, "module core;\nendmodule\n", string(data))

		_, err = os.Stat(filepath.Join(dst, "rtl", "sub", "alu.v"))
		assert.True(t, os.IsNotExist(err), "export is pinned to the given commit")
	})

	t.Run("unknown revision", func(t *testing.T) {
		_, err := insp.Commit("0000000000000000000000000000000000000000")
		require.Error(t, err)
	})
}
