package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const benchmarksYAML = `
corundum:
  url: https://github.com/corundum/corundum.git
  start: 1ca0151b97af85aa5dd306d74b6bcec65904d2ce
  branch: master
  depth: 40
  fileset: |
    fpga/common/rtl/mqnic_core.v
    fpga/common/rtl/mqnic_core_pcie.v
    fpga/lib/axis/rtl/axis_fifo.v
  squash-list: 3 17 4 3
  top: mqnic_core_pcie
  clock: clk
  vivado-synth-args: -flatten_hierarchy rebuilt
  vivado-extra-commands: |
    set_param general.maxThreads 4
    set_msg_config -id {Synth 8-87} -new_severity WARNING
jt12:
  url: https://github.com/jotego/jt12.git
  start: "0123456"
  branch: master
  depth: "12"
  fileset:
    - hdl/jt12.v
    - hdl/jt12_top.v
  squash-list: [1, 2]
`

func TestParseBenchmarks(t *testing.T) {
	bs, err := ParseBenchmarks([]byte(benchmarksYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"corundum", "jt12"}, bs.Names())

	corundum, err := bs.Get("corundum")
	require.NoError(t, err)

	assert.Equal(t, "corundum", corundum.Name)
	assert.Equal(t, "https://github.com/corundum/corundum.git", corundum.URL)
	assert.Equal(t, "master", corundum.Branch)
	assert.Equal(t, 40, corundum.Depth)
	assert.Equal(t, Fields{
		"fpga/common/rtl/mqnic_core.v",
		"fpga/common/rtl/mqnic_core_pcie.v",
		"fpga/lib/axis/rtl/axis_fifo.v",
	}, corundum.Fileset)
	assert.Equal(t, Indices{3, 4, 17}, corundum.SquashList, "squash list is a sorted set")
	assert.Equal(t, "mqnic_core_pcie", corundum.Top)
	assert.Equal(t, "-flatten_hierarchy rebuilt", corundum.VivadoSynthArgs)
	assert.Equal(t, []string{
		"set_param general.maxThreads 4",
		"set_msg_config -id {Synth 8-87} -new_severity WARNING",
	}, corundum.VivadoCommands())
	assert.Nil(t, corundum.QuartusCommands())

	jt12, err := bs.Get("jt12")
	require.NoError(t, err)

	assert.Equal(t, "0123456", jt12.Start)
	assert.Equal(t, 12, jt12.Depth, "weakly typed depth")
	assert.Equal(t, Fields{"hdl/jt12.v", "hdl/jt12_top.v"}, jt12.Fileset)
	assert.Equal(t, Indices{1, 2}, jt12.SquashList)
}

func TestParseBenchmarks_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "missing url",
			yaml: `
x:
  start: abc
  branch: main
  depth: 3
  fileset: a.v
`,
			wantErr: "url is required",
		},
		{
			name: "zero depth",
			yaml: `
x:
  url: u
  start: abc
  branch: main
  depth: 0
  fileset: a.v
`,
			wantErr: "depth must be at least 1",
		},
		{
			name: "empty fileset",
			yaml: `
x:
  url: u
  start: abc
  branch: main
  depth: 3
  fileset: ""
`,
			wantErr: "fileset must list at least one path",
		},
		{
			name: "colliding basenames",
			yaml: `
x:
  url: u
  start: abc
  branch: main
  depth: 3
  fileset: rtl/a/top.v rtl/b/top.v
`,
			wantErr: "both flatten to \"top.v\"",
		},
		{
			name: "repository root",
			yaml: `
x:
  url: u
  start: abc
  branch: main
  depth: 3
  fileset: /
`,
			wantErr: "names the repository root",
		},
		{
			name: "bad squash index",
			yaml: `
x:
  url: u
  start: abc
  branch: main
  depth: 3
  fileset: a.v
  squash-list: 1 two
`,
			wantErr: "invalid index \"two\"",
		},
		{
			name: "unknown key",
			yaml: `
x:
  url: u
  start: abc
  branch: main
  depth: 3
  fileset: a.v
  squash: 1
`,
			wantErr: "squash",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBenchmarks([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseBenchmarks_DirectoryEntries(t *testing.T) {
	bs, err := ParseBenchmarks([]byte(`
x:
  url: u
  start: abc
  branch: main
  depth: 3
  fileset: rtl/a/ rtl/b/ top.v
`))
	require.NoError(t, err)

	b, err := bs.Get("x")
	require.NoError(t, err)
	assert.Equal(t, Fields{"rtl/a/", "rtl/b/", "top.v"}, b.Fileset)
}

func TestBenchmarks_GetUnknown(t *testing.T) {
	bs, err := ParseBenchmarks([]byte(benchmarksYAML))
	require.NoError(t, err)

	_, err = bs.Get("vortex")
	require.ErrorIs(t, err, ErrUnknownBenchmark)
	assert.Contains(t, err.Error(), "corundum, jt12")
}

func TestLoadBenchmarks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "benchmarks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(benchmarksYAML), 0o644))

	bs, err := LoadBenchmarks(path)
	require.NoError(t, err)
	assert.Len(t, bs, 2)
}

func TestFlattenedName(t *testing.T) {
	assert.Equal(t, "core.v", FlattenedName("rtl/core.v"))
	assert.Equal(t, "alu.v", FlattenedName("rtl/sub/alu.v"))
	assert.Equal(t, "", FlattenedName("rtl/sub/"))
	assert.Equal(t, "top.v", FlattenedName("top.v"))
}

func TestFingerprint(t *testing.T) {
	bs, err := ParseBenchmarks([]byte(benchmarksYAML))
	require.NoError(t, err)

	a, err := bs["corundum"].Fingerprint()
	require.NoError(t, err)
	assert.Len(t, a, 32)

	again, err := bs["corundum"].Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, a, again, "fingerprint is deterministic")

	b, err := bs["jt12"].Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	changed := *bs["corundum"]
	changed.Depth = 41

	c, err := changed.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
