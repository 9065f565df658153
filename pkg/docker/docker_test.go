package docker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethpandaops/chronbench/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

func TestParseMount(t *testing.T) {
	tests := []struct {
		input   string
		want    Mount
		wantErr bool
	}{
		{input: "/opt/Xilinx:/opt/Xilinx", want: Mount{Source: "/opt/Xilinx", Target: "/opt/Xilinx", Type: "bind"}},
		{input: "/opt/Xilinx:/tools:ro", want: Mount{Source: "/opt/Xilinx", Target: "/tools", Type: "bind", ReadOnly: true}},
		{input: "/licenses:/licenses:rw", want: Mount{Source: "/licenses", Target: "/licenses", Type: "bind"}},
		{input: "/opt/Xilinx", wantErr: true},
		{input: ":/tools", wantErr: true},
		{input: "/a:/b:rx", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMount(tt.input)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDigestOf(t *testing.T) {
	assert.Equal(t, "sha256:abc", digestOf("xilinx/vivado@sha256:abc"))
	assert.Equal(t, "xilinx/vivado:2023.2", digestOf("xilinx/vivado:2023.2"))
	assert.Equal(t, "0123456789ab", shortID("0123456789abcdef"))
	assert.Equal(t, "short", shortID("short"))
}

type fakeManager struct {
	Manager
	specs      []*ContainerSpec
	code       int64
	err        error
	containers []ContainerInfo
	removed    []string
	removeErr  error
}

func (f *fakeManager) ListContainers(_ context.Context) ([]ContainerInfo, error) {
	return f.containers, nil
}

func (f *fakeManager) RemoveContainer(_ context.Context, id string) error {
	if f.removeErr != nil {
		return f.removeErr
	}

	f.removed = append(f.removed, id)

	return nil
}

func (f *fakeManager) GetImageDigest(_ context.Context, imageName string) (string, error) {
	return digestOf(imageName + "@sha256:feed"), nil
}

func (f *fakeManager) RunContainer(_ context.Context, spec *ContainerSpec, stdout, _ io.Writer) (int64, error) {
	f.specs = append(f.specs, spec)

	if f.err != nil {
		return -1, f.err
	}

	_, _ = io.WriteString(stdout, "tool output\n")

	return f.code, nil
}

func TestToolRunner(t *testing.T) {
	mgr := &fakeManager{code: 2}
	dir := t.TempDir()

	r, err := NewToolRunner(testLogger(), mgr, config.DockerRuntime{
		Image:  "xilinx/vivado:2023.2",
		Memory: "16g",
		Env:    map[string]string{"XILINXD_LICENSE_FILE": "2100@licserver"},
		Mounts: []string{"/opt/Xilinx:/opt/Xilinx:ro"},
	}, "1000:1000")
	require.NoError(t, err)

	var out bytes.Buffer

	code, err := r.RunTool(context.Background(), dir, "vivado", []string{"-mode", "tcl"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 2, code)
	assert.Equal(t, "tool output\n", out.String())

	require.Len(t, mgr.specs, 1)
	spec := mgr.specs[0]

	assert.Equal(t, "xilinx/vivado:2023.2", spec.Image)
	assert.Equal(t, []string{"vivado"}, spec.Entrypoint)
	assert.Equal(t, []string{"-mode", "tcl"}, spec.Command)
	assert.Equal(t, WorkDir, spec.WorkingDir)
	assert.Equal(t, "1000:1000", spec.User)
	assert.Equal(t, "2100@licserver", spec.Env["XILINXD_LICENSE_FILE"])
	assert.Equal(t, filepath.Base(dir), spec.Labels[LabelProject])
	assert.Equal(t, r.Session(), spec.Labels[LabelSession])
	assert.True(t, strings.HasPrefix(spec.Name, "chronbench-"+filepath.Base(dir)+"-"))
	require.NotNil(t, spec.ResourceLimits)
	assert.Equal(t, int64(16*1024*1024*1024), spec.ResourceLimits.MemoryBytes)

	require.Len(t, spec.Mounts, 2)
	assert.Equal(t, Mount{Source: dir, Target: WorkDir, Type: "bind"}, spec.Mounts[0])
	assert.True(t, spec.Mounts[1].ReadOnly)
}

func TestToolRunnerUniqueNames(t *testing.T) {
	r, err := NewToolRunner(testLogger(), &fakeManager{}, config.DockerRuntime{Image: "img"}, "")
	require.NoError(t, err)

	a, err := r.Spec(t.TempDir(), "quartus_sh", nil)
	require.NoError(t, err)

	b, err := r.Spec(t.TempDir(), "quartus_sh", nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.Name, b.Name)
	assert.Nil(t, a.ResourceLimits)
}

func TestToolRunnerErrors(t *testing.T) {
	_, err := NewToolRunner(testLogger(), &fakeManager{}, config.DockerRuntime{Image: "img", Memory: "lots"}, "")
	require.Error(t, err)

	_, err = NewToolRunner(testLogger(), &fakeManager{}, config.DockerRuntime{Image: "img", Mounts: []string{"bad"}}, "")
	require.Error(t, err)

	boom := errors.New("daemon gone")

	r, err := NewToolRunner(testLogger(), &fakeManager{err: boom}, config.DockerRuntime{Image: "img"}, "")
	require.NoError(t, err)

	_, err = r.RunTool(context.Background(), t.TempDir(), "vivado", nil, io.Discard)
	require.ErrorIs(t, err, boom)
}

func TestToolRunnerRemoveLeftovers(t *testing.T) {
	mgr := &fakeManager{}

	r, err := NewToolRunner(testLogger(), mgr, config.DockerRuntime{Image: "img"}, "")
	require.NoError(t, err)

	mgr.containers = []ContainerInfo{
		{ID: "c1", Name: "chronbench-0_abc-1", Labels: map[string]string{LabelSession: r.Session()}},
		{ID: "c2", Name: "chronbench-1_def-2", Labels: map[string]string{LabelSession: "another-run"}},
		{ID: "c3", Name: "chronbench-2_123-3", Labels: map[string]string{LabelSession: r.Session()}},
	}

	n, err := r.RemoveLeftovers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"c1", "c3"}, mgr.removed)

	mgr.removed = nil
	mgr.removeErr = errors.New("conflict")

	n, err = r.RemoveLeftovers(context.Background())
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Contains(t, err.Error(), "chronbench-0_abc-1")
}

func TestToolRunnerImageDigest(t *testing.T) {
	r, err := NewToolRunner(testLogger(), &fakeManager{}, config.DockerRuntime{Image: "xilinx/vivado:2023.2"}, "")
	require.NoError(t, err)

	digest, err := r.ImageDigest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sha256:feed", digest)
}
