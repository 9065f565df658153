package qor

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethpandaops/chronbench/pkg/characterize"
	"github.com/ethpandaops/chronbench/pkg/config"
	"github.com/ethpandaops/chronbench/pkg/fpga"
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

const utilLog = `Copyright 1986-2022 Xilinx, Inc. All Rights Reserved.
1. CLB Logic
------------

+----------------------------+------+-------+------------+-----------+-------+
|          Site Type         | Used | Fixed | Prohibited | Available | Util% |
+----------------------------+------+-------+------------+-----------+-------+
| CLB LUTs                   | 1234 |     0 |          0 |    394080 |  0.31 |
|   LUT as Logic             | 1200 |     0 |          0 |    394080 |  0.30 |
| CLB Registers              |  900 |     0 |          0 |    788160 |  0.11 |
+----------------------------+------+-------+------------+-----------+-------+
`

func TestPeriodToMHz(t *testing.T) {
	assert.InDelta(t, 1000.0, PeriodToMHz(1), 1e-9)
	assert.InDelta(t, 400.0, PeriodToMHz(2.5), 1e-9)
	assert.InDelta(t, 166.6667, PeriodToMHz(6), 1e-4)
}

func TestFmaxFromGuesses(t *testing.T) {
	tests := []struct {
		name    string
		guesses []fpga.Guess
		lo, hi  float64
		wantErr bool
	}{
		{
			name:    "bracketed",
			guesses: []fpga.Guess{{Period: 5, Met: true}, {Period: 2.5}, {Period: 3.125, Met: true}},
			lo:      2.5,
			hi:      3.125,
		},
		{
			name: "latest guesses win",
			guesses: []fpga.Guess{
				{Period: 1}, {Period: 1.5}, {Period: 2.25, Met: true}, {Period: 1.969}, {Period: 2.215, Met: true},
			},
			lo: 1.969,
			hi: 2.215,
		},
		{name: "never met", guesses: []fpga.Guess{{Period: 1}, {Period: 1.5}}, wantErr: true},
		{name: "always met", guesses: []fpga.Guess{{Period: 8, Met: true}}, wantErr: true},
		{name: "empty", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := FmaxFromGuesses(tt.guesses)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrIncompleteSearch)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.lo, f.MaxLow)
			assert.Equal(t, tt.hi, f.MinHigh)

			lo, hi := PeriodToMHz(tt.lo), PeriodToMHz(tt.hi)
			assert.InDelta(t, (lo+hi)/2, f.Mid, 1e-9)
			assert.InDelta(t, lo-hi, f.Uncertainty, 1e-9)
			assert.Positive(t, f.Uncertainty)
		})
	}
}

func TestParseUtilization(t *testing.T) {
	n, err := ParseUtilization(strings.NewReader(utilLog))
	require.NoError(t, err)
	assert.Equal(t, 1234, n)

	_, err = ParseUtilization(strings.NewReader("no table here\n"))
	require.Error(t, err)

	_, err = ParseUtilization(strings.NewReader("| CLB LUTs | many |\n"))
	require.Error(t, err)

	_, err = ParseUtilization(strings.NewReader("CLB LUTs\n"))
	require.Error(t, err)
}

func TestDescribe(t *testing.T) {
	assert.Nil(t, Describe(nil))

	s := Describe([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	require.NotNil(t, s)
	assert.Equal(t, 8, s.N)
	assert.InDelta(t, 5.0, s.Mean, 1e-12)
	assert.InDelta(t, 2.0, s.Std, 1e-12)
	assert.InDelta(t, 4.5, s.Median, 1e-12)

	assert.InDelta(t, 3.0, Median([]float64{5, 1, 3}), 1e-12)
}

func TestCorrelation(t *testing.T) {
	r, ok := Correlation([]float64{1, 2, 3, 4}, []float64{2, 4, 6, 8})
	require.True(t, ok)
	assert.InDelta(t, 1.0, r, 1e-12)

	r, ok = Correlation([]float64{1, 2, 3}, []float64{3, 2, 1})
	require.True(t, ok)
	assert.InDelta(t, -1.0, r, 1e-12)

	_, ok = Correlation([]float64{1, 1, 1}, []float64{1, 2, 3})
	assert.False(t, ok)

	_, ok = Correlation([]float64{1}, []float64{1})
	assert.False(t, ok)

	_, ok = Correlation([]float64{1, 2}, []float64{1})
	assert.False(t, ok)
}

func intp(n int) *int { return &n }

func TestNewReport(t *testing.T) {
	rows := []CommitQoR{
		{Index: 2, AreaLUTs: intp(100), Churn: intp(50), Fmax: &Fmax{Mid: 300, Uncertainty: 20}},
		{Index: 0, AreaLUTs: intp(130), Churn: intp(10), Fmax: &Fmax{Mid: 280, Uncertainty: 10}},
		{Index: 1, AreaLUTs: intp(120), Churn: intp(40)},
	}

	r := NewReport("alu", fpga.Vivado, rows)
	require.Len(t, r.Commits, 3)
	assert.Equal(t, 0, r.Commits[0].Index)

	require.Len(t, r.Deltas, 2)
	assert.Equal(t, 0, r.Deltas[0].Index)
	assert.Equal(t, 10, *r.Deltas[0].Area)
	assert.Equal(t, 10, *r.Deltas[0].Source)
	assert.Nil(t, r.Deltas[0].FmaxMid, "fmax missing on index 1")
	assert.Equal(t, 20, *r.Deltas[1].Area)
	assert.Equal(t, 40, *r.Deltas[1].Source)

	require.NotNil(t, r.Summary.Area)
	assert.InDelta(t, 15.0, r.Summary.Area.Mean, 1e-12)
	assert.Nil(t, r.Summary.FmaxMid)
	require.NotNil(t, r.Summary.Correlation)
	assert.InDelta(t, 1.0, *r.Summary.Correlation, 1e-12)

	assert.Nil(t, NewReport("alu", fpga.Vivado, rows[:1]).Deltas)
}

func TestWriteReports(t *testing.T) {
	r := NewReport("alu", fpga.Vivado, []CommitQoR{
		{
			Index: 0, SHA: strings.Repeat("ab", 20), SynthPassed: true, PnRPassed: true,
			SynthSecs: 75, PnRSecs: 3725, AreaLUTs: intp(12345), Churn: intp(7),
			Fmax: &Fmax{Mid: 402.5, Uncertainty: 5},
		},
		{Index: 1, SHA: strings.Repeat("cd", 20), AreaLUTs: intp(12000), Churn: intp(3)},
	})

	var md bytes.Buffer
	require.NoError(t, WriteMarkdown(&md, r))

	out := md.String()
	assert.Contains(t, out, "# QoR: alu (vivado)")
	assert.Contains(t, out, "| 0 | `ababababab` | PASS | PASS | 12,345 | 402.5 ± 2.5 | 7 | 1m 15s | 1h 2m 5s |")
	assert.Contains(t, out, "| 1 | `cdcdcdcdcd` | FAIL | FAIL | 12,000 | - | 3 | - | - |")
	assert.Contains(t, out, "| Area change [LUTs] | 1 | 345.00 | 0.00 | 345.00 |")
	assert.NotContains(t, out, "correlation")

	var js bytes.Buffer
	require.NoError(t, WriteJSON(&js, r))

	var decoded Report
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, "alu", decoded.Benchmark)
	assert.Len(t, decoded.Commits, 2)
}

func TestFormatCount(t *testing.T) {
	tests := map[int]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		394080:   "394,080",
		1234567:  "1,234,567",
		-1234567: "-1,234,567",
	}

	for n, want := range tests {
		assert.Equal(t, want, formatCount(n))
	}

	assert.Equal(t, "500ms", formatDuration(500*time.Millisecond))
}

func TestCollect(t *testing.T) {
	up := gittest.Init(t, "main")
	first := up.Commit("rev 0", map[string]string{"top.v": "module top;\nendmodule\n"})
	second := up.Commit("rev 1", map[string]string{"top.v": "module top;\nwire a;\nwire b;\nendmodule\n"})

	root := t.TempDir()
	projects := []characterize.Project{
		{Index: 0, SHA: second, Dir: filepath.Join(root, "0_"+second)},
		{Index: 1, SHA: first, Dir: filepath.Join(root, "1_"+first)},
	}

	for _, p := range projects {
		require.NoError(t, os.MkdirAll(filepath.Join(p.Dir, "autoxpr"), 0755))
	}

	p0 := projects[0].Dir
	require.NoError(t, fpga.WriteStepResult(p0, fpga.Vivado, fpga.StepSynth, true, 90*time.Second))
	require.NoError(t, fpga.WriteStepResult(p0, fpga.Vivado, fpga.StepPnR, true, 10*time.Minute))
	require.NoError(t, os.WriteFile(filepath.Join(p0, fpga.TminFile), []byte("1.000 too low\n1.500 too high\n1.250 too low\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(p0, "autoxpr", "util.log"), []byte(utilLog), 0644))

	p1 := projects[1].Dir
	require.NoError(t, fpga.WriteStepResult(p1, fpga.Vivado, fpga.StepSynth, false, time.Second))

	insp, err := gitrepo.Inspect(up.Dir)
	require.NoError(t, err)

	tool := fpga.NewVivado(config.VivadoConfig{})
	rows, err := NewCollector(testLogger(), tool, insp).Collect(projects)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	r0 := rows[0]
	assert.True(t, r0.SynthPassed)
	assert.True(t, r0.PnRPassed)
	assert.InDelta(t, 90.0, r0.SynthSecs, 1e-9)
	require.NotNil(t, r0.AreaLUTs)
	assert.Equal(t, 1234, *r0.AreaLUTs)
	require.NotNil(t, r0.Fmax)
	assert.Equal(t, 1.25, r0.Fmax.MaxLow)
	assert.Equal(t, 1.5, r0.Fmax.MinHigh)
	assert.Len(t, r0.Guesses, 3)
	require.NotNil(t, r0.Churn)
	assert.Equal(t, 2, *r0.Churn)

	r1 := rows[1]
	assert.False(t, r1.SynthPassed)
	assert.Nil(t, r1.Fmax)
	assert.Nil(t, r1.AreaLUTs)
	require.NotNil(t, r1.Churn)
	assert.Equal(t, 2, *r1.Churn)

	// Without an inspector churn is not reported.
	rows, err = NewCollector(testLogger(), tool, nil).Collect(projects[:1])
	require.NoError(t, err)
	assert.Nil(t, rows[0].Churn)
}

func TestCollectRejectsCorruptTmin(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "0_x")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, fpga.TminFile), []byte("garbage\n"), 0644))

	_, err := NewCollector(testLogger(), fpga.NewQuartus(config.QuartusConfig{}), nil).
		Collect([]characterize.Project{{Dir: dir}})
	require.Error(t, err)
}
