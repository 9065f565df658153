package fpga

import (
	"testing"

	"github.com/ethpandaops/chronbench/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTools() config.ToolsConfig {
	return config.ToolsConfig{
		Vivado: config.VivadoConfig{
			Bin:  "/opt/xilinx/bin/vivado",
			Part: "xcvu3p-ffvc1517-3-e",
			Fmax: config.FmaxSearchConfig{Steps: 5, InitialPeriod: 1},
		},
		Quartus: config.QuartusConfig{
			BinDir: "/opt/intel/quartus/bin",
			Device: "10CX220YF780I5G",
			Family: "Cyclone 10 GX",
			Fmax:   config.FmaxSearchConfig{Steps: 10, InitialPeriod: 6},
		},
	}
}

func testBenchmark() *config.Benchmark {
	return &config.Benchmark{
		Name:                "corundum",
		Top:                 "fpga_core",
		Clock:               "clk",
		VivadoExtraCommands: "set_param general.maxThreads 1\nset_property verilog_define {SIM=0} [current_fileset]",
		VivadoSynthArgs:     "-flatten_hierarchy rebuilt",
	}
}

func TestParseStep(t *testing.T) {
	for _, s := range []string{"setup", "synth", "pnr"} {
		step, err := ParseStep(s)
		require.NoError(t, err)
		assert.Equal(t, Step(s), step)
	}

	_, err := ParseStep("bitstream")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown step")
}

func TestNewTool(t *testing.T) {
	assert.Equal(t, []string{"quartus", "vivado"}, Names())

	v, err := NewTool(Vivado, testTools())
	require.NoError(t, err)
	assert.Equal(t, Vivado, v.Name)
	assert.Equal(t, []Invocation{{
		Bin:  "/opt/xilinx/bin/vivado",
		Args: []string{"-mode", "tcl", "-source", "vivado_synth_script.tcl"},
	}}, v.Synth.Commands)
	assert.Equal(t, 5, v.Fmax.Steps)

	q, err := NewTool(Quartus, testTools())
	require.NoError(t, err)
	require.Len(t, q.PnR.Commands, 3)
	assert.Equal(t, "/opt/intel/quartus/bin/quartus_sh", q.PnR.Commands[0].Bin)
	assert.Equal(t, "/opt/intel/quartus/bin/quartus_fit", q.PnR.Commands[1].Bin)
	assert.Equal(t, "/opt/intel/quartus/bin/quartus_sta", q.PnR.Commands[2].Bin)
	assert.Equal(t, []string{"autoqpf"}, q.PnR.Commands[2].Args)
	assert.Empty(t, q.UtilizationLog)

	_, err = NewTool("diamond", testTools())
	require.ErrorIs(t, err, ErrUnknownTool)
}

func TestNewToolDefaultsBinaries(t *testing.T) {
	v := NewVivado(config.VivadoConfig{})
	assert.Equal(t, "vivado", v.Synth.Commands[0].Bin)

	q := NewQuartus(config.QuartusConfig{})
	assert.Equal(t, "quartus_syn", q.Synth.Commands[1].Bin)
}

func TestRenderVivadoScripts(t *testing.T) {
	v := NewVivado(testTools().Vivado)

	synth, err := v.RenderScript(StepSynth, testBenchmark())
	require.NoError(t, err)

	script := string(synth)
	assert.Contains(t, script, `# Benchmark: "corundum"`)
	assert.Contains(t, script, "set partnumber xcvu3p-ffvc1517-3-e")
	assert.Contains(t, script, "set_param general.maxThreads 1\n")
	assert.Contains(t, script, "set_property verilog_define {SIM=0} [current_fileset]\n")
	assert.Contains(t, script, "set synth_args {-flatten_hierarchy rebuilt}")
	assert.Contains(t, script, "catch {synth_design -top fpga_core {*}$synth_args}")
	assert.NotContains(t, script, "read_xdc")

	pnr, err := v.RenderScript(StepPnR, testBenchmark())
	require.NoError(t, err)

	script = string(pnr)
	assert.Contains(t, script, "read_xdc {vivado_constraints.xdc}")
	assert.Contains(t, script, "route_design")
	assert.Contains(t, script, "report_utilization -file $outputdir/util.log")
}

func TestRenderQuartusScripts(t *testing.T) {
	q := NewQuartus(testTools().Quartus)

	b := testBenchmark()
	b.QuartusExtraCommands = "set_global_assignment -name NUM_PARALLEL_PROCESSORS 1"

	synth, err := q.RenderScript(StepSynth, b)
	require.NoError(t, err)

	script := string(synth)
	assert.Contains(t, script, "set_global_assignment -name TOP_LEVEL_ENTITY fpga_core")
	assert.Contains(t, script, "set_global_assignment -name DEVICE 10CX220YF780I5G")
	assert.Contains(t, script, `set_global_assignment -name FAMILY "Cyclone 10 GX"`)
	assert.Contains(t, script, "NUM_PARALLEL_PROCESSORS 1")
	assert.Contains(t, script, ".vhdl {set filetype VHDL_FILE}")
	assert.NotContains(t, script, "set_param general.maxThreads")

	pnr, err := q.RenderScript(StepPnR, b)
	require.NoError(t, err)
	assert.Contains(t, string(pnr), "set_global_assignment -name SDC_FILE quartus_sdc.sdc")
}

func TestRenderScriptErrors(t *testing.T) {
	v := NewVivado(testTools().Vivado)

	_, err := v.RenderScript(StepSetup, testBenchmark())
	require.Error(t, err)

	b := testBenchmark()
	b.Top = ""

	_, err = v.RenderScript(StepSynth, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no top module")
}

func TestRenderConstraint(t *testing.T) {
	v := NewVivado(testTools().Vivado)

	out, err := v.RenderConstraint(testBenchmark(), 2.5)
	require.NoError(t, err)
	assert.Equal(t, "create_clock -name clk -period 2.500 [get_ports clk]\n", string(out))

	b := testBenchmark()
	b.Clock = ""

	_, err = v.RenderConstraint(b, 2.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no clock port")
}
