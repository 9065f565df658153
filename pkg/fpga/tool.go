// Package fpga drives vendor FPGA toolchains over characterization
// projects: script generation, tool invocation, log scanning, result files
// and the iterative fmax search.
package fpga

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"text/template"

	"github.com/ethpandaops/chronbench/pkg/config"
)

// ErrUnknownTool is returned for tool names other than vivado and quartus.
var ErrUnknownTool = errors.New("unknown FPGA tool")

// Tool names.
const (
	Vivado  = "vivado"
	Quartus = "quartus"
)

// Step is a stage of the characterization flow.
type Step string

// Flow steps. Later steps imply the earlier ones.
const (
	StepSetup Step = "setup"
	StepSynth Step = "synth"
	StepPnR   Step = "pnr"
)

// Steps lists every flow step in order.
var Steps = []Step{StepSetup, StepSynth, StepPnR}

// ParseStep validates a step name.
func ParseStep(s string) (Step, error) {
	for _, step := range Steps {
		if string(step) == s {
			return step, nil
		}
	}

	return "", fmt.Errorf("unknown step %q (expected setup, synth or pnr)", s)
}

// Invocation is one vendor executable call.
type Invocation struct {
	Bin  string
	Args []string
}

// Stage describes how one tool performs one step.
type Stage struct {
	// Script is the generated TCL file name, written to the project root.
	Script   string
	template *template.Template
	// Commands run in order with the project as working directory.
	Commands []Invocation
	// Log is the file scanned for Success, relative to the project.
	Log     string
	Success string
	// Artifacts must exist after the commands ran, otherwise the tool is
	// assumed not to have run at all.
	Artifacts []string
}

// Tool is a vendor flow definition.
type Tool struct {
	Name  string
	Synth Stage
	PnR   Stage
	// Constraint is the clock constraint file written before each
	// implementation run.
	Constraint string
	// UtilizationLog is the area report produced by implementation, if the
	// tool writes one.
	UtilizationLog string
	Fmax           config.FmaxSearchConfig

	data func(b *config.Benchmark) ScriptData
}

// Names returns the supported tool names.
func Names() []string {
	names := []string{Vivado, Quartus}
	sort.Strings(names)

	return names
}

// NewTool returns the named tool configured from cfg.
func NewTool(name string, cfg config.ToolsConfig) (*Tool, error) {
	switch name {
	case Vivado:
		return NewVivado(cfg.Vivado), nil
	case Quartus:
		return NewQuartus(cfg.Quartus), nil
	default:
		return nil, fmt.Errorf("%w %q (expected one of %v)", ErrUnknownTool, name, Names())
	}
}

// NewVivado returns the Vivado flow.
func NewVivado(cfg config.VivadoConfig) *Tool {
	bin := cfg.Bin
	if bin == "" {
		bin = "vivado"
	}

	const (
		synthScript = "vivado_synth_script.tcl"
		pnrScript   = "vivado_pnr_script.tcl"
		constraint  = "vivado_constraints.xdc"
	)

	return &Tool{
		Name: Vivado,
		Synth: Stage{
			Script:    synthScript,
			template:  vivadoSynthTpl,
			Commands:  []Invocation{{Bin: bin, Args: []string{"-mode", "tcl", "-source", synthScript}}},
			Log:       "vivado.log",
			Success:   "synth_design completed successfully",
			Artifacts: []string{"autosynthxpr", "vivado.log"},
		},
		PnR: Stage{
			Script:    pnrScript,
			template:  vivadoPnRTpl,
			Commands:  []Invocation{{Bin: bin, Args: []string{"-mode", "tcl", "-source", pnrScript}}},
			Log:       "vivado.log",
			Success:   "All user specified timing constraints are met.",
			Artifacts: []string{"autoxpr", "vivado.log"},
		},
		Constraint:     constraint,
		UtilizationLog: filepath.Join("autoxpr", "util.log"),
		Fmax:           cfg.Fmax,
		data: func(b *config.Benchmark) ScriptData {
			return ScriptData{
				Benchmark:     b.Name,
				Top:           b.Top,
				Clock:         b.Clock,
				Part:          cfg.Part,
				ExtraCommands: b.VivadoCommands(),
				SynthArgs:     b.VivadoSynthArgs,
				Constraint:    constraint,
			}
		},
	}
}

// NewQuartus returns the Quartus flow.
func NewQuartus(cfg config.QuartusConfig) *Tool {
	bin := func(name string) string {
		if cfg.BinDir == "" {
			return name
		}

		return filepath.Join(cfg.BinDir, name)
	}

	const (
		synthScript = "quartus_synth_script.tcl"
		pnrScript   = "quartus_pnr_script.tcl"
		constraint  = "quartus_sdc.sdc"
		project     = "autoqpf"
	)

	return &Tool{
		Name: Quartus,
		Synth: Stage{
			Script:   synthScript,
			template: quartusSynthTpl,
			Commands: []Invocation{
				{Bin: bin("quartus_sh"), Args: []string{"-t", synthScript}},
				{Bin: bin("quartus_syn"), Args: []string{project}},
			},
			Log:       filepath.Join("output_files", "autoqpf.syn.rpt"),
			Success:   "Info: Successfully synthesized",
			Artifacts: []string{"autoqpf.qpf", "output_files"},
		},
		PnR: Stage{
			Script:   pnrScript,
			template: quartusPnRTpl,
			Commands: []Invocation{
				{Bin: bin("quartus_sh"), Args: []string{"-t", pnrScript}},
				{Bin: bin("quartus_fit"), Args: []string{project}},
				{Bin: bin("quartus_sta"), Args: []string{project}},
			},
			Log:       filepath.Join("output_files", "autoqpf.sta.rpt"),
			Success:   "Quartus Prime Timing Analyzer was successful. 0 errors, 0 warnings",
			Artifacts: []string{"output_files"},
		},
		Constraint: constraint,
		Fmax:       cfg.Fmax,
		data: func(b *config.Benchmark) ScriptData {
			return ScriptData{
				Benchmark:     b.Name,
				Top:           b.Top,
				Clock:         b.Clock,
				Device:        cfg.Device,
				Family:        cfg.Family,
				ExtraCommands: b.QuartusCommands(),
				Constraint:    constraint,
			}
		},
	}
}

// Stage returns the stage for a tool step.
func (t *Tool) Stage(step Step) (*Stage, error) {
	switch step {
	case StepSynth:
		return &t.Synth, nil
	case StepPnR:
		return &t.PnR, nil
	default:
		return nil, fmt.Errorf("step %s has no tool stage", step)
	}
}

// RenderScript renders the stage's TCL script for a benchmark.
func (t *Tool) RenderScript(step Step, b *config.Benchmark) ([]byte, error) {
	stage, err := t.Stage(step)
	if err != nil {
		return nil, err
	}

	if b.Top == "" {
		return nil, fmt.Errorf("benchmark %s has no top module", b.Name)
	}

	var buf bytes.Buffer
	if err := stage.template.Execute(&buf, t.data(b)); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", stage.Script, err)
	}

	return buf.Bytes(), nil
}

// RenderConstraint renders the clock constraint for a period in ns.
func (t *Tool) RenderConstraint(b *config.Benchmark, period float64) ([]byte, error) {
	if b.Clock == "" {
		return nil, fmt.Errorf("benchmark %s has no clock port", b.Name)
	}

	var buf bytes.Buffer
	if err := constraintTpl.Execute(&buf, struct {
		Clock  string
		Period string
	}{Clock: b.Clock, Period: FormatPeriod(period)}); err != nil {
		return nil, fmt.Errorf("rendering constraint: %w", err)
	}

	return buf.Bytes(), nil
}
