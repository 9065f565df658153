package fpga

import "text/template"

// ScriptData is the template binding for every generated TCL script.
type ScriptData struct {
	Benchmark     string
	Top           string
	Clock         string
	Part          string
	Device        string
	Family        string
	ExtraCommands []string
	SynthArgs     string
	Constraint    string
}

var (
	// Vivado synthesis, run from the project directory.
	vivadoSynthTpl = template.Must(template.New("vivado_synth").Parse(
		`# GENERATED FILE, DO NOT EDIT
# Benchmark: "{{.Benchmark}}"
set outputdir autosynthxpr
set project autosynth
set partnumber {{.Part}}
file mkdir $outputdir
create_project -force -part $partnumber $project $outputdir
{{- range .ExtraCommands}}
{{.}}
{{- end}}
add_files src
set synth_args {{"{"}}{{.SynthArgs}}{{"}"}}
catch {synth_design -top {{.Top}} {*}$synth_args}
exit
`))

	// Vivado implementation. Re-synthesizes in a separate project so the
	// synthesis artifacts stay untouched between fmax guesses.
	vivadoPnRTpl = template.Must(template.New("vivado_pnr").Parse(
		`# GENERATED FILE, DO NOT EDIT
# Benchmark: "{{.Benchmark}}"
set outputdir autoxpr
set project autopnr
set partnumber {{.Part}}
file mkdir $outputdir
create_project -force -part $partnumber $project $outputdir
{{- range .ExtraCommands}}
{{.}}
{{- end}}
add_files src
read_xdc {{"{"}}{{.Constraint}}{{"}"}}
set synth_args {{"{"}}{{.SynthArgs}}{{"}"}}
if {[catch {synth_design -top {{.Top}} {*}$synth_args}]} { exit 1 }
opt_design
place_design
route_design
report_utilization -file $outputdir/util.log
report_timing_summary -file $outputdir/timing.log
report_timing_summary
exit
`))

	// Quartus project creation. Synthesis itself runs through quartus_syn.
	quartusSynthTpl = template.Must(template.New("quartus_synth").Parse(
		`# GENERATED FILE, DO NOT EDIT
# Benchmark: "{{.Benchmark}}"
project_new autoqpf -overwrite
set_global_assignment -name TOP_LEVEL_ENTITY {{.Top}}
set_global_assignment -name DEVICE {{.Device}}
set_global_assignment -name FAMILY "{{.Family}}"
set_global_assignment -name PROJECT_OUTPUT_DIRECTORY output_files
{{- range .ExtraCommands}}
{{.}}
{{- end}}
set sources [glob src/*]
foreach src $sources {
    set ext [file extension $src]
    switch $ext {
        .v -
        .vh {set filetype VERILOG_FILE}
        .sv -
        .svh {set filetype SYSTEMVERILOG_FILE}
        .vhd -
        .vhdl {set filetype VHDL_FILE}
        default {continue}
    }
    set_global_assignment -name $filetype $src
}
project_close
`))

	// Quartus fit preparation: attach the clock constraint.
	quartusPnRTpl = template.Must(template.New("quartus_pnr").Parse(
		`# GENERATED FILE, DO NOT EDIT
# Benchmark: "{{.Benchmark}}"
project_open autoqpf
set_global_assignment -name SDC_FILE {{.Constraint}}
project_close
`))

	// Clock constraint, valid as both SDC and XDC.
	constraintTpl = template.Must(template.New("constraint").Parse(
		`create_clock -name {{.Clock}} -period {{.Period}} [get_ports {{.Clock}}]
`))
)
