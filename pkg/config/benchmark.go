package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ErrUnknownBenchmark is returned when a benchmark name is not present in
// the descriptor file.
var ErrUnknownBenchmark = errors.New("unknown benchmark")

// Fields is a list of whitespace-separated values. In the descriptor file it
// may be written either as a single string or as a YAML sequence.
type Fields []string

// Indices is a list of whitespace-separated integers.
type Indices []int

// Benchmark is the parsed descriptor of a single chronbench benchmark.
type Benchmark struct {
	// Name is the section key and the working copy directory name.
	Name string `yaml:"-" mapstructure:"-"`

	URL        string  `yaml:"url" mapstructure:"url"`
	Start      string  `yaml:"start" mapstructure:"start"`
	Branch     string  `yaml:"branch" mapstructure:"branch"`
	Depth      int     `yaml:"depth" mapstructure:"depth"`
	Fileset    Fields  `yaml:"fileset" mapstructure:"fileset"`
	SquashList Indices `yaml:"squash-list" mapstructure:"squash-list"`

	Top   string `yaml:"top,omitempty" mapstructure:"top"`
	Clock string `yaml:"clock,omitempty" mapstructure:"clock"`

	VivadoExtraCommands  string `yaml:"vivado-extra-commands,omitempty" mapstructure:"vivado-extra-commands"`
	VivadoSynthArgs      string `yaml:"vivado-synth-args,omitempty" mapstructure:"vivado-synth-args"`
	QuartusExtraCommands string `yaml:"quartus-extra-commands,omitempty" mapstructure:"quartus-extra-commands"`
}

// Benchmarks maps benchmark names to their descriptors.
type Benchmarks map[string]*Benchmark

// LoadBenchmarks reads a benchmark descriptor file. Every top-level key is a
// benchmark name whose value is the benchmark's section.
func LoadBenchmarks(path string) (Benchmarks, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading benchmarks file: %w", err)
	}

	return ParseBenchmarks(data)
}

// ParseBenchmarks parses descriptor file contents.
func ParseBenchmarks(data []byte) (Benchmarks, error) {
	var raw map[string]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing benchmarks file: %w", err)
	}

	benchmarks := make(Benchmarks, len(raw))

	for name, section := range raw {
		b, err := decodeBenchmark(name, section)
		if err != nil {
			return nil, fmt.Errorf("benchmark %q: %w", name, err)
		}

		benchmarks[name] = b
	}

	return benchmarks, nil
}

// Get returns the named benchmark.
func (bs Benchmarks) Get(name string) (*Benchmark, error) {
	b, ok := bs[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownBenchmark, name, strings.Join(bs.Names(), ", "))
	}

	return b, nil
}

// Names returns the benchmark names in sorted order.
func (bs Benchmarks) Names() []string {
	names := make([]string, 0, len(bs))
	for name := range bs {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func decodeBenchmark(name string, section map[string]any) (*Benchmark, error) {
	b := &Benchmark{Name: name}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(fieldsHook, indicesHook),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           b,
	})
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	if err := decoder.Decode(section); err != nil {
		return nil, fmt.Errorf("decoding section: %w", err)
	}

	b.normalize()

	if err := b.Validate(); err != nil {
		return nil, err
	}

	return b, nil
}

var (
	fieldsType  = reflect.TypeOf(Fields{})
	indicesType = reflect.TypeOf(Indices{})
)

// fieldsHook splits a scalar string on whitespace when decoding into Fields.
func fieldsHook(from, to reflect.Type, data any) (any, error) {
	if to != fieldsType || from.Kind() != reflect.String {
		return data, nil
	}

	return strings.Fields(data.(string)), nil
}

// indicesHook parses a whitespace-separated string of integers.
func indicesHook(from, to reflect.Type, data any) (any, error) {
	if to != indicesType || from.Kind() != reflect.String {
		return data, nil
	}

	parts := strings.Fields(data.(string))
	out := make([]int, 0, len(parts))

	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid index %q: %w", p, err)
		}

		out = append(out, n)
	}

	return out, nil
}

// normalize removes duplicate fileset entries (keeping the first) and
// turns the squash list into a sorted set.
func (b *Benchmark) normalize() {
	seen := make(map[string]struct{}, len(b.Fileset))
	fileset := make(Fields, 0, len(b.Fileset))

	for _, f := range b.Fileset {
		if _, ok := seen[f]; ok {
			continue
		}

		seen[f] = struct{}{}
		fileset = append(fileset, f)
	}

	b.Fileset = fileset

	set := make(map[int]struct{}, len(b.SquashList))
	squash := make(Indices, 0, len(b.SquashList))

	for _, idx := range b.SquashList {
		if _, ok := set[idx]; ok {
			continue
		}

		set[idx] = struct{}{}
		squash = append(squash, idx)
	}

	sort.Ints(squash)
	b.SquashList = squash
}

// Validate checks the descriptor for structural errors. Squash indices are
// range-checked against the commit window by the history pipeline.
func (b *Benchmark) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("name is required")
	}

	if b.URL == "" {
		return fmt.Errorf("url is required")
	}

	if b.Start == "" {
		return fmt.Errorf("start is required")
	}

	if b.Branch == "" {
		return fmt.Errorf("branch is required")
	}

	if b.Depth < 1 {
		return fmt.Errorf("depth must be at least 1, got %d", b.Depth)
	}

	if len(b.Fileset) == 0 {
		return fmt.Errorf("fileset must list at least one path")
	}

	bases := make(map[string]string, len(b.Fileset))

	for _, f := range b.Fileset {
		if IsDirPattern(f) {
			if strings.Trim(f, "/") == "" {
				return fmt.Errorf("fileset entry %q names the repository root", f)
			}

			continue
		}

		base := FlattenedName(f)
		if base == "" || base == "." || base == "/" {
			return fmt.Errorf("fileset entry %q has no base name", f)
		}

		if prev, ok := bases[base]; ok {
			return fmt.Errorf("fileset entries %q and %q both flatten to %q", prev, f, base)
		}

		bases[base] = f
	}

	for _, idx := range b.SquashList {
		if idx < 0 {
			return fmt.Errorf("squash-list index %d is negative", idx)
		}
	}

	return nil
}

// IsDirPattern reports whether a fileset entry names a directory.
func IsDirPattern(pattern string) bool {
	return strings.HasSuffix(pattern, "/")
}

// FlattenedName returns the name a fileset entry is renamed to when the
// history is flattened. A directory entry maps to the empty name: its
// contents move to the top level.
func FlattenedName(pattern string) string {
	if IsDirPattern(pattern) {
		return ""
	}

	return path.Base(pattern)
}

// VivadoCommands returns the extra Vivado TCL commands, one per line.
func (b *Benchmark) VivadoCommands() []string {
	return splitLines(b.VivadoExtraCommands)
}

// QuartusCommands returns the extra Quartus TCL commands, one per line.
func (b *Benchmark) QuartusCommands() []string {
	return splitLines(b.QuartusExtraCommands)
}

// Fingerprint returns a stable BLAKE3 digest of the descriptor, used to tie
// characterization results to the exact benchmark definition.
func (b *Benchmark) Fingerprint() (string, error) {
	data, err := yaml.Marshal(struct {
		Name      string `yaml:"name"`
		Benchmark `yaml:",inline"`
	}{Name: b.Name, Benchmark: *b})
	if err != nil {
		return "", fmt.Errorf("marshaling benchmark: %w", err)
	}

	sum := blake3.Sum256(data)

	return hex.EncodeToString(sum[:16]), nil
}

func splitLines(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	out := make([]string, 0, len(lines))

	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}

	return out
}
