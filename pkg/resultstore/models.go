package resultstore

import "time"

// CommitResult is the QoR measurement of one commit of a benchmark history,
// characterized with one tool.
type CommitResult struct {
	ID        uint   `gorm:"primaryKey"`
	Benchmark string `gorm:"not null;uniqueIndex:idx_commit_results_bench_tool_sha"`
	Tool      string `gorm:"not null;uniqueIndex:idx_commit_results_bench_tool_sha"`
	SHA       string `gorm:"not null;uniqueIndex:idx_commit_results_bench_tool_sha"`
	// Position is the newest-first index of the commit, HEAD being 0.
	Position int `gorm:"index"`

	SynthPassed  bool
	PnRPassed    bool
	SynthSeconds float64
	PnRSeconds   float64

	// Nullable measurements. nil means the artifact was missing.
	AreaLUTs           *int
	FmaxMHz            *float64
	FmaxUncertaintyMHz *float64
	Churn              *int

	// Fmax search guesses serialized as JSON.
	GuessesJSON string `gorm:"type:text"`

	// Fingerprint of the benchmark descriptor the history was built from.
	Fingerprint string
	CollectedAt time.Time
}

// Run is one characterization run of a benchmark.
type Run struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	RunID           string    `gorm:"not null;uniqueIndex" json:"run_id"`
	Benchmark       string    `gorm:"not null;index" json:"benchmark"`
	Tool            string    `json:"tool"`
	Step            string    `json:"step"`
	Workers         int       `json:"workers"`
	Projects        int       `json:"projects"`
	SynthPassed     int       `json:"synth_passed"`
	PnRPassed       int       `json:"pnr_passed"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	ImageDigest     string    `json:"image_digest,omitempty"`
}

// BenchmarkSummary lists a benchmark and tool pair with stored results.
type BenchmarkSummary struct {
	Benchmark string `json:"benchmark"`
	Tool      string `json:"tool"`
	Commits   int64  `json:"commits"`
}
