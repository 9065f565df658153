package qor

import (
	"math"
	"sort"
	"time"
)

// Delta is the change between a commit and its parent in the
// characterized history. Fields are nil when either side lacks the
// measurement.
type Delta struct {
	// Index is the newer commit's index.
	Index int `json:"index"`
	// Source is the newer commit's line churn.
	Source    *int     `json:"source,omitempty"`
	Area      *int     `json:"area,omitempty"`
	FmaxMid   *float64 `json:"fmax_mid,omitempty"`
	FmaxRange *float64 `json:"fmax_range,omitempty"`
}

// Stats summarizes a sample.
type Stats struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Median float64 `json:"median"`
}

// Summary aggregates the deltas of a benchmark.
type Summary struct {
	Area    *Stats `json:"area,omitempty"`
	Source  *Stats `json:"source,omitempty"`
	FmaxMid *Stats `json:"fmax_mid,omitempty"`
	// Correlation is the Pearson coefficient of source and area changes.
	Correlation *float64 `json:"source_area_correlation,omitempty"`
}

// Report is the QoR report of one benchmark and tool.
type Report struct {
	Benchmark   string      `json:"benchmark"`
	Tool        string      `json:"tool"`
	GeneratedAt time.Time   `json:"generated_at"`
	Commits     []CommitQoR `json:"commits"`
	Deltas      []Delta     `json:"deltas"`
	Summary     Summary     `json:"summary"`
}

// NewReport derives deltas and summary statistics from per-commit rows.
func NewReport(benchmark, tool string, commits []CommitQoR) *Report {
	rows := append([]CommitQoR(nil), commits...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Index < rows[j].Index })

	deltas := Deltas(rows)

	return &Report{
		Benchmark:   benchmark,
		Tool:        tool,
		GeneratedAt: time.Now().UTC(),
		Commits:     rows,
		Deltas:      deltas,
		Summary:     Summarize(deltas),
	}
}

// Deltas compares each commit with the next older one. rows must be
// ordered newest first.
func Deltas(rows []CommitQoR) []Delta {
	if len(rows) < 2 {
		return nil
	}

	out := make([]Delta, 0, len(rows)-1)

	for i := 0; i < len(rows)-1; i++ {
		cur, prev := rows[i], rows[i+1]
		d := Delta{Index: cur.Index, Source: cur.Churn}

		if cur.AreaLUTs != nil && prev.AreaLUTs != nil {
			v := abs(*cur.AreaLUTs - *prev.AreaLUTs)
			d.Area = &v
		}

		if cur.Fmax != nil && prev.Fmax != nil {
			mid := math.Abs(cur.Fmax.Mid - prev.Fmax.Mid)
			rng := math.Abs(cur.Fmax.Uncertainty - prev.Fmax.Uncertainty)
			d.FmaxMid = &mid
			d.FmaxRange = &rng
		}

		out = append(out, d)
	}

	return out
}

// Summarize computes sample statistics over the available deltas.
func Summarize(deltas []Delta) Summary {
	var (
		area, source, fmax []float64
		pairSrc, pairArea  []float64
	)

	for _, d := range deltas {
		if d.Area != nil {
			area = append(area, float64(*d.Area))
		}

		if d.Source != nil {
			source = append(source, float64(*d.Source))
		}

		if d.FmaxMid != nil {
			fmax = append(fmax, *d.FmaxMid)
		}

		if d.Area != nil && d.Source != nil {
			pairSrc = append(pairSrc, float64(*d.Source))
			pairArea = append(pairArea, float64(*d.Area))
		}
	}

	s := Summary{
		Area:    Describe(area),
		Source:  Describe(source),
		FmaxMid: Describe(fmax),
	}

	if r, ok := Correlation(pairSrc, pairArea); ok {
		s.Correlation = &r
	}

	return s
}

// Describe returns the mean, population standard deviation and median of
// xs, or nil for an empty sample.
func Describe(xs []float64) *Stats {
	if len(xs) == 0 {
		return nil
	}

	mean := Mean(xs)

	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}

	return &Stats{
		N:      len(xs),
		Mean:   mean,
		Std:    math.Sqrt(ss / float64(len(xs))),
		Median: Median(xs),
	}
}

// Mean returns the arithmetic mean of xs.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}

	var sum float64
	for _, x := range xs {
		sum += x
	}

	return sum / float64(len(xs))
}

// Median returns the median of xs without modifying it.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}

	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}

	return (sorted[mid-1] + sorted[mid]) / 2
}

// Correlation returns the Pearson correlation coefficient of x and y. It
// is undefined for fewer than two pairs or a constant sample.
func Correlation(x, y []float64) (float64, bool) {
	if len(x) != len(y) || len(x) < 2 {
		return 0, false
	}

	mx, my := Mean(x), Mean(y)

	var sxy, sxx, syy float64

	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}

	if sxx == 0 || syy == 0 {
		return 0, false
	}

	return sxy / math.Sqrt(sxx*syy), true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}

	return n
}
