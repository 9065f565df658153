package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/ethpandaops/chronbench/pkg/fpga"
	"github.com/ethpandaops/chronbench/pkg/qor"
	"github.com/ethpandaops/chronbench/pkg/resultstore"
	"github.com/go-chi/chi/v5"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListBenchmarks lists the benchmark and tool pairs with results.
func (s *server) handleListBenchmarks(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListBenchmarks(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing benchmarks: " + err.Error()})

		return
	}

	if list == nil {
		list = []resultstore.BenchmarkSummary{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"benchmarks": list})
}

type commitResponse struct {
	Position           int       `json:"position"`
	SHA                string    `json:"sha"`
	SynthPassed        bool      `json:"synth_passed"`
	PnRPassed          bool      `json:"pnr_passed"`
	SynthSeconds       float64   `json:"synth_seconds"`
	PnRSeconds         float64   `json:"pnr_seconds"`
	AreaLUTs           *int      `json:"area_luts"`
	FmaxMHz            *float64  `json:"fmax_mhz"`
	FmaxUncertaintyMHz *float64  `json:"fmax_uncertainty_mhz"`
	Churn              *int      `json:"churn"`
	Fingerprint        string    `json:"fingerprint"`
	CollectedAt        time.Time `json:"collected_at"`
}

func toCommitResponse(row *resultstore.CommitResult) commitResponse {
	return commitResponse{
		Position:           row.Position,
		SHA:                row.SHA,
		SynthPassed:        row.SynthPassed,
		PnRPassed:          row.PnRPassed,
		SynthSeconds:       row.SynthSeconds,
		PnRSeconds:         row.PnRSeconds,
		AreaLUTs:           row.AreaLUTs,
		FmaxMHz:            row.FmaxMHz,
		FmaxUncertaintyMHz: row.FmaxUncertaintyMHz,
		Churn:              row.Churn,
		Fingerprint:        row.Fingerprint,
		CollectedAt:        row.CollectedAt,
	}
}

// loadCommits fetches the stored rows addressed by the request path and
// writes an error response when there are none.
func (s *server) loadCommits(
	w http.ResponseWriter, r *http.Request,
) (string, string, []resultstore.CommitResult, bool) {
	name := chi.URLParam(r, "name")
	tool := chi.URLParam(r, "tool")

	if !slices.Contains(fpga.Names(), tool) {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"unknown tool " + tool})

		return "", "", nil, false
	}

	rows, err := s.store.ListCommits(r.Context(), name, tool)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing commits: " + err.Error()})

		return "", "", nil, false
	}

	if len(rows) == 0 {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"no results for " + name + "/" + tool})

		return "", "", nil, false
	}

	return name, tool, rows, true
}

// handleListCommits returns the stored per-commit results.
func (s *server) handleListCommits(w http.ResponseWriter, r *http.Request) {
	name, tool, rows, ok := s.loadCommits(w, r)
	if !ok {
		return
	}

	commits := make([]commitResponse, 0, len(rows))
	for i := range rows {
		commits = append(commits, toCommitResponse(&rows[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"benchmark": name,
		"tool":      tool,
		"commits":   commits,
	})
}

// handleReport recomputes the QoR report from stored rows. The format
// query parameter selects json (default) or markdown.
func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format != "" && format != "json" && format != "markdown" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"unknown format " + format})

		return
	}

	name, tool, rows, ok := s.loadCommits(w, r)
	if !ok {
		return
	}

	report := qor.NewReport(name, tool, resultstore.ToQoR(rows))

	if format == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")

		if err := qor.WriteMarkdown(w, report); err != nil {
			s.log.WithError(err).Warn("Failed to write markdown report")
		}

		return
	}

	writeJSON(w, http.StatusOK, report)
}

// handleListRuns lists characterization runs, optionally of one benchmark.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context(), r.URL.Query().Get("benchmark"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing runs: " + err.Error()})

		return
	}

	if runs == nil {
		runs = []resultstore.Run{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleFileRequest serves a characterization artifact.
func (s *server) handleFileRequest(w http.ResponseWriter, r *http.Request) {
	filePath := chi.URLParam(r, "*")

	if err := s.localServer.ServeFile(w, r, filePath); err != nil {
		s.log.WithError(err).WithField("path", filePath).Debug("File not served")
		writeJSON(w, http.StatusNotFound, errorResponse{"file not found"})
	}
}
