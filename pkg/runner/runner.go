package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/chronbench/pkg/characterize"
	"github.com/ethpandaops/chronbench/pkg/config"
	"github.com/ethpandaops/chronbench/pkg/docker"
	"github.com/ethpandaops/chronbench/pkg/fpga"
	"github.com/ethpandaops/chronbench/pkg/fsutil"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ReportFile is the run report written next to the projects.
const ReportFile = "chronbench_report.json"

// cleanupTimeout bounds the removal of leftover containers on Stop.
const cleanupTimeout = 30 * time.Second

// Runner orchestrates characterization runs.
type Runner interface {
	Start(ctx context.Context) error
	Stop() error

	// Run prepares the projects of a benchmark and runs the flow up to
	// step on all of them.
	Run(ctx context.Context, b *config.Benchmark, step fpga.Step) (*Report, error)

	// ToolRunner returns the tool runtime selected by Start.
	ToolRunner() fpga.ToolRunner
}

// Config for the runner.
type Config struct {
	ProjectsDir  string
	WorkspaceDir string
	Workers      int
	// ToolLogsToStdout mirrors tool output to stdout, prefixed per project.
	ToolLogsToStdout bool
	Owner            *fsutil.OwnerConfig
	// Docker is set when tools run inside containers.
	Docker *config.DockerRuntime
	// ToolRunner, when set, replaces the runtime selected by Docker.
	ToolRunner fpga.ToolRunner
}

// Report summarizes a characterization run.
type Report struct {
	RunID     string             `json:"run_id"`
	Benchmark string             `json:"benchmark"`
	Tool      string             `json:"tool"`
	Step      fpga.Step          `json:"step"`
	Workers   int                `json:"workers"`
	StartedAt time.Time          `json:"started_at"`
	Duration  time.Duration      `json:"duration"`
	Projects  int                `json:"projects"`
	Results   []*fpga.StepResult `json:"results"`
	// Image and ImageDigest identify the tool image of containerized runs.
	Image       string `json:"image,omitempty"`
	ImageDigest string `json:"image_digest,omitempty"`
}

// Passed counts results of a step that passed.
func (r *Report) Passed(step fpga.Step) int {
	n := 0

	for _, res := range r.Results {
		if res.Step == step && res.Passed {
			n++
		}
	}

	return n
}

// NewRunner creates a new runner for a tool. dockerMgr may be nil when
// tools run locally.
func NewRunner(
	log logrus.FieldLogger,
	cfg *Config,
	tool *fpga.Tool,
	dockerMgr docker.Manager,
) Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	return &runner{
		log:    log.WithFields(logrus.Fields{"component": "runner", "tool": tool.Name}),
		cfg:    cfg,
		tool:   tool,
		docker: dockerMgr,
		setup:  characterize.NewSetup(log, cfg.Owner),
	}
}

type runner struct {
	log    logrus.FieldLogger
	cfg    *Config
	tool   *fpga.Tool
	docker docker.Manager
	setup  *characterize.Setup
	tools  fpga.ToolRunner
	stdout sync.Mutex

	containers  *docker.ToolRunner
	imageDigest string
}

// Ensure interface compliance.
var _ Runner = (*runner)(nil)

// Start prepares the tool runtime.
func (r *runner) Start(ctx context.Context) error {
	if err := fsutil.MkdirAll(r.cfg.ProjectsDir, 0755, r.cfg.Owner); err != nil {
		return fmt.Errorf("creating projects directory: %w", err)
	}

	if r.cfg.ToolRunner != nil {
		r.tools = r.cfg.ToolRunner

		return nil
	}

	if r.cfg.Docker == nil {
		r.tools = &fpga.LocalRunner{}
		r.log.Debug("Runner started with local tools")

		return nil
	}

	if r.docker == nil {
		return fmt.Errorf("docker runtime configured without a docker manager")
	}

	if err := r.docker.Start(ctx); err != nil {
		return err
	}

	if err := r.docker.PullImage(ctx, r.cfg.Docker.Image, r.cfg.Docker.PullPolicy); err != nil {
		return fmt.Errorf("pulling image: %w", err)
	}

	tools, err := docker.NewToolRunner(r.log, r.docker, *r.cfg.Docker, r.cfg.Owner.String())
	if err != nil {
		return err
	}

	r.tools = tools
	r.containers = tools

	digest, err := tools.ImageDigest(ctx)
	if err != nil {
		r.log.WithError(err).Warn("Could not resolve tool image digest")
	} else {
		r.imageDigest = digest
	}

	r.log.WithFields(logrus.Fields{
		"image":  r.cfg.Docker.Image,
		"digest": r.imageDigest,
	}).Debug("Runner started with containerized tools")

	return nil
}

// ToolRunner implements Runner.
func (r *runner) ToolRunner() fpga.ToolRunner {
	return r.tools
}

// Stop cleans up the runner.
func (r *runner) Stop() error {
	if r.containers != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		n, err := r.containers.RemoveLeftovers(ctx)

		cancel()

		if err != nil {
			r.log.WithError(err).Warn("Failed to remove leftover containers")
		} else if n > 0 {
			r.log.WithField("containers", n).Info("Removed leftover containers")
		}
	}

	if r.docker != nil && r.cfg.Docker != nil && r.cfg.ToolRunner == nil {
		if err := r.docker.Stop(); err != nil {
			return err
		}
	}

	r.log.Debug("Runner stopped")

	return nil
}

// Run implements Runner. Synthesis runs on every project before
// implementation starts on any of them.
func (r *runner) Run(ctx context.Context, b *config.Benchmark, step fpga.Step) (*Report, error) {
	if r.tools == nil {
		return nil, fmt.Errorf("runner not started")
	}

	report := &Report{
		RunID:     uuid.New().String(),
		Benchmark: b.Name,
		Tool:      r.tool.Name,
		Step:      step,
		Workers:   r.cfg.Workers,
		StartedAt: time.Now().UTC(),
	}

	if r.containers != nil {
		report.Image = r.cfg.Docker.Image
		report.ImageDigest = r.imageDigest
	}

	log := r.log.WithFields(logrus.Fields{
		"benchmark": b.Name,
		"run_id":    report.RunID,
	})

	root := characterize.Root(r.cfg.ProjectsDir, b.Name, r.tool.Name)
	workingCopy := filepath.Join(r.cfg.WorkspaceDir, b.Name)

	projects, err := r.setup.Prepare(ctx, root, workingCopy, b, r.tool.Name)
	if err != nil {
		return nil, fmt.Errorf("setting up projects: %w", err)
	}

	report.Projects = len(projects)

	characterize.CheckWorkers(ctx, log, r.cfg.Workers)

	var phases []fpga.Step

	switch step {
	case fpga.StepSetup:
	case fpga.StepSynth:
		phases = []fpga.Step{fpga.StepSynth}
	case fpga.StepPnR:
		phases = []fpga.Step{fpga.StepSynth, fpga.StepPnR}
	default:
		return nil, fmt.Errorf("unknown step %q", step)
	}

	flow := fpga.NewFlow(log, r.tool, r.tools)

	for _, phase := range phases {
		start := time.Now()

		results, err := r.runPhase(ctx, log, flow, b, projects, phase)
		report.Results = append(report.Results, results...)

		if err != nil {
			report.Duration = time.Since(report.StartedAt)
			err = fmt.Errorf("%s phase: %w", phase, err)

			if werr := r.writeReport(root, report); werr != nil {
				err = errors.Join(err, werr)
			}

			fsutil.ChownTree(root, r.cfg.Owner)

			return report, err
		}

		log.WithFields(logrus.Fields{
			"step":     phase,
			"passed":   report.Passed(phase),
			"projects": len(projects),
			"duration": units.HumanDuration(time.Since(start)),
		}).Info("Phase completed")
	}

	report.Duration = time.Since(report.StartedAt)

	if err := r.writeReport(root, report); err != nil {
		return report, err
	}

	fsutil.ChownTree(root, r.cfg.Owner)

	return report, nil
}

// runPhase runs one step over all projects, each worker walking its
// round-robin share sequentially. A failing project does not stop the
// other workers; the errors of all workers are joined.
func (r *runner) runPhase(
	ctx context.Context,
	log logrus.FieldLogger,
	flow *fpga.Flow,
	b *config.Benchmark,
	projects []characterize.Project,
	step fpga.Step,
) ([]*fpga.StepResult, error) {
	parts := characterize.Partition(projects, r.cfg.Workers)

	var (
		mu      sync.Mutex
		results []*fpga.StepResult
		g       errgroup.Group
	)

	errs := make([]error, len(parts))

	for w, part := range parts {
		g.Go(func() error {
			wlog := log.WithFields(logrus.Fields{"worker": w, "step": step})
			wlog.WithField("projects", len(part)).Debug("Worker started")

			var werrs []error

			for _, p := range part {
				if err := ctx.Err(); err != nil {
					werrs = append(werrs, err)

					break
				}

				f, tee := flow, (*prefixedWriter)(nil)
				if r.cfg.ToolLogsToStdout {
					f, tee = r.teeFlow(flow, p)
				}

				res, err := f.Run(ctx, p.Dir, b, step)

				if tee != nil {
					_ = tee.Flush()
				}

				if err != nil {
					wlog.WithError(err).WithField("project", p.Name()).Error("Project failed")
					werrs = append(werrs, fmt.Errorf("project %s: %w", p.Name(), err))

					continue
				}

				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}

			errs[w] = errors.Join(werrs...)

			return nil
		})
	}

	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Project < results[j].Project
	})

	return results, errors.Join(errs...)
}

// teeFlow returns a copy of flow mirroring tool output to stdout, and the
// writer to flush once the project is done.
func (r *runner) teeFlow(flow *fpga.Flow, p characterize.Project) (*fpga.Flow, *prefixedWriter) {
	w := &prefixedWriter{
		prefix: fmt.Sprintf("[%d] ", p.Index),
		writer: &lockedWriter{mu: &r.stdout, w: os.Stdout},
	}

	tee := *flow
	tee.Tee = w

	return &tee, w
}

func (r *runner) writeReport(root string, report *Report) error {
	data, err := marshalReport(report)
	if err != nil {
		return err
	}

	if err := fsutil.WriteFile(filepath.Join(root, ReportFile), data, 0644, r.cfg.Owner); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	return nil
}

// prefixedWriter prefixes each complete line with a string.
type prefixedWriter struct {
	prefix string
	writer io.Writer
	buf    []byte
}

func (w *prefixedWriter) Write(p []byte) (n int, err error) {
	n = len(p)
	w.buf = append(w.buf, p...)

	for {
		idx := -1

		for i, b := range w.buf {
			if b == '\n' {
				idx = i

				break
			}
		}

		if idx == -1 {
			break
		}

		line := w.buf[:idx+1]
		w.buf = w.buf[idx+1:]

		if _, err := fmt.Fprintf(w.writer, "%s%s", w.prefix, line); err != nil {
			return n, err
		}
	}

	return n, nil
}

// Flush writes a trailing partial line, terminated with a newline.
func (w *prefixedWriter) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}

	line := w.buf
	w.buf = nil

	_, err := fmt.Fprintf(w.writer, "%s%s\n", w.prefix, line)

	return err
}

// lockedWriter serializes writes from concurrent workers.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.w.Write(p)
}
