// Package characterize lays out per-commit FPGA characterization projects
// for a rewritten benchmark history and distributes them across workers.
package characterize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/ethpandaops/chronbench/pkg/config"
	"github.com/ethpandaops/chronbench/pkg/fsutil"
	"github.com/ethpandaops/chronbench/pkg/gitrepo"
	"github.com/sirupsen/logrus"
)

// SrcDir is the directory inside a project holding the exported sources.
const SrcDir = "src"

// ErrNoProjects is returned when a projects directory holds no project.
var ErrNoProjects = errors.New("no characterization projects")

var projectPattern = regexp.MustCompile(`^([0-9]+)_([0-9a-f]{40})$`)

// Project is one commit's characterization directory.
type Project struct {
	// Index is the commit's position from the tip, HEAD being 0.
	Index int    `json:"index"`
	SHA   string `json:"sha"`
	Dir   string `json:"dir"`
}

// Name returns the project directory name.
func (p Project) Name() string {
	return filepath.Base(p.Dir)
}

// Src returns the project's source directory.
func (p Project) Src() string {
	return filepath.Join(p.Dir, SrcDir)
}

// Root returns the projects directory of a benchmark and tool.
func Root(projectsDir, benchmark, tool string) string {
	return filepath.Join(projectsDir, fmt.Sprintf("%s_%s_char_projects", benchmark, tool))
}

// ProjectName returns the directory name for the commit at index among
// count commits. The index is zero-padded so names sort in history order.
func ProjectName(index, count int, sha string) string {
	width := len(strconv.Itoa(max(count-1, 0)))

	return fmt.Sprintf("%0*d_%s", width, index, sha)
}

// Setup prepares characterization projects under root, or enumerates the
// existing ones if root already exists.
type Setup struct {
	log   logrus.FieldLogger
	owner *fsutil.OwnerConfig
}

// NewSetup creates a project setup helper.
func NewSetup(log logrus.FieldLogger, owner *fsutil.OwnerConfig) *Setup {
	return &Setup{
		log:   log.WithField("component", "characterize"),
		owner: owner,
	}
}

// Prepare creates one project per commit of the working copy's branch,
// exporting every commit tree into the project's src directory. An
// existing root is reused as is.
func (s *Setup) Prepare(
	ctx context.Context,
	root, workingCopy string,
	b *config.Benchmark,
	tool string,
) ([]Project, error) {
	log := s.log.WithFields(logrus.Fields{
		"benchmark": b.Name,
		"tool":      tool,
	})

	if _, err := os.Stat(root); err == nil {
		log.WithField("root", root).Info("Projects directory exists, reusing projects")

		return Enumerate(root)
	}

	insp, err := gitrepo.Inspect(workingCopy)
	if err != nil {
		return nil, fmt.Errorf("working copy for %s: %w", b.Name, err)
	}

	commits, err := insp.History(b.Branch, 0)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}

	if len(commits) == 0 {
		return nil, fmt.Errorf("%w: branch %s has no commits", ErrNoProjects, b.Branch)
	}

	// Build into a temporary directory so an interrupted setup is not
	// mistaken for a complete one on the next run.
	tmp := root + ".partial"
	if err := os.RemoveAll(tmp); err != nil {
		return nil, fmt.Errorf("removing stale partial setup: %w", err)
	}

	if err := fsutil.MkdirAll(tmp, 0755, s.owner); err != nil {
		return nil, fmt.Errorf("creating projects directory: %w", err)
	}

	start := time.Now()
	projects := make([]Project, 0, len(commits))

	for i, c := range commits {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := ProjectName(i, len(commits), c.SHA)
		dir := filepath.Join(tmp, name)

		if err := insp.Export(c.SHA, filepath.Join(dir, SrcDir)); err != nil {
			return nil, fmt.Errorf("exporting %s: %w", c.SHA, err)
		}

		projects = append(projects, Project{
			Index: i,
			SHA:   c.SHA,
			Dir:   filepath.Join(root, name),
		})

		log.WithFields(logrus.Fields{
			"project": name,
			"message": firstLine(c.Message),
		}).Debug("Exported commit")
	}

	manifest, err := NewManifest(ctx, b, tool, commits)
	if err != nil {
		return nil, err
	}

	if err := WriteManifest(tmp, manifest, s.owner); err != nil {
		return nil, err
	}

	fsutil.ChownTree(tmp, s.owner)

	if err := os.Rename(tmp, root); err != nil {
		return nil, fmt.Errorf("finalizing projects directory: %w", err)
	}

	log.WithFields(logrus.Fields{
		"projects": len(projects),
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("Characterization projects created")

	return projects, nil
}

// Enumerate lists the projects under root ordered by index. Entries that
// do not look like projects are ignored.
func Enumerate(root string) ([]Project, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading projects directory: %w", err)
	}

	projects := make([]Project, 0, len(entries))

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		m := projectPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}

		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		projects = append(projects, Project{
			Index: idx,
			SHA:   m[2],
			Dir:   filepath.Join(root, e.Name()),
		})
	}

	if len(projects) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoProjects, root)
	}

	sort.Slice(projects, func(i, j int) bool {
		return projects[i].Index < projects[j].Index
	})

	return projects, nil
}

// Partition distributes projects round-robin over at most workers lists.
// Workers without projects are omitted.
func Partition(projects []Project, workers int) [][]Project {
	if workers < 1 {
		workers = 1
	}

	if workers > len(projects) {
		workers = len(projects)
	}

	out := make([][]Project, workers)
	for i, p := range projects {
		out[i%workers] = append(out[i%workers], p)
	}

	return out
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}

	return s
}
