package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/ethpandaops/chronbench/pkg/config"
	"github.com/ethpandaops/chronbench/pkg/fpga"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// WorkDir is where the project directory is mounted inside tool containers.
const WorkDir = "/work"

// ToolRunner runs vendor tools inside throwaway containers, one per
// invocation, with the project bind-mounted as working directory.
type ToolRunner struct {
	log     logrus.FieldLogger
	manager Manager
	image   string
	env     map[string]string
	mounts  []Mount
	limits  *ResourceLimits
	user    string
	session string
}

// Ensure interface compliance.
var _ fpga.ToolRunner = (*ToolRunner)(nil)

// NewToolRunner builds a runner from the docker runtime configuration.
func NewToolRunner(log logrus.FieldLogger, manager Manager, cfg config.DockerRuntime, user string) (*ToolRunner, error) {
	mounts := make([]Mount, 0, len(cfg.Mounts))

	for _, s := range cfg.Mounts {
		m, err := ParseMount(s)
		if err != nil {
			return nil, err
		}

		mounts = append(mounts, m)
	}

	var limits *ResourceLimits

	if cfg.Memory != "" {
		bytes, err := units.RAMInBytes(cfg.Memory)
		if err != nil {
			return nil, fmt.Errorf("parsing memory limit: %w", err)
		}

		limits = &ResourceLimits{MemoryBytes: bytes}
	}

	return &ToolRunner{
		log:     log.WithField("component", "docker-runtime"),
		manager: manager,
		image:   cfg.Image,
		env:     cfg.Env,
		mounts:  mounts,
		limits:  limits,
		user:    user,
		session: uuid.New().String(),
	}, nil
}

// Session returns the label value identifying this runner's containers.
func (r *ToolRunner) Session() string {
	return r.session
}

// ImageDigest returns the digest of the tool image.
func (r *ToolRunner) ImageDigest(ctx context.Context) (string, error) {
	return r.manager.GetImageDigest(ctx, r.image)
}

// RemoveLeftovers removes containers of this runner that survived their
// invocation, as happens when a run is interrupted. It returns the number
// of containers removed.
func (r *ToolRunner) RemoveLeftovers(ctx context.Context) (int, error) {
	containers, err := r.manager.ListContainers(ctx)
	if err != nil {
		return 0, err
	}

	var (
		removed int
		errs    []error
	)

	for _, c := range containers {
		if c.Labels[LabelSession] != r.session {
			continue
		}

		if err := r.manager.RemoveContainer(ctx, c.ID); err != nil {
			errs = append(errs, fmt.Errorf("removing %s: %w", c.Name, err))

			continue
		}

		r.log.WithField("container", c.Name).Info("Removed leftover container")

		removed++
	}

	return removed, errors.Join(errs...)
}

// Spec returns the container spec for one tool invocation.
func (r *ToolRunner) Spec(dir, bin string, args []string) (*ContainerSpec, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving project dir: %w", err)
	}

	mounts := make([]Mount, 0, len(r.mounts)+1)
	mounts = append(mounts, Mount{Source: abs, Target: WorkDir, Type: "bind"})
	mounts = append(mounts, r.mounts...)

	project := filepath.Base(abs)

	return &ContainerSpec{
		Name:           fmt.Sprintf("chronbench-%s-%s", project, uuid.New().String()[:8]),
		Image:          r.image,
		Entrypoint:     []string{bin},
		Command:        args,
		Env:            r.env,
		Mounts:         mounts,
		WorkingDir:     WorkDir,
		User:           r.user,
		Labels:         map[string]string{LabelProject: project, LabelSession: r.session},
		ResourceLimits: r.limits,
	}, nil
}

// RunTool implements fpga.ToolRunner.
func (r *ToolRunner) RunTool(ctx context.Context, dir, bin string, args []string, out io.Writer) (int, error) {
	spec, err := r.Spec(dir, bin, args)
	if err != nil {
		return -1, err
	}

	r.log.WithFields(logrus.Fields{
		"container": spec.Name,
		"bin":       bin,
	}).Debug("Running tool in container")

	code, err := r.manager.RunContainer(ctx, spec, out, out)
	if err != nil {
		return -1, fmt.Errorf("running %s in container: %w", bin, err)
	}

	return int(code), nil
}
