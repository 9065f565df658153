package docker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"
)

const (
	// LabelManagedBy marks every container chronbench creates.
	LabelManagedBy = "chronbench.managed-by"
	// LabelProject records the characterization project a container serves.
	LabelProject = "chronbench.project"
	// LabelSession ties a container to the tool runner that created it.
	LabelSession = "chronbench.session"
)

// Manager handles Docker operations for tool containers.
type Manager interface {
	Start(ctx context.Context) error
	Stop() error

	// Container operations.
	CreateContainer(ctx context.Context, spec *ContainerSpec) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	RemoveContainer(ctx context.Context, containerID string) error

	// RunContainer creates, starts and waits for a container, streaming its
	// output, and returns the exit code. The container is always removed.
	RunContainer(ctx context.Context, spec *ContainerSpec, stdout, stderr io.Writer) (int64, error)

	// Log streaming.
	StreamLogs(ctx context.Context, containerID string, stdout, stderr io.Writer) error

	// Image operations.
	PullImage(ctx context.Context, imageName string, policy string) error
	GetImageDigest(ctx context.Context, imageName string) (string, error)

	// Cleanup operations.
	ListContainers(ctx context.Context) ([]ContainerInfo, error)
}

// ResourceLimits defines container resource constraints.
type ResourceLimits struct {
	CpusetCpus  string // Comma-separated CPU IDs (e.g., "0,1,2")
	MemoryBytes int64  // Memory limit in bytes
}

// ContainerSpec defines container configuration.
type ContainerSpec struct {
	Name           string
	Image          string
	Entrypoint     []string
	Command        []string
	Env            map[string]string
	Mounts         []Mount
	WorkingDir     string
	User           string
	Labels         map[string]string
	ResourceLimits *ResourceLimits
}

// Mount defines a volume mount.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
	Type     string // "bind", "volume", "tmpfs"
}

// ParseMount parses docker's short "src:dst[:ro]" bind mount syntax.
func ParseMount(s string) (Mount, error) {
	parts := strings.Split(s, ":")

	switch {
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		return Mount{Source: parts[0], Target: parts[1], Type: "bind"}, nil
	case len(parts) == 3 && parts[0] != "" && parts[1] != "" && (parts[2] == "ro" || parts[2] == "rw"):
		return Mount{Source: parts[0], Target: parts[1], Type: "bind", ReadOnly: parts[2] == "ro"}, nil
	default:
		return Mount{}, fmt.Errorf("invalid mount %q (expected src:dst[:ro])", s)
	}
}

// ContainerInfo contains information about a container for cleanup.
type ContainerInfo struct {
	ID     string
	Name   string
	Labels map[string]string
}

// NewManager creates a new Docker manager.
func NewManager(log logrus.FieldLogger) (Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	return &manager{
		log:    log.WithField("component", "docker"),
		client: cli,
	}, nil
}

type manager struct {
	log    logrus.FieldLogger
	client *client.Client
	wg     sync.WaitGroup
}

// Ensure interface compliance.
var _ Manager = (*manager)(nil)

// Start connects to the Docker daemon.
func (m *manager) Start(ctx context.Context) error {
	_, err := m.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("connecting to docker daemon: %w", err)
	}

	m.log.Debug("Connected to Docker daemon")

	return nil
}

// Stop waits for log streams and closes the client.
func (m *manager) Stop() error {
	m.wg.Wait()

	if err := m.client.Close(); err != nil {
		return fmt.Errorf("closing docker client: %w", err)
	}

	return nil
}

// CreateContainer creates a new container from the spec.
func (m *manager) CreateContainer(ctx context.Context, spec *ContainerSpec) (string, error) {
	log := m.log.WithField("container", spec.Name)

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	mounts := make([]mount.Mount, 0, len(spec.Mounts))

	for _, mnt := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.Type(mnt.Type),
			Source:   mnt.Source,
			Target:   mnt.Target,
			ReadOnly: mnt.ReadOnly,
		})
	}

	labels := make(map[string]string, len(spec.Labels)+1)
	for k, v := range spec.Labels {
		labels[k] = v
	}

	labels[LabelManagedBy] = "chronbench"

	user := spec.User
	if user == "" {
		user = "root"
	}

	containerCfg := &container.Config{
		Image:      spec.Image,
		User:       user,
		Env:        env,
		Labels:     labels,
		Entrypoint: spec.Entrypoint,
		Cmd:        spec.Command,
		WorkingDir: spec.WorkingDir,
	}

	hostCfg := &container.HostConfig{
		Mounts: mounts,
	}

	// Apply resource limits if configured.
	if spec.ResourceLimits != nil {
		hostCfg.CpusetCpus = spec.ResourceLimits.CpusetCpus
		hostCfg.Memory = spec.ResourceLimits.MemoryBytes
		// Same as Memory: no swap.
		hostCfg.MemorySwap = spec.ResourceLimits.MemoryBytes
	}

	resp, err := m.client.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}

	log.WithField("id", shortID(resp.ID)).Debug("Created container")

	return resp.ID, nil
}

// StartContainer starts a container.
func (m *manager) StartContainer(ctx context.Context, containerID string) error {
	if err := m.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting container %s: %w", shortID(containerID), err)
	}

	m.log.WithField("id", shortID(containerID)).Debug("Started container")

	return nil
}

// RemoveContainer removes a container.
func (m *manager) RemoveContainer(ctx context.Context, containerID string) error {
	if err := m.client.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	}); err != nil {
		return fmt.Errorf("removing container %s: %w", shortID(containerID), err)
	}

	m.log.WithField("id", shortID(containerID)).Debug("Removed container")

	return nil
}

// RunContainer runs a container to completion.
func (m *manager) RunContainer(ctx context.Context, spec *ContainerSpec, stdout, stderr io.Writer) (int64, error) {
	log := m.log.WithField("container", spec.Name)

	containerID, err := m.CreateContainer(ctx, spec)
	if err != nil {
		return -1, err
	}

	defer func() {
		if rmErr := m.RemoveContainer(context.Background(), containerID); rmErr != nil {
			log.WithError(rmErr).Warn("Failed to remove container")
		}
	}()

	// Wait before starting so a fast exit is not missed.
	statusCh, errCh := m.client.ContainerWait(ctx, containerID, container.WaitConditionNextExit)

	if err := m.StartContainer(ctx, containerID); err != nil {
		return -1, err
	}

	logsDone := make(chan struct{})

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer close(logsDone)

		if streamErr := m.StreamLogs(ctx, containerID, stdout, stderr); streamErr != nil {
			log.WithError(streamErr).Debug("Container log streaming ended")
		}
	}()

	var code int64

	select {
	case err := <-errCh:
		return -1, fmt.Errorf("waiting for container: %w", err)
	case status := <-statusCh:
		if status.Error != nil {
			return -1, fmt.Errorf("container wait: %s", status.Error.Message)
		}

		code = status.StatusCode
	case <-ctx.Done():
		return -1, ctx.Err()
	}

	// The log stream ends once the container stopped; drain it so callers
	// see the complete output.
	select {
	case <-logsDone:
	case <-ctx.Done():
		return -1, ctx.Err()
	}

	log.WithField("exit_code", code).Debug("Container exited")

	return code, nil
}

// StreamLogs streams container logs to the provided writers.
func (m *manager) StreamLogs(ctx context.Context, containerID string, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}

	if stderr == nil {
		stderr = stdout
	}

	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	}

	reader, err := m.client.ContainerLogs(ctx, containerID, opts)
	if err != nil {
		return fmt.Errorf("getting container logs: %w", err)
	}
	defer func() { _ = reader.Close() }()

	_, err = stdcopy.StdCopy(stdout, stderr, reader)
	if err != nil && err != io.EOF {
		return fmt.Errorf("copying logs: %w", err)
	}

	return nil
}

// PullImage pulls a Docker image.
func (m *manager) PullImage(ctx context.Context, imageName string, policy string) error {
	log := m.log.WithField("image", imageName)

	if policy == "never" {
		log.Debug("Skipping image pull (policy: never)")

		return nil
	}

	if policy == "if-not-present" {
		images, err := m.client.ImageList(ctx, image.ListOptions{
			Filters: filters.NewArgs(filters.Arg("reference", imageName)),
		})
		if err != nil {
			return fmt.Errorf("listing images: %w", err)
		}

		if len(images) > 0 {
			log.Debug("Image already exists (policy: if-not-present)")

			return nil
		}
	}

	log.Info("Pulling image")

	reader, err := m.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", imageName, err)
	}
	defer func() { _ = reader.Close() }()

	// Consume the pull output.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("reading pull response: %w", err)
	}

	log.Info("Image pulled successfully")

	return nil
}

// GetImageDigest returns the SHA256 digest of an image (just the "sha256:..." portion).
func (m *manager) GetImageDigest(ctx context.Context, imageName string) (string, error) {
	inspect, _, err := m.client.ImageInspectWithRaw(ctx, imageName)
	if err != nil {
		return "", fmt.Errorf("inspecting image: %w", err)
	}

	if len(inspect.RepoDigests) > 0 {
		return digestOf(inspect.RepoDigests[0]), nil
	}

	// Fallback to image ID (already in sha256:... format).
	return inspect.ID, nil
}

// ListContainers returns all containers managed by chronbench.
func (m *manager) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	containers, err := m.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", LabelManagedBy+"=chronbench"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	result := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}

		result = append(result, ContainerInfo{
			ID:     c.ID,
			Name:   name,
			Labels: c.Labels,
		})
	}

	return result, nil
}

// digestOf extracts "sha256:..." from a "repo@sha256:..." reference.
func digestOf(repoDigest string) string {
	if idx := strings.Index(repoDigest, "sha256:"); idx != -1 {
		return repoDigest[idx:]
	}

	return repoDigest
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}

	return id
}
