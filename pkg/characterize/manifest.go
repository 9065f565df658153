package characterize

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/chronbench/pkg/config"
	"github.com/ethpandaops/chronbench/pkg/fsutil"
	"github.com/ethpandaops/chronbench/pkg/gitrepo"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"
)

// ManifestFile is written at the root of every projects directory.
const ManifestFile = "manifest.json"

// Manifest records what a projects directory was created from.
type Manifest struct {
	Benchmark   string           `json:"benchmark"`
	Fingerprint string           `json:"fingerprint"`
	Tool        string           `json:"tool"`
	Branch      string           `json:"branch"`
	CreatedAt   time.Time        `json:"created_at"`
	Commits     []ManifestCommit `json:"commits"`
	Host        *HostInfo        `json:"host,omitempty"`
}

// ManifestCommit is one commit of the characterized history.
type ManifestCommit struct {
	Index   int       `json:"index"`
	SHA     string    `json:"sha"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
	Message string    `json:"message"`
}

// HostInfo describes the machine running characterization.
type HostInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	PhysicalCores   int    `json:"physical_cores"`
	LogicalCores    int    `json:"logical_cores"`
	MemoryTotal     uint64 `json:"memory_total"`
	MemoryHuman     string `json:"memory_human"`
}

// NewManifest builds the manifest for a benchmark history.
func NewManifest(ctx context.Context, b *config.Benchmark, tool string, commits []*gitrepo.CommitInfo) (*Manifest, error) {
	fp, err := b.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("fingerprinting benchmark: %w", err)
	}

	m := &Manifest{
		Benchmark:   b.Name,
		Fingerprint: fp,
		Tool:        tool,
		Branch:      b.Branch,
		CreatedAt:   time.Now().UTC(),
		Commits:     make([]ManifestCommit, 0, len(commits)),
	}

	for i, c := range commits {
		m.Commits = append(m.Commits, ManifestCommit{
			Index:   i,
			SHA:     c.SHA,
			Author:  c.AuthorName,
			When:    c.When.UTC(),
			Message: firstLine(c.Message),
		})
	}

	// Host details are informational only.
	if info, err := CollectHostInfo(ctx); err == nil {
		m.Host = info
	}

	return m, nil
}

// CollectHostInfo gathers host details.
func CollectHostInfo(ctx context.Context) (*HostInfo, error) {
	hi, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading host info: %w", err)
	}

	info := &HostInfo{
		Hostname:        hi.Hostname,
		OS:              hi.OS,
		Platform:        hi.Platform,
		PlatformVersion: hi.PlatformVersion,
		KernelVersion:   hi.KernelVersion,
	}

	if n, err := cpu.CountsWithContext(ctx, false); err == nil {
		info.PhysicalCores = n
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.LogicalCores = n
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryTotal = vm.Total
		info.MemoryHuman = units.BytesSize(float64(vm.Total))
	}

	return info, nil
}

// CheckWorkers warns when more workers are requested than the host has
// logical cores. Vendor tools are CPU bound, so oversubscription distorts
// the recorded runtimes.
func CheckWorkers(ctx context.Context, log logrus.FieldLogger, workers int) {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n == 0 {
		return
	}

	if workers > n {
		log.WithFields(logrus.Fields{
			"workers":       workers,
			"logical_cores": n,
		}).Warn("More workers than logical cores, tool runtimes will be inflated")
	}
}

// WriteManifest writes the manifest into dir.
func WriteManifest(dir string, m *Manifest, owner *fsutil.OwnerConfig) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}

	if err := fsutil.WriteFile(filepath.Join(dir, ManifestFile), data, 0644, owner); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	return nil
}

// ReadManifest reads the manifest of a projects directory.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	return &m, nil
}
