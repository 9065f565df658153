package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EnvVarOverrides(t *testing.T) {
	configContent := `
global:
  log_level: info
  workspace_dir: /tmp/original
  filter_repo_bin: /opt/git-filter-repo
characterize:
  projects_dir: ./original-projects
  workers: 2
results:
  database:
    driver: sqlite
    sqlite:
      path: ./original.db
`

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.Global.LogLevel)
				assert.Equal(t, "/tmp/original", cfg.Global.WorkspaceDir)
				assert.Equal(t, "/opt/git-filter-repo", cfg.Global.FilterRepoBin)
				assert.Equal(t, "./original-projects", cfg.Characterize.ProjectsDir)
				assert.Equal(t, 2, cfg.Characterize.Workers)
			},
		},
		{
			name: "string override - log_level",
			envVars: map[string]string{
				"CHRONBENCH_GLOBAL_LOG_LEVEL": "debug",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Global.LogLevel)
			},
		},
		{
			name: "int override - workers",
			envVars: map[string]string{
				"CHRONBENCH_CHARACTERIZE_WORKERS": "8",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8, cfg.Characterize.Workers)
			},
		},
		{
			name: "nested field override - sqlite path",
			envVars: map[string]string{
				"CHRONBENCH_RESULTS_DATABASE_SQLITE_PATH": "/var/lib/chronbench.db",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/var/lib/chronbench.db", cfg.Results.Database.SQLite.Path)
			},
		},
		{
			name: "override of key absent from file",
			envVars: map[string]string{
				"CHRONBENCH_TOOLS_VIVADO_PART": "xc7a200tfbg484-2",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "xc7a200tfbg484-2", cfg.Tools.Vivado.Part)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := Load(configPath)
			require.NoError(t, err)

			tt.validate(t, cfg)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultFilterRepoBin, cfg.Global.FilterRepoBin)
	assert.Equal(t, DefaultWorkers, cfg.Characterize.Workers)
	assert.Equal(t, DefaultRuntime, cfg.Characterize.Runtime)
	assert.Equal(t, "vivado", cfg.Tools.Vivado.Bin)
	assert.Equal(t, 5, cfg.Tools.Vivado.Fmax.Steps)
	assert.InDelta(t, 1.0, cfg.Tools.Vivado.Fmax.InitialPeriod, 1e-9)
	assert.Equal(t, 10, cfg.Tools.Quartus.Fmax.Steps)
	assert.InDelta(t, 6.0, cfg.Tools.Quartus.Fmax.InitialPeriod, 1e-9)
	assert.Equal(t, "sqlite", cfg.Results.Database.Driver)
	assert.True(t, cfg.API.Auth.AnonymousRead)

	require.NoError(t, cfg.Validate())
}

func TestLoad_MergesFiles(t *testing.T) {
	tmpDir := t.TempDir()

	base := filepath.Join(tmpDir, "base.yaml")
	require.NoError(t, os.WriteFile(base, []byte(`
global:
  log_level: warn
characterize:
  workers: 2
`), 0o644))

	override := filepath.Join(tmpDir, "override.yaml")
	require.NoError(t, os.WriteFile(override, []byte(`
characterize:
  workers: 6
`), 0o644))

	cfg, err := Load(base, override)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Global.LogLevel)
	assert.Equal(t, 6, cfg.Characterize.Workers)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)

		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(cfg *Config) {},
		},
		{
			name: "unknown runtime",
			mutate: func(cfg *Config) {
				cfg.Characterize.Runtime = "kubernetes"
			},
			wantErr: "unknown characterize.runtime",
		},
		{
			name: "docker runtime needs image",
			mutate: func(cfg *Config) {
				cfg.Characterize.Runtime = "docker"
			},
			wantErr: "characterize.docker.image is required",
		},
		{
			name: "docker runtime with bad memory",
			mutate: func(cfg *Config) {
				cfg.Characterize.Runtime = "docker"
				cfg.Characterize.Docker.Image = "xilinx/vivado:2023.2"
				cfg.Characterize.Docker.Memory = "lots"
			},
			wantErr: "invalid characterize.docker.memory",
		},
		{
			name: "docker runtime with bad pull policy",
			mutate: func(cfg *Config) {
				cfg.Characterize.Runtime = "docker"
				cfg.Characterize.Docker.Image = "xilinx/vivado:2023.2"
				cfg.Characterize.Docker.PullPolicy = "sometimes"
			},
			wantErr: "unknown characterize.docker.pull_policy",
		},
		{
			name: "docker runtime with memory limit",
			mutate: func(cfg *Config) {
				cfg.Characterize.Runtime = "docker"
				cfg.Characterize.Docker.Image = "xilinx/vivado:2023.2"
				cfg.Characterize.Docker.Memory = "32g"
			},
		},
		{
			name: "unsupported database driver",
			mutate: func(cfg *Config) {
				cfg.Results.Database.Driver = "mysql"
			},
			wantErr: "unsupported results database driver",
		},
		{
			name: "postgres needs host",
			mutate: func(cfg *Config) {
				cfg.Results.Database.Driver = "postgres"
			},
			wantErr: "postgres.host is required",
		},
		{
			name: "s3 upload needs bucket",
			mutate: func(cfg *Config) {
				cfg.Upload = &UploadConfig{S3: &S3UploadConfig{Enabled: true}}
			},
			wantErr: "upload.s3.bucket is required",
		},
		{
			name: "non-positive fmax period",
			mutate: func(cfg *Config) {
				cfg.Tools.Quartus.Fmax.InitialPeriod = 0
			},
			wantErr: "initial period must be positive",
		},
		{
			name: "auth required without users",
			mutate: func(cfg *Config) {
				cfg.API.Auth.AnonymousRead = false
			},
			wantErr: "no basic auth users",
		},
		{
			name: "duplicate api users",
			mutate: func(cfg *Config) {
				cfg.API.Auth.Basic = BasicAuthConfig{
					Enabled: true,
					Users: []BasicAuthUser{
						{Username: "ana", PasswordHash: "$2a$10$x"},
						{Username: "ana", PasswordHash: "$2a$10$y"},
					},
				}
			},
			wantErr: "duplicate username",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
