package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultWorkspaceDir is where working copies are cloned.
	DefaultWorkspaceDir = "."

	// DefaultBenchmarksFile is the default benchmark descriptor file.
	DefaultBenchmarksFile = "benchmarks.yaml"

	// DefaultFilterRepoBin is the default history rewrite engine executable.
	DefaultFilterRepoBin = "git-filter-repo"

	// DefaultProjectsDir is the default directory for characterization projects.
	DefaultProjectsDir = "./projects"

	// DefaultWorkers is the default number of characterization workers.
	DefaultWorkers = 1

	// DefaultRuntime is the default tool runtime.
	DefaultRuntime = "local"

	// DefaultDatabaseDriver is the default results database driver.
	DefaultDatabaseDriver = "sqlite"

	// DefaultSQLitePath is the default results database file.
	DefaultSQLitePath = "./chronbench.db"

	// DefaultAPIListen is the default API listen address.
	DefaultAPIListen = ":9090"

	// envPrefix is the prefix for environment variable overrides.
	envPrefix = "CHRONBENCH"
)

// Config is the root configuration for chronbench.
type Config struct {
	Global       GlobalConfig       `yaml:"global" mapstructure:"global"`
	Characterize CharacterizeConfig `yaml:"characterize" mapstructure:"characterize"`
	Tools        ToolsConfig        `yaml:"tools" mapstructure:"tools"`
	Results      ResultsConfig      `yaml:"results" mapstructure:"results"`
	Upload       *UploadConfig      `yaml:"upload,omitempty" mapstructure:"upload"`
	API          APIConfig          `yaml:"api" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel       string `yaml:"log_level" mapstructure:"log_level"`
	WorkspaceDir   string `yaml:"workspace_dir" mapstructure:"workspace_dir"`
	BenchmarksFile string `yaml:"benchmarks_file" mapstructure:"benchmarks_file"`
	FilterRepoBin  string `yaml:"filter_repo_bin" mapstructure:"filter_repo_bin"`
	ResultsOwner   string `yaml:"results_owner,omitempty" mapstructure:"results_owner"`
}

// CharacterizeConfig contains characterization project settings.
type CharacterizeConfig struct {
	ProjectsDir string        `yaml:"projects_dir" mapstructure:"projects_dir"`
	Workers     int           `yaml:"workers" mapstructure:"workers"`
	Runtime     string        `yaml:"runtime" mapstructure:"runtime"`
	Docker      DockerRuntime `yaml:"docker,omitempty" mapstructure:"docker"`
}

// DockerRuntime configures running FPGA tools inside a container.
type DockerRuntime struct {
	Image string `yaml:"image" mapstructure:"image"`
	// PullPolicy is one of always, if-not-present or never.
	PullPolicy string            `yaml:"pull_policy,omitempty" mapstructure:"pull_policy"`
	Memory     string            `yaml:"memory,omitempty" mapstructure:"memory"`
	Env        map[string]string `yaml:"env,omitempty" mapstructure:"env"`
	// Mounts are extra bind mounts in docker's "src:dst[:ro]" form, typically
	// the vendor tool installation.
	Mounts []string `yaml:"mounts,omitempty" mapstructure:"mounts"`
}

// ToolsConfig contains per-tool settings.
type ToolsConfig struct {
	Vivado  VivadoConfig  `yaml:"vivado" mapstructure:"vivado"`
	Quartus QuartusConfig `yaml:"quartus" mapstructure:"quartus"`
}

// FmaxSearchConfig tunes the iterative clock period search.
type FmaxSearchConfig struct {
	Steps         int     `yaml:"steps" mapstructure:"steps"`
	InitialPeriod float64 `yaml:"initial_period_ns" mapstructure:"initial_period_ns"`
}

// VivadoConfig configures the Vivado flow.
type VivadoConfig struct {
	Bin  string           `yaml:"bin" mapstructure:"bin"`
	Part string           `yaml:"part" mapstructure:"part"`
	Fmax FmaxSearchConfig `yaml:"fmax" mapstructure:"fmax"`
}

// QuartusConfig configures the Quartus flow.
type QuartusConfig struct {
	BinDir string           `yaml:"bin_dir,omitempty" mapstructure:"bin_dir"`
	Device string           `yaml:"device" mapstructure:"device"`
	Family string           `yaml:"family" mapstructure:"family"`
	Fmax   FmaxSearchConfig `yaml:"fmax" mapstructure:"fmax"`
}

// ResultsConfig configures the results database.
type ResultsConfig struct {
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// UploadConfig contains result upload settings.
type UploadConfig struct {
	S3 *S3UploadConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3UploadConfig contains S3-compatible storage settings.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// Load reads and merges one or more configuration files. Later files
// override earlier ones and CHRONBENCH_* environment variables override
// both. With no paths, defaults and environment variables are used.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for i, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if i == 0 {
			err = v.ReadConfig(f)
		} else {
			err = v.MergeConfig(f)
		}

		_ = f.Close()

		if err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers every scalar key so that environment overrides
// apply even when a key is absent from the config files.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)
	v.SetDefault("global.workspace_dir", DefaultWorkspaceDir)
	v.SetDefault("global.benchmarks_file", DefaultBenchmarksFile)
	v.SetDefault("global.filter_repo_bin", DefaultFilterRepoBin)
	v.SetDefault("global.results_owner", "")

	v.SetDefault("characterize.projects_dir", DefaultProjectsDir)
	v.SetDefault("characterize.workers", DefaultWorkers)
	v.SetDefault("characterize.runtime", DefaultRuntime)
	v.SetDefault("characterize.docker.image", "")
	v.SetDefault("characterize.docker.memory", "")

	v.SetDefault("tools.vivado.bin", "vivado")
	v.SetDefault("tools.vivado.part", "xcvu3p-ffvc1517-3-e")
	v.SetDefault("tools.vivado.fmax.steps", 5)
	v.SetDefault("tools.vivado.fmax.initial_period_ns", 1.0)
	v.SetDefault("tools.quartus.bin_dir", "")
	v.SetDefault("tools.quartus.device", "10AS016E3F27E1HG")
	v.SetDefault("tools.quartus.family", "Arria 10")
	v.SetDefault("tools.quartus.fmax.steps", 10)
	v.SetDefault("tools.quartus.fmax.initial_period_ns", 6.0)

	v.SetDefault("results.database.driver", DefaultDatabaseDriver)
	v.SetDefault("results.database.sqlite.path", DefaultSQLitePath)
	v.SetDefault("results.database.postgres.host", "")
	v.SetDefault("results.database.postgres.port", 5432)
	v.SetDefault("results.database.postgres.user", "")
	v.SetDefault("results.database.postgres.password", "")
	v.SetDefault("results.database.postgres.database", "")
	v.SetDefault("results.database.postgres.ssl_mode", "disable")

	v.SetDefault("api.server.listen", DefaultAPIListen)
	v.SetDefault("api.server.rate_limit.enabled", false)
	v.SetDefault("api.server.rate_limit.requests_per_minute", 120)
	v.SetDefault("api.auth.anonymous_read", true)
}

// applyDefaults fills values viper cannot express, such as zero values
// explicitly written to a config file.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Global.WorkspaceDir == "" {
		c.Global.WorkspaceDir = DefaultWorkspaceDir
	}

	if c.Global.BenchmarksFile == "" {
		c.Global.BenchmarksFile = DefaultBenchmarksFile
	}

	if c.Global.FilterRepoBin == "" {
		c.Global.FilterRepoBin = DefaultFilterRepoBin
	}

	if c.Characterize.ProjectsDir == "" {
		c.Characterize.ProjectsDir = DefaultProjectsDir
	}

	if c.Characterize.Workers < 1 {
		c.Characterize.Workers = DefaultWorkers
	}

	if c.Characterize.Runtime == "" {
		c.Characterize.Runtime = DefaultRuntime
	}

	if c.Characterize.Docker.PullPolicy == "" {
		c.Characterize.Docker.PullPolicy = "if-not-present"
	}

	if c.Results.Database.Driver == "" {
		c.Results.Database.Driver = DefaultDatabaseDriver
	}

	if c.API.Server.Listen == "" {
		c.API.Server.Listen = DefaultAPIListen
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Characterize.Runtime {
	case "local":
	case "docker":
		if c.Characterize.Docker.Image == "" {
			return fmt.Errorf("characterize.docker.image is required for the docker runtime")
		}

		switch c.Characterize.Docker.PullPolicy {
		case "", "always", "if-not-present", "never":
		default:
			return fmt.Errorf("unknown characterize.docker.pull_policy %q", c.Characterize.Docker.PullPolicy)
		}

		if c.Characterize.Docker.Memory != "" {
			if _, err := units.RAMInBytes(c.Characterize.Docker.Memory); err != nil {
				return fmt.Errorf("invalid characterize.docker.memory: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown characterize.runtime %q (expected local or docker)", c.Characterize.Runtime)
	}

	switch c.Results.Database.Driver {
	case "sqlite":
		if c.Results.Database.SQLite.Path == "" {
			return fmt.Errorf("results.database.sqlite.path is required")
		}
	case "postgres":
		if c.Results.Database.Postgres.Host == "" {
			return fmt.Errorf("results.database.postgres.host is required")
		}
	default:
		return fmt.Errorf("unsupported results database driver %q", c.Results.Database.Driver)
	}

	if c.Tools.Vivado.Fmax.Steps < 1 || c.Tools.Quartus.Fmax.Steps < 1 {
		return fmt.Errorf("fmax search steps must be at least 1")
	}

	if c.Tools.Vivado.Fmax.InitialPeriod <= 0 || c.Tools.Quartus.Fmax.InitialPeriod <= 0 {
		return fmt.Errorf("fmax initial period must be positive")
	}

	if c.Upload != nil && c.Upload.S3 != nil && c.Upload.S3.Enabled && c.Upload.S3.Bucket == "" {
		return fmt.Errorf("upload.s3.bucket is required when S3 upload is enabled")
	}

	dir := filepath.Dir(filepath.Clean(c.Characterize.ProjectsDir))
	if dir != "." && dir != ".." {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return fmt.Errorf("projects directory parent %q does not exist", dir)
		}
	}

	return c.API.validate()
}

// WorkingCopyPath returns the on-disk location of a benchmark's working copy.
func (c *Config) WorkingCopyPath(name string) string {
	return filepath.Join(c.Global.WorkspaceDir, name)
}
