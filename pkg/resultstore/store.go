// Package resultstore persists QoR measurements and characterization runs
// in a SQL database.
package resultstore

import (
	"context"
	"fmt"

	"github.com/ethpandaops/chronbench/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store provides persistence for characterization results.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// ReplaceCommits stores the rows of a benchmark and tool, dropping rows
	// of commits that are no longer part of the history.
	ReplaceCommits(
		ctx context.Context, benchmark, tool string, rows []*CommitResult,
	) error
	ListCommits(
		ctx context.Context, benchmark, tool string,
	) ([]CommitResult, error)
	ListBenchmarks(ctx context.Context) ([]BenchmarkSummary, error)

	UpsertRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, benchmark string) ([]Run, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.DatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "resultstore"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dialector = postgres.Open(postgresDSN(&s.cfg.Postgres))
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return fmt.Errorf("opening results database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&CommitResult{},
		&Run{},
	); err != nil {
		return fmt.Errorf("running results migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Results database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// ReplaceCommits deletes the stored rows of a benchmark and tool and
// inserts rows in a single transaction.
func (s *store) ReplaceCommits(
	ctx context.Context, benchmark, tool string, rows []*CommitResult,
) error {
	const batchSize = 100

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("benchmark = ? AND tool = ?", benchmark, tool).
			Delete(&CommitResult{}).Error; err != nil {
			return fmt.Errorf("deleting commit results: %w", err)
		}

		if len(rows) == 0 {
			return nil
		}

		for _, row := range rows {
			if row.Benchmark != benchmark || row.Tool != tool {
				return fmt.Errorf("row %s belongs to %s/%s, not %s/%s",
					row.SHA, row.Benchmark, row.Tool, benchmark, tool)
			}
		}

		if err := tx.CreateInBatches(rows, batchSize).Error; err != nil {
			return fmt.Errorf("inserting commit results: %w", err)
		}

		return nil
	})
}

// ListCommits returns the rows of a benchmark and tool ordered newest first.
func (s *store) ListCommits(
	ctx context.Context, benchmark, tool string,
) ([]CommitResult, error) {
	var rows []CommitResult
	if err := s.db.WithContext(ctx).
		Where("benchmark = ? AND tool = ?", benchmark, tool).
		Order("position ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing commit results: %w", err)
	}

	return rows, nil
}

// ListBenchmarks returns every benchmark and tool pair with stored rows.
func (s *store) ListBenchmarks(ctx context.Context) ([]BenchmarkSummary, error) {
	var out []BenchmarkSummary
	if err := s.db.WithContext(ctx).
		Model(&CommitResult{}).
		Select("benchmark, tool, count(*) AS commits").
		Group("benchmark, tool").
		Order("benchmark, tool").
		Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("listing benchmarks: %w", err)
	}

	return out, nil
}

// UpsertRun inserts or updates a run record keyed by run_id.
func (s *store) UpsertRun(ctx context.Context, run *Run) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			UpdateAll: true,
		}).
		Create(run).Error
	if err != nil {
		return fmt.Errorf("upserting run: %w", err)
	}

	return nil
}

// ListRuns returns the runs of a benchmark, latest first. An empty
// benchmark lists all runs.
func (s *store) ListRuns(ctx context.Context, benchmark string) ([]Run, error) {
	q := s.db.WithContext(ctx)
	if benchmark != "" {
		q = q.Where("benchmark = ?", benchmark)
	}

	var runs []Run
	if err := q.Order("started_at DESC").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

func postgresDSN(cfg *config.PostgresConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		sslMode,
	)
}
