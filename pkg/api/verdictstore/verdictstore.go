// Package verdictstore persists indexed triage batches and their verdicts
// in a relational database for the HTTP API.
package verdictstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/solverops/simtriage/pkg/config"
)

// Store provides persistence for the indexed triage data.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	UpsertBatch(ctx context.Context, batch *Batch) error
	GetBatch(ctx context.Context, runID string) (*Batch, error)
	ListBatches(ctx context.Context) ([]Batch, error)
	ListBatchRunIDs(ctx context.Context, discoveryPath string) ([]string, error)
	ListIncompleteBatchRunIDs(
		ctx context.Context, discoveryPath string,
	) ([]string, error)

	ReplaceVerdicts(
		ctx context.Context,
		discoveryPath, batchRunID string,
		verdicts []*Verdict,
	) error
	ListVerdicts(
		ctx context.Context, batchRunID string, filter VerdictFilter,
	) ([]Verdict, error)

	Summary(ctx context.Context) (*Summary, error)
}

// VerdictFilter narrows ListVerdicts results. The zero value matches all
// verdicts of the batch.
type VerdictFilter struct {
	Severity    string
	FlaggedOnly bool
}

// Summary is the aggregate severity tally across all indexed batches.
type Summary struct {
	Batches int64 `json:"batches"`
	Records int64 `json:"records"`
	Pass    int64 `json:"pass"`
	Warning int64 `json:"warning"`
	Fail    int64 `json:"fail"`
	Flagged int64 `json:"flagged"`
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.APIDatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new verdict Store backed by the configured database
// driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.APIDatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "verdictstore"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case config.DatabaseDriverSQLite:
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case config.DatabaseDriverPostgres:
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening verdict database: %w", err)
	}

	if s.cfg.Driver == config.DatabaseDriverSQLite {
		sqlDB, dbErr := db.DB()
		if dbErr != nil {
			return fmt.Errorf("getting database handle: %w", dbErr)
		}

		// SQLite gets a single connection: every open of ":memory:"
		// creates a fresh database, and one writer at a time avoids
		// BUSY errors.
		sqlDB.SetMaxOpenConns(1)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Batch{},
		&Verdict{},
	); err != nil {
		return fmt.Errorf("running verdict migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).
		Info("Verdict database connected")

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

// UpsertBatch inserts or updates a batch keyed by discovery_path + run_id.
// Updates replace every column so re-indexing can fill in a summary that
// appeared after the first pass.
func (s *store) UpsertBatch(ctx context.Context, batch *Batch) error {
	var existing Batch

	err := s.db.WithContext(ctx).
		Where("discovery_path = ? AND run_id = ?",
			batch.DiscoveryPath, batch.RunID).
		First(&existing).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(batch).Error; err != nil {
			return fmt.Errorf("creating batch: %w", err)
		}
	case err != nil:
		return fmt.Errorf("finding batch: %w", err)
	default:
		batch.ID = existing.ID
		if err := s.db.WithContext(ctx).Save(batch).Error; err != nil {
			return fmt.Errorf("updating batch: %w", err)
		}
	}

	return nil
}

// GetBatch returns the batch with the given run ID, or (nil, nil) when no
// such batch is indexed.
func (s *store) GetBatch(ctx context.Context, runID string) (*Batch, error) {
	var batch Batch

	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		First(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("getting batch: %w", err)
	}

	return &batch, nil
}

// ListBatches returns all batches across all discovery paths ordered by
// timestamp, newest first.
func (s *store) ListBatches(ctx context.Context) ([]Batch, error) {
	var batches []Batch
	if err := s.db.WithContext(ctx).
		Order("timestamp DESC").
		Find(&batches).Error; err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}

	return batches, nil
}

// ListBatchRunIDs returns just the batch run IDs for a discovery path.
func (s *store) ListBatchRunIDs(
	ctx context.Context, discoveryPath string,
) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&Batch{}).
		Where("discovery_path = ?", discoveryPath).
		Pluck("run_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing batch run ids: %w", err)
	}

	return ids, nil
}

// ListIncompleteBatchRunIDs returns batch run IDs indexed without a
// summary. These are re-read on later passes in case the summary was
// still being written when first seen.
func (s *store) ListIncompleteBatchRunIDs(
	ctx context.Context, discoveryPath string,
) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&Batch{}).
		Where("discovery_path = ? AND has_summary = ?", discoveryPath, false).
		Pluck("run_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing incomplete batch run ids: %w", err)
	}

	return ids, nil
}

// ReplaceVerdicts atomically replaces all verdicts of a batch run. The
// delete-then-insert keeps re-indexing idempotent without per-row upsert
// round-trips.
func (s *store) ReplaceVerdicts(
	ctx context.Context,
	discoveryPath, batchRunID string,
	verdicts []*Verdict,
) error {
	const batchSize = 100

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("discovery_path = ? AND batch_run_id = ?",
				discoveryPath, batchRunID).
			Delete(&Verdict{}).Error; err != nil {
			return fmt.Errorf("deleting stale verdicts: %w", err)
		}

		for i := 0; i < len(verdicts); i += batchSize {
			end := i + batchSize
			if end > len(verdicts) {
				end = len(verdicts)
			}

			batch := verdicts[i:end]

			if err := tx.CreateInBatches(batch, len(batch)).Error; err != nil {
				return fmt.Errorf("bulk inserting verdicts: %w", err)
			}
		}

		return nil
	})
}

// ListVerdicts returns the verdicts of a batch run in insertion order,
// optionally filtered by severity and flagged state.
func (s *store) ListVerdicts(
	ctx context.Context, batchRunID string, filter VerdictFilter,
) ([]Verdict, error) {
	q := s.db.WithContext(ctx).
		Where("batch_run_id = ?", batchRunID)

	if filter.Severity != "" {
		q = q.Where("severity = ?", filter.Severity)
	}

	if filter.FlaggedOnly {
		q = q.Where("flagged = ?", true)
	}

	var verdicts []Verdict
	if err := q.Order("id ASC").Find(&verdicts).Error; err != nil {
		return nil, fmt.Errorf("listing verdicts: %w", err)
	}

	return verdicts, nil
}

// Summary aggregates the severity tallies of all indexed batches.
func (s *store) Summary(ctx context.Context) (*Summary, error) {
	var row struct {
		Batches      int64
		Records      int64
		PassCount    int64
		WarningCount int64
		FailCount    int64
		FlaggedCount int64
	}

	if err := s.db.WithContext(ctx).
		Model(&Batch{}).
		Select("COUNT(*) AS batches, " +
			"COALESCE(SUM(records), 0) AS records, " +
			"COALESCE(SUM(pass_count), 0) AS pass_count, " +
			"COALESCE(SUM(warning_count), 0) AS warning_count, " +
			"COALESCE(SUM(fail_count), 0) AS fail_count, " +
			"COALESCE(SUM(flagged_count), 0) AS flagged_count").
		Scan(&row).Error; err != nil {
		return nil, fmt.Errorf("aggregating summary: %w", err)
	}

	return &Summary{
		Batches: row.Batches,
		Records: row.Records,
		Pass:    row.PassCount,
		Warning: row.WarningCount,
		Fail:    row.FailCount,
		Flagged: row.FlaggedCount,
	}, nil
}
