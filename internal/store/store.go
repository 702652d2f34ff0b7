// Package store persists repositories and their daily clone counters in an
// embedded SQLite file. Every write is idempotent: re-ingesting a sample never
// lowers a stored counter and never adds a second row for the same day.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/naka-gawa/clone-traffic/internal/domain"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// DayLayout is the canonical text form of a day key: UTC, second precision.
const DayLayout = "2006-01-02T15:04:05Z"

// StoreError is the single error kind surfaced by the store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Repository is a row of the repos table.
type Repository struct {
	ID    int64  `gorm:"column:id;primaryKey"`
	Repo  string `gorm:"column:repo"`
	Owner string `gorm:"column:owner"`
}

func (Repository) TableName() string { return "repos" }

// Download is a row of the downloads table.
type Download struct {
	DownloadID      int64  `gorm:"column:download_id;primaryKey"`
	RepoID          int64  `gorm:"column:repo_id"`
	Date            string `gorm:"column:date"`
	TotalDownloads  int64  `gorm:"column:total_downloads"`
	UniqueDownloads int64  `gorm:"column:unique_downloads"`
}

func (Download) TableName() string { return "downloads" }

// Store owns the database handle for the lifetime of a run.
type Store struct {
	db     *gorm.DB
	ids    *cache.Cache
	logger *zap.Logger
}

// Open opens (creating if absent) the SQLite file at path with foreign keys enforced.
// ":memory:" gives a private in-memory database.
func Open(path string, logger *zap.Logger) (*Store, error) {
	stdLog, err := zap.NewStdLogAt(logger.Named("sql"), zapcore.DebugLevel)
	if err != nil {
		return nil, wrap("open", err)
	}
	level := gormlogger.Warn
	if logger.Core().Enabled(zapcore.DebugLevel) {
		level = gormlogger.Info
	}
	db, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=on"), &gorm.Config{
		Logger: gormlogger.New(stdLog, gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, wrap("open", fmt.Errorf("%s: %w", path, err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, wrap("open", err)
	}
	// One connection: the run has a single writer, and ":memory:" is per-connection.
	sqlDB.SetMaxOpenConns(1)

	return &Store{
		db:     db,
		ids:    cache.New(cache.NoExpiration, 0),
		logger: logger,
	}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return wrap("close", err)
	}
	return wrap("close", sqlDB.Close())
}

// NormalizeDay renders t as the canonical day key so that equal instants always map to the same row.
func NormalizeDay(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(DayLayout)
}

// EnsureRepository returns the id of (owner, repo), inserting the row first when it is unknown.
func (s *Store) EnsureRepository(ctx context.Context, owner, repo string) (int64, error) {
	key := owner + "\x00" + repo
	if id, ok := s.ids.Get(key); ok {
		return id.(int64), nil
	}

	var row Repository
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&Repository{Repo: repo, Owner: owner}).Error; err != nil {
			return err
		}
		return tx.Where("repo = ? AND owner = ?", repo, owner).Take(&row).Error
	})
	if err != nil {
		return 0, wrap("ensure repository", fmt.Errorf("%s/%s: %w", owner, repo, err))
	}

	s.ids.Set(key, row.ID, cache.NoExpiration)
	return row.ID, nil
}

// MergeSample upserts the (repoID, day) counters, keeping the larger value of each column.
func (s *Store) MergeSample(ctx context.Context, repoID int64, sample domain.DailySample) error {
	rec := Download{
		RepoID:          repoID,
		Date:            NormalizeDay(sample.Timestamp),
		TotalDownloads:  sample.Count,
		UniqueDownloads: sample.Uniques,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "repo_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_downloads":  gorm.Expr("MAX(total_downloads, excluded.total_downloads)"),
			"unique_downloads": gorm.Expr("MAX(unique_downloads, excluded.unique_downloads)"),
		}),
	}).Create(&rec).Error
	if err != nil {
		return wrap("merge sample", fmt.Errorf("repo %d day %s: %w", repoID, rec.Date, err))
	}
	return nil
}

// Downloads lists the stored records of one repository ordered by day.
func (s *Store) Downloads(ctx context.Context, repoID int64) ([]domain.DownloadRecord, error) {
	var rows []Download
	// CAST keeps the driver from turning the TIMESTAMP column into time.Time.
	err := s.db.WithContext(ctx).Raw(
		`SELECT download_id, repo_id, CAST(date AS TEXT) AS date, total_downloads, unique_downloads
		   FROM downloads WHERE repo_id = ? ORDER BY date`, repoID).
		Scan(&rows).Error
	if err != nil {
		return nil, wrap("list downloads", err)
	}
	records := make([]domain.DownloadRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, domain.DownloadRecord{
			RepoID:          r.RepoID,
			Date:            r.Date,
			TotalDownloads:  r.TotalDownloads,
			UniqueDownloads: r.UniqueDownloads,
		})
	}
	return records, nil
}

// RepositoryCount returns the number of known repositories.
func (s *Store) RepositoryCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Repository{}).Count(&n).Error; err != nil {
		return 0, wrap("count repositories", err)
	}
	return n, nil
}
