package store

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CurrentSchemaVersion is the only version defined so far.
const CurrentSchemaVersion = 1

const metadataDDL = `CREATE TABLE IF NOT EXISTS metadata (
	schema_version INTEGER PRIMARY KEY
)`

var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS repos (
		id INTEGER PRIMARY KEY,
		repo TEXT NOT NULL,
		owner TEXT NOT NULL,
		UNIQUE(repo, owner)
	)`,
	`CREATE TABLE IF NOT EXISTS downloads (
		download_id INTEGER PRIMARY KEY,
		repo_id INTEGER,
		date TIMESTAMP NOT NULL,
		total_downloads INTEGER NOT NULL,
		unique_downloads INTEGER NOT NULL,
		FOREIGN KEY(repo_id) REFERENCES repos(id),
		UNIQUE(repo_id, date)
	)`,
}

// Bootstrap creates the schema when the stored version is missing or old.
// It converges on fresh, partially initialised and current files alike.
func (s *Store) Bootstrap(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.Exec(metadataDDL).Error; err != nil {
		return wrap("bootstrap", err)
	}
	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if version >= CurrentSchemaVersion {
		s.logger.Debug("schema up to date", zap.Int64("schema_version", version))
		return nil
	}

	s.logger.Info("initializing database", zap.Int("schema_version", CurrentSchemaVersion))
	err = db.Transaction(func(tx *gorm.DB) error {
		for _, ddl := range schemaV1 {
			if err := tx.Exec(ddl).Error; err != nil {
				return err
			}
		}
		return tx.Exec(`INSERT OR IGNORE INTO metadata(schema_version) VALUES (?)`, CurrentSchemaVersion).Error
	})
	return wrap("bootstrap", err)
}

// SchemaVersion returns the recorded schema version, 0 when none is stored.
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	var version int64
	err := s.db.WithContext(ctx).Raw(`SELECT COALESCE(MAX(schema_version), 0) FROM metadata`).Scan(&version).Error
	if err != nil {
		return 0, wrap("schema version", err)
	}
	return version, nil
}
