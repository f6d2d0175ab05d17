package migration

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/muchaco/council/config"
)

// NewMigratorFromConfig builds a migrator for cfg.Database.
func NewMigratorFromConfig(cfg *config.Config, logger *zap.Logger) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Database, logger)
}

// NewMigratorFromDatabaseConfig builds a migrator from the database section.
// sqlite 与 sqlite3 共用一套迁移文件，Name 即文件路径。
func NewMigratorFromDatabaseConfig(db config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	if db.Driver == "memory" {
		return nil, errors.New("memory store has no schema to migrate")
	}
	dbType, err := ParseDatabaseType(db.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	sslMode := ""
	if dbType == DatabaseTypePostgres {
		sslMode = db.SSLMode
	}
	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  BuildDatabaseURL(dbType, db.Host, db.Port, db.Name, db.User, db.Password, sslMode),
		Logger:       logger,
	})
}

// NewMigratorFromURL creates a migrator from a raw URL
func NewMigratorFromURL(dbType, dbURL string, logger *zap.Logger) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{DatabaseType: dt, DatabaseURL: dbURL, Logger: logger})
}
