package persistence

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StoreConfig selects the backend.
type StoreConfig struct {
	Type StoreType `json:"type" yaml:"type"`
	// AutoMigrate creates tables through gorm instead of the SQL migrations.
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate"`
}

// DefaultStoreConfig returns the gorm backend without auto migration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{Type: StoreTypeGorm}
}

// NewStore creates a Store based on the configuration. db is required for
// the gorm backend and ignored for memory.
func NewStore(ctx context.Context, config StoreConfig, db *gorm.DB, logger *zap.Logger) (Store, error) {
	switch config.Type {
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeGorm, "":
		if db == nil {
			return nil, fmt.Errorf("gorm store requires a database handle")
		}
		s := NewGormStore(db, logger)
		if config.AutoMigrate {
			if err := s.AutoMigrate(ctx); err != nil {
				return nil, err
			}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// MustNewStore creates a Store or panics on error.
//
// WARNING: This function should ONLY be used during application initialization.
func MustNewStore(ctx context.Context, config StoreConfig, db *gorm.DB, logger *zap.Logger) Store {
	store, err := NewStore(ctx, config, db, logger)
	if err != nil {
		panic(fmt.Sprintf("failed to create store: %v", err))
	}
	return store
}
