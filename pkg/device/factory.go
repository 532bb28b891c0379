package device

import (
	"fmt"

	"github.com/corpsec/device-trust/pkg/store"
)

// RepositoryConfig contains configuration for creating a device repository
type RepositoryConfig struct {
	// Store is required for sqlite repositories
	Store *store.Store
	// DB is required for PostgreSQL repositories (DBTX interface)
	DB DBTX
}

// NewRepository creates a device repository for the given persistence kind
func NewRepository(kind string, config RepositoryConfig) (Repository, error) {
	switch kind {
	case "sqlite":
		if config.Store == nil {
			return nil, fmt.Errorf("store required for sqlite repository")
		}
		return NewSqliteRepository(config.Store), nil
	case "postgres", "postgresql":
		if config.DB == nil {
			return nil, fmt.Errorf("db required for postgres repository")
		}
		return NewPostgresRepository(config.DB), nil
	case "inmem", "memory":
		return NewInMemRepository(), nil
	default:
		return nil, fmt.Errorf("unsupported persistence kind: %s (supported: sqlite, postgres, inmem)", kind)
	}
}
