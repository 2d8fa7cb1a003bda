package storage

import (
	"context"
	"fmt"

	"github.com/lucamihailescu/codescan/pkg/config"
)

// Factory hands out storage backend handles per the configured backend
// kind. Each pipeline worker opens one handle when it starts and releases
// it with Close when it finishes; handles are not reacquired per file. The
// factory owns the underlying pools.
type Factory struct {
	cfg    config.StorageConfig
	dbPool *config.DBPool
}

// NewFactory creates a factory for the given storage configuration.
func NewFactory(cfg config.StorageConfig) *Factory {
	return &Factory{
		cfg:    cfg,
		dbPool: config.NewDBPool(),
	}
}

// Open returns a backend handle. For the relational backend the handle
// shares the pooled *sql.DB; for the KV backend it shares the process-wide
// client pools.
func (f *Factory) Open(ctx context.Context) (Backend, error) {
	switch f.cfg.Backend {
	case config.BackendRedis:
		return NewRedisBackend(ctx, f.cfg.Redis)
	case config.BackendSQL:
		return NewSQLBackend(f.dbPool, &f.cfg.Database)
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", f.cfg.Backend)
	}
}

// HealthCheck opens a handle and pings the backend.
func (f *Factory) HealthCheck(ctx context.Context) bool {
	backend, err := f.Open(ctx)
	if err != nil {
		return false
	}
	defer backend.Close()
	return backend.HealthCheck(ctx)
}

// PoolStats reports relational pool statistics for diagnostics.
func (f *Factory) PoolStats() map[string]interface{} {
	stats := make(map[string]interface{})
	for dsn, s := range f.dbPool.Stats() {
		stats[dsn] = map[string]interface{}{
			"open":   s.OpenConnections,
			"in_use": s.InUse,
			"idle":   s.Idle,
			"max":    s.MaxOpenConnections,
			"waits":  s.WaitCount,
		}
	}
	return stats
}

// Shutdown tears down every pool. Called once during process teardown.
func (f *Factory) Shutdown() error {
	ShutdownRedisPools()
	return f.dbPool.Close()
}
