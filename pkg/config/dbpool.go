package config

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DBPool manages shared database connection pools keyed by DSN.
// SQLite databases are pinned to a single connection: in-memory databases
// vanish when their connection closes, and file databases only support one
// writer at a time.
type DBPool struct {
	mu    sync.Mutex
	pools map[string]*sql.DB
}

// NewDBPool creates a new database pool manager.
func NewDBPool() *DBPool {
	return &DBPool{
		pools: make(map[string]*sql.DB),
	}
}

// Get returns a database handle for the given config. The same DSN always
// yields the same underlying pool.
func (p *DBPool) Get(cfg *DatabaseConfig) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	dsn := cfg.DSN()

	if db, ok := p.pools[dsn]; ok {
		return db, nil
	}

	db, err := p.createPool(cfg)
	if err != nil {
		return nil, err
	}

	p.pools[dsn] = db
	return db, nil
}

func (p *DBPool) createPool(cfg *DatabaseConfig) (*sql.DB, error) {
	driverName := cfg.DriverName()
	dsn := cfg.DSN()

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driverName == "sqlite3" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		slog.Debug("SQLite: using single connection mode", "in_memory", cfg.InMemory())
	} else {
		if cfg.PoolSize > 0 {
			db.SetMaxOpenConns(cfg.PoolSize + cfg.MaxOverflow)
		}
		db.SetMaxIdleConns(cfg.PoolSize)
	}
	db.SetConnMaxLifetime(cfg.PoolRecycle)

	if cfg.PrePing {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.PoolTimeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	}

	if driverName == "sqlite3" && !cfg.InMemory() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.PoolTimeout)
		defer cancel()

		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			slog.Warn("Failed to enable WAL mode", "error", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=10000"); err != nil {
			slog.Warn("Failed to set busy timeout", "error", err)
		}
	}

	return db, nil
}

// Stats returns per-DSN pool statistics for diagnostics.
func (p *DBPool) Stats() map[string]sql.DBStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make(map[string]sql.DBStats, len(p.pools))
	for dsn, db := range p.pools {
		stats[dsn] = db.Stats()
	}
	return stats
}

// Close closes all database connections.
func (p *DBPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for dsn, db := range p.pools {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", dsn, err))
		}
	}
	p.pools = make(map[string]*sql.DB)

	if len(errs) > 0 {
		return fmt.Errorf("errors closing pools: %v", errs)
	}
	return nil
}
