package config

import (
	"fmt"
	"strconv"
	"time"
)

// StorageBackendKind selects the concrete store implementation.
type StorageBackendKind string

const (
	BackendSQL   StorageBackendKind = "sqlite"
	BackendRedis StorageBackendKind = "redis"
)

// ThreadingConfig controls pipeline parallelism.
type ThreadingConfig struct {
	Enabled    bool
	MaxWorkers int // bound [1, 32]
	BatchSize  int // parsed and persisted; the pipelines do not read it
}

// SetDefaults fills zero values and clamps MaxWorkers to [1, 32].
func (c *ThreadingConfig) SetDefaults() {
	if c.MaxWorkers == 0 {
		c.MaxWorkers = 4
	}
	if c.MaxWorkers < 1 {
		c.MaxWorkers = 1
	}
	if c.MaxWorkers > 32 {
		c.MaxWorkers = 32
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
}

// RedisPoolConfig tunes the shared Redis connection pools.
type RedisPoolConfig struct {
	MaxConnections      int
	MinIdleConnections  int
	ConnTimeout         time.Duration
	SocketTimeout       time.Duration
	RetryOnTimeout      bool
	HealthCheckInterval time.Duration
}

// RedisConfig holds the connection settings for the KV backend.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int

	// Vector search settings; VectorDim should match the vectorizer's
	// NFeatures.
	VectorDim int

	Pool RedisPoolConfig
}

// Addr returns the host:port dial address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisConfigFromEnv loads the Redis settings from the environment.
func RedisConfigFromEnv() RedisConfig {
	return RedisConfig{
		Host:      GetEnv("REDIS_HOST", "localhost"),
		Port:      GetEnvInt("REDIS_PORT", 6379),
		Password:  GetEnv("REDIS_PASSWORD", ""),
		DB:        GetEnvInt("REDIS_DB", 0),
		VectorDim: GetEnvInt("VECTORIZATION_N_FEATURES", 8192),
		Pool: RedisPoolConfig{
			MaxConnections:      GetEnvInt("REDIS_POOL_MAX_CONNECTIONS", 50),
			MinIdleConnections:  GetEnvInt("REDIS_POOL_MIN_IDLE", 5),
			ConnTimeout:         time.Duration(GetEnvInt("REDIS_SOCKET_CONNECT_TIMEOUT", 10)) * time.Second,
			SocketTimeout:       time.Duration(GetEnvInt("REDIS_SOCKET_TIMEOUT", 30)) * time.Second,
			RetryOnTimeout:      GetEnvBool("REDIS_RETRY_ON_TIMEOUT", true),
			HealthCheckInterval: time.Duration(GetEnvInt("REDIS_HEALTH_CHECK_INTERVAL", 30)) * time.Second,
		},
	}
}

// StorageConfig is the top-level storage selection.
type StorageConfig struct {
	Backend   StorageBackendKind
	Database  DatabaseConfig
	Redis     RedisConfig
	Threading ThreadingConfig
}

// StorageConfigFromEnv loads the storage configuration from the environment.
func StorageConfigFromEnv() (StorageConfig, error) {
	backend := StorageBackendKind(GetEnv("STORAGE_BACKEND", string(BackendSQL)))
	switch backend {
	case BackendSQL, BackendRedis:
	default:
		return StorageConfig{}, fmt.Errorf("invalid STORAGE_BACKEND: %q", backend)
	}

	db, err := DatabaseConfigFromEnv()
	if err != nil {
		return StorageConfig{}, err
	}

	threading := ThreadingConfig{
		Enabled:    GetEnvBool("THREADING_ENABLED", false),
		MaxWorkers: GetEnvInt("THREADING_MAX_WORKERS", 4),
		BatchSize:  GetEnvInt("THREADING_BATCH_SIZE", 50),
	}
	threading.SetDefaults()

	return StorageConfig{
		Backend:   backend,
		Database:  db,
		Redis:     RedisConfigFromEnv(),
		Threading: threading,
	}, nil
}

// IsRedis reports whether the KV backend is selected.
func (c *StorageConfig) IsRedis() bool { return c.Backend == BackendRedis }

// EnvVars returns the dotfile representation of the mutable storage
// settings.
func (c *StorageConfig) EnvVars() map[string]string {
	vars := map[string]string{
		"STORAGE_BACKEND":       string(c.Backend),
		"REDIS_HOST":            c.Redis.Host,
		"REDIS_PORT":            strconv.Itoa(c.Redis.Port),
		"REDIS_DB":              strconv.Itoa(c.Redis.DB),
		"THREADING_ENABLED":     strconv.FormatBool(c.Threading.Enabled),
		"THREADING_MAX_WORKERS": strconv.Itoa(c.Threading.MaxWorkers),
		"THREADING_BATCH_SIZE":  strconv.Itoa(c.Threading.BatchSize),
	}
	if c.Redis.Password != "" {
		vars["REDIS_PASSWORD"] = c.Redis.Password
	}
	return vars
}
