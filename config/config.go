// Package config loads the reservoir's externalized runtime knobs.
// Every key named in the system's configuration surface is readable
// from the environment (or a ".env" file) via viper, with defaults
// matching the documented spec values.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every externalized setting for the process.
type Config struct {
	Server     ServerConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	DataSource DataSourceConfig
	EventBus   EventBusConfig
	Spatial    SpatialConfig
	Depot      DepotConfig
	Reservoir  ReservoirConfig
	Spawning   SpawningConfig
	Heatmap    HeatmapConfig
	PRNG       PRNGConfig
	RecordStore RecordStoreConfig
}

// ServerConfig holds the ops HTTP server settings (/health, /stats,
// /debug/query) — the only inbound HTTP surface this process exposes.
type ServerConfig struct {
	Host         string        `mapstructure:"SERVER_HOST"`
	Port         int           `mapstructure:"SERVER_PORT"`
	ReadTimeout  time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `mapstructure:"SERVER_IDLE_TIMEOUT"`
}

// PostgresConfig backs the record-store client's durable write-ahead
// buffer (internal/recordstore/walstore.go).
type PostgresConfig struct {
	Host     string `mapstructure:"POSTGRES_HOST"`
	Port     int    `mapstructure:"POSTGRES_PORT"`
	User     string `mapstructure:"POSTGRES_USER"`
	Password string `mapstructure:"POSTGRES_PASSWORD"`
	DBName   string `mapstructure:"POSTGRES_DB"`
	SSLMode  string `mapstructure:"POSTGRES_SSLMODE"`
	MaxConns int32  `mapstructure:"POSTGRES_MAX_CONNS"`
	MinConns int32  `mapstructure:"POSTGRES_MIN_CONNS"`
}

// RedisConfig backs the non-authoritative demand-heatmap mirror
// (internal/heatmap).
type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     int    `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
	PoolSize int    `mapstructure:"REDIS_POOL_SIZE"`
}

// DataSourceConfig configures the read-only fleet data-source client.
type DataSourceConfig struct {
	BaseURL              string        `mapstructure:"DATA_SOURCE_BASE_URL"`
	CountryCode          string        `mapstructure:"DATA_SOURCE_COUNTRY_CODE"`
	RetryAttempts        int           `mapstructure:"DATA_SOURCE_RETRY_ATTEMPTS"`
	RetryDelay           time.Duration `mapstructure:"DATA_SOURCE_RETRY_DELAY"`
	MaxRequestsPerSecond float64       `mapstructure:"DATA_SOURCE_MAX_REQUESTS_PER_SECOND"`
	CacheSizeEntries     int           `mapstructure:"DATA_SOURCE_CACHE_SIZE_ENTRIES"`
	CacheTTL             time.Duration `mapstructure:"DATA_SOURCE_CACHE_TTL"`
	PageSize             int           `mapstructure:"DATA_SOURCE_PAGE_SIZE"`
}

// EventBusConfig configures the NATS-backed event bus client.
type EventBusConfig struct {
	URL string `mapstructure:"EVENT_BUS_URL"`
}

// SpatialConfig configures the spatial zone cache's activity buffer.
type SpatialConfig struct {
	BufferKM float64 `mapstructure:"SPATIAL_CACHE_BUFFER_KM"`
}

// DepotConfig configures depot-route connectivity.
type DepotConfig struct {
	ConnectionRadiusKM float64 `mapstructure:"DEPOT_CONNECTION_RADIUS_KM"`
}

// ReservoirConfig configures both reservoirs' lifecycle behavior.
type ReservoirConfig struct {
	MaxWaitMinutes            int     `mapstructure:"RESERVOIR_MAX_WAIT_MINUTES"`
	ExpirationCheckSeconds    int     `mapstructure:"RESERVOIR_EXPIRATION_CHECK_SECONDS"`
	DefaultPickupDistanceM    float64 `mapstructure:"RESERVOIR_DEFAULT_PICKUP_DISTANCE_M"`
	GridCellSizeDegrees       float64 `mapstructure:"RESERVOIR_GRID_CELL_SIZE_DEGREES"`
}

// SpawningConfig configures the Poisson spawner and its coordinators.
type SpawningConfig struct {
	DepotIntervalSeconds  int `mapstructure:"SPAWNING_DEPOT_INTERVAL_SECONDS"`
	RouteIntervalSeconds  int `mapstructure:"SPAWNING_ROUTE_INTERVAL_SECONDS"`
	WindowMinutes         int `mapstructure:"SPAWNING_WINDOW_MINUTES"`
	MaxActiveCommuters    int `mapstructure:"SPAWNING_MAX_ACTIVE_COMMUTERS"`
}

// HeatmapConfig configures the supplemental Redis demand-mirror.
type HeatmapConfig struct {
	BucketTTLSeconds int `mapstructure:"HEATMAP_BUCKET_TTL_SECONDS"`
}

// PRNGConfig holds the seed used by the Poisson spawner for
// reproducible replay (spec §4.4, property 6).
type PRNGConfig struct {
	Seed int64 `mapstructure:"PRNG_SEED"`
}

// RecordStoreConfig configures the outbound client that mirrors
// commuter lifecycle transitions to the external record store.
type RecordStoreConfig struct {
	BaseURL       string `mapstructure:"RECORD_STORE_BASE_URL"`
	MaxQueueSize  int    `mapstructure:"RECORD_STORE_MAX_QUEUE_SIZE"`
}

// DSN returns the PostgreSQL connection string for the WAL store.
func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode,
	)
}

// Addr returns the Redis address in host:port format.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ServerAddr returns the ops HTTP listen address in host:port format.
func (s *ServerConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads configuration from environment variables and an optional
// .env file, applying the documented defaults for every recognized key.
func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// ── Server ──────────────────────────────────────────
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_PORT", 8080)
	viper.SetDefault("SERVER_READ_TIMEOUT", "5s")
	viper.SetDefault("SERVER_WRITE_TIMEOUT", "10s")
	viper.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// ── Postgres (WAL store) ────────────────────────────
	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "reservoir")
	viper.SetDefault("POSTGRES_PASSWORD", "reservoir_secret")
	viper.SetDefault("POSTGRES_DB", "reservoir_db")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")
	viper.SetDefault("POSTGRES_MAX_CONNS", 20)
	viper.SetDefault("POSTGRES_MIN_CONNS", 2)

	// ── Redis (heatmap mirror) ──────────────────────────
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", 6379)
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_POOL_SIZE", 20)

	// ── Data source ─────────────────────────────────────
	viper.SetDefault("DATA_SOURCE_BASE_URL", "http://localhost:1337")
	viper.SetDefault("DATA_SOURCE_COUNTRY_CODE", "KE")
	viper.SetDefault("DATA_SOURCE_RETRY_ATTEMPTS", 3)
	viper.SetDefault("DATA_SOURCE_RETRY_DELAY", "2s")
	viper.SetDefault("DATA_SOURCE_MAX_REQUESTS_PER_SECOND", 10.0)
	viper.SetDefault("DATA_SOURCE_CACHE_SIZE_ENTRIES", 512)
	viper.SetDefault("DATA_SOURCE_CACHE_TTL", "10m")
	viper.SetDefault("DATA_SOURCE_PAGE_SIZE", 100)

	// ── Event bus ────────────────────────────────────────
	viper.SetDefault("EVENT_BUS_URL", "nats://localhost:4222")

	// ── Spatial cache ────────────────────────────────────
	viper.SetDefault("SPATIAL_CACHE_BUFFER_KM", 5.0)

	// ── Depot ────────────────────────────────────────────
	viper.SetDefault("DEPOT_CONNECTION_RADIUS_KM", 5.0)

	// ── Reservoir ────────────────────────────────────────
	viper.SetDefault("RESERVOIR_MAX_WAIT_MINUTES", 30)
	viper.SetDefault("RESERVOIR_EXPIRATION_CHECK_SECONDS", 10)
	viper.SetDefault("RESERVOIR_DEFAULT_PICKUP_DISTANCE_M", 500.0)
	viper.SetDefault("RESERVOIR_GRID_CELL_SIZE_DEGREES", 0.01)

	// ── Spawning ─────────────────────────────────────────
	viper.SetDefault("SPAWNING_DEPOT_INTERVAL_SECONDS", 30)
	viper.SetDefault("SPAWNING_ROUTE_INTERVAL_SECONDS", 30)
	viper.SetDefault("SPAWNING_WINDOW_MINUTES", 5)
	viper.SetDefault("SPAWNING_MAX_ACTIVE_COMMUTERS", 10000)

	// ── Heatmap ──────────────────────────────────────────
	viper.SetDefault("HEATMAP_BUCKET_TTL_SECONDS", 30)

	// ── PRNG ─────────────────────────────────────────────
	viper.SetDefault("PRNG_SEED", 42)

	// ── Record store ─────────────────────────────────────
	viper.SetDefault("RECORD_STORE_BASE_URL", "http://localhost:9000")
	viper.SetDefault("RECORD_STORE_MAX_QUEUE_SIZE", 500)

	// Try to read a .env file; if absent (e.g. inside a container),
	// environment variables injected by the deployment take over.
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Host:         viper.GetString("SERVER_HOST"),
			Port:         viper.GetInt("SERVER_PORT"),
			ReadTimeout:  viper.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout: viper.GetDuration("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:  viper.GetDuration("SERVER_IDLE_TIMEOUT"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("POSTGRES_HOST"),
			Port:     viper.GetInt("POSTGRES_PORT"),
			User:     viper.GetString("POSTGRES_USER"),
			Password: viper.GetString("POSTGRES_PASSWORD"),
			DBName:   viper.GetString("POSTGRES_DB"),
			SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
			MaxConns: viper.GetInt32("POSTGRES_MAX_CONNS"),
			MinConns: viper.GetInt32("POSTGRES_MIN_CONNS"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetInt("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
			PoolSize: viper.GetInt("REDIS_POOL_SIZE"),
		},
		DataSource: DataSourceConfig{
			BaseURL:              viper.GetString("DATA_SOURCE_BASE_URL"),
			CountryCode:          viper.GetString("DATA_SOURCE_COUNTRY_CODE"),
			RetryAttempts:        viper.GetInt("DATA_SOURCE_RETRY_ATTEMPTS"),
			RetryDelay:           viper.GetDuration("DATA_SOURCE_RETRY_DELAY"),
			MaxRequestsPerSecond: viper.GetFloat64("DATA_SOURCE_MAX_REQUESTS_PER_SECOND"),
			CacheSizeEntries:     viper.GetInt("DATA_SOURCE_CACHE_SIZE_ENTRIES"),
			CacheTTL:             viper.GetDuration("DATA_SOURCE_CACHE_TTL"),
			PageSize:             viper.GetInt("DATA_SOURCE_PAGE_SIZE"),
		},
		EventBus: EventBusConfig{
			URL: viper.GetString("EVENT_BUS_URL"),
		},
		Spatial: SpatialConfig{
			BufferKM: viper.GetFloat64("SPATIAL_CACHE_BUFFER_KM"),
		},
		Depot: DepotConfig{
			ConnectionRadiusKM: viper.GetFloat64("DEPOT_CONNECTION_RADIUS_KM"),
		},
		Reservoir: ReservoirConfig{
			MaxWaitMinutes:         viper.GetInt("RESERVOIR_MAX_WAIT_MINUTES"),
			ExpirationCheckSeconds: viper.GetInt("RESERVOIR_EXPIRATION_CHECK_SECONDS"),
			DefaultPickupDistanceM: viper.GetFloat64("RESERVOIR_DEFAULT_PICKUP_DISTANCE_M"),
			GridCellSizeDegrees:    viper.GetFloat64("RESERVOIR_GRID_CELL_SIZE_DEGREES"),
		},
		Spawning: SpawningConfig{
			DepotIntervalSeconds: viper.GetInt("SPAWNING_DEPOT_INTERVAL_SECONDS"),
			RouteIntervalSeconds: viper.GetInt("SPAWNING_ROUTE_INTERVAL_SECONDS"),
			WindowMinutes:        viper.GetInt("SPAWNING_WINDOW_MINUTES"),
			MaxActiveCommuters:   viper.GetInt("SPAWNING_MAX_ACTIVE_COMMUTERS"),
		},
		Heatmap: HeatmapConfig{
			BucketTTLSeconds: viper.GetInt("HEATMAP_BUCKET_TTL_SECONDS"),
		},
		PRNG: PRNGConfig{
			Seed: viper.GetInt64("PRNG_SEED"),
		},
		RecordStore: RecordStoreConfig{
			BaseURL:      viper.GetString("RECORD_STORE_BASE_URL"),
			MaxQueueSize: viper.GetInt("RECORD_STORE_MAX_QUEUE_SIZE"),
		},
	}

	return cfg, nil
}
