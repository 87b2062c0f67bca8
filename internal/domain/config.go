package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backends are wired in
	Tier Tier `json:"tier"`

	// Audit rule tolerances
	Audit AuditConfig `json:"audit"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// AuditConfig holds the thresholds the audit rules compare against.
// Supplied at engine construction; not reloaded mid-run.
type AuditConfig struct {
	// WeightTolerance is the fraction of overbilling on weight that is
	// accepted before the weight rule fires (0.10 = 10%).
	WeightTolerance float64 `json:"weightTolerance"`

	// LateThresholdDays is the minimum lateness, in days, for the late
	// delivery rule to fire.
	LateThresholdDays float64 `json:"lateThresholdDays"`

	// RateThreshold is the fraction above the lane base rate accepted
	// before the rate abuse rule fires (0.20 = 20%).
	RateThreshold float64 `json:"rateThreshold"`

	// AutoDispute is accepted for forward compatibility with automatic
	// dispute filing. The engine never acts on it.
	AutoDispute bool `json:"autoDispute"`

	// MaxBatchWorkers bounds concurrent shipment audits within a batch.
	MaxBatchWorkers int `json:"maxBatchWorkers"`
}

// DefaultAuditConfig returns the contractual default tolerances.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		WeightTolerance:   0.10,
		LateThresholdDays: 1,
		RateThreshold:     0.20,
		AutoDispute:       false,
		MaxBatchWorkers:   4,
	}
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier:  TierCommunity,
		Audit: DefaultAuditConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		LocalMaxSize:   1000,
		EnableTwoPhase: true,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
