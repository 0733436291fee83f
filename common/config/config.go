package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Engine    EngineConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds the Interface B session-store settings (internal/api's
// SessionStore); the announcer (C9) is in-process and has no Redis dependency.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EngineConfig holds engine-kernel-specific tunables not present in the
// teacher (case-lock acquisition, quiescence bounds, session lifetime,
// announcer backlog) — spec.md §5/§6/§9 parameters made configurable.
type EngineConfig struct {
	CaseLockTimeout        time.Duration
	MaxQuiescenceRounds    int
	SessionTTL             time.Duration
	AnnouncerBacklogSize   int
	CaseRetireGrace        time.Duration
	DefaultRequestDeadline time.Duration

	// SLATimeoutSweepInterval governs how often internal/api's SLA sweep
	// scans Started work items for a declared-SLA breach.
	SLATimeoutSweepInterval time.Duration
	// DefaultExceptionHandlerURL is used for a decomposition that declares
	// an SLA/retry policy but no handlerUrl of its own.
	DefaultExceptionHandlerURL string
	// ExceptionCallbackTimeout bounds a single Interface X outbound call.
	ExceptionCallbackTimeout time.Duration
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof    bool
	PprofPort      int
	EnableTracing  bool
	EnableMetrics  bool
	MetricsPort    int
	TracingBackend string
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "yawl_engine"),
			User:        getEnv("POSTGRES_USER", "yawl_engine"),
			Password:    getEnv("POSTGRES_PASSWORD", "yawl_engine"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Engine: EngineConfig{
			CaseLockTimeout:            getEnvDuration("ENGINE_CASE_LOCK_TIMEOUT", 5*time.Second),
			MaxQuiescenceRounds:        getEnvInt("ENGINE_MAX_QUIESCENCE_ROUNDS", 10000),
			SessionTTL:                 getEnvDuration("ENGINE_SESSION_TTL", 30*time.Minute),
			AnnouncerBacklogSize:       getEnvInt("ENGINE_ANNOUNCER_BACKLOG", 256),
			CaseRetireGrace:            getEnvDuration("ENGINE_CASE_RETIRE_GRACE", 10*time.Minute),
			DefaultRequestDeadline:     getEnvDuration("ENGINE_DEFAULT_REQUEST_DEADLINE", 30*time.Second),
			SLATimeoutSweepInterval:    getEnvDuration("ENGINE_SLA_SWEEP_INTERVAL", 15*time.Second),
			DefaultExceptionHandlerURL: getEnv("ENGINE_DEFAULT_EXCEPTION_HANDLER_URL", ""),
			ExceptionCallbackTimeout:   getEnvDuration("ENGINE_EXCEPTION_CALLBACK_TIMEOUT", 10*time.Second),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:    getEnvBool("ENABLE_PPROF", true),
			PprofPort:      getEnvInt("PPROF_PORT", 6060),
			EnableTracing:  getEnvBool("ENABLE_TRACING", false),
			EnableMetrics:  getEnvBool("ENABLE_METRICS", true),
			MetricsPort:    getEnvInt("METRICS_PORT", 9090),
			TracingBackend: getEnv("TRACING_BACKEND", "stdout"),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Engine.CaseLockTimeout <= 0 {
		return fmt.Errorf("engine case lock timeout must be positive")
	}

	if c.Engine.MaxQuiescenceRounds <= 0 {
		return fmt.Errorf("engine max quiescence rounds must be positive")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
