package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"

	"lingochat-backend/pkg/constants"
	"lingochat-backend/pkg/env"
	"lingochat-backend/pkg/logger"
)

// Config holds all configuration for the call service
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Turn     TurnConfig
	Calls    CallConfig
	Log      logger.Config
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Environment    string // development, staging, production
	ServiceName    string
	Store          string // cockroach, memory
	DirectorySeed  string // JSON conversations file for STORE=memory
	AllowedOrigins []string
	MaxConnections int
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret   string
	Audience string
}

// TurnConfig holds relay (TURN) credential settings
type TurnConfig struct {
	Secret string
	Hosts  []string
	TTL    time.Duration
}

// CallConfig holds call lifecycle tuning
type CallConfig struct {
	MaxDuration   time.Duration
	SweepInterval time.Duration
	RingTimeout   time.Duration
}

// Load loads configuration from environment variables. A .env file (or
// the file named by ENV_FILE) is applied first when present; variables
// already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(env.GetString("ENV_FILE", ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           env.GetInt("PORT", 8083),
			Environment:    env.GetString("ENV", "development"),
			ServiceName:    env.GetString("SERVICE_NAME", "call-service"),
			Store:          env.GetString("STORE", "cockroach"),
			DirectorySeed:  env.GetString("DIRECTORY_SEED_FILE", ""),
			AllowedOrigins: env.GetStringSlice("WS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			MaxConnections: env.GetInt("WS_MAX_SIGNALING_CONNECTIONS", 1000),
		},
		Database: DatabaseConfig{
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "lingochat"),
			SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
			MaxConns: env.GetInt("DB_MAX_CONNS", 25),
			MinConns: env.GetInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Enabled:  env.GetBool("REDIS_ENABLED", true),
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		JWT: JWTConfig{
			Secret:   env.GetStringFromFile("JWT_SECRET", ""),
			Audience: env.GetString("JWT_AUDIENCE", "lingochat-api"),
		},
		Turn: TurnConfig{
			Secret: env.GetStringFromFile("TURN_SECRET", constants.DefaultTurnSecret),
			Hosts:  env.GetStringSlice("TURN_HOSTS", nil),
			TTL:    env.GetDuration("TURN_CREDENTIAL_TTL", constants.TurnCredentialTTL),
		},
		Calls: CallConfig{
			MaxDuration:   env.GetDuration("CALL_MAX_DURATION", constants.MaxCallDuration),
			SweepInterval: env.GetDuration("CALL_REAPER_INTERVAL", constants.ZombieSweepInterval),
			RingTimeout:   env.GetDuration("CALL_RING_TIMEOUT", constants.RingTimeout),
		},
		Log: logger.Config{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/app.log"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if c.IsProduction() && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}

	if c.Turn.TTL <= 0 {
		return fmt.Errorf("TURN_CREDENTIAL_TTL must be positive")
	}
	if c.Calls.MaxDuration <= 0 || c.Calls.SweepInterval <= 0 {
		return fmt.Errorf("CALL_MAX_DURATION and CALL_REAPER_INTERVAL must be positive")
	}
	if c.Calls.RingTimeout < 0 {
		return fmt.Errorf("CALL_RING_TIMEOUT must not be negative")
	}

	switch c.Server.Store {
	case "cockroach", "memory":
	default:
		return fmt.Errorf("unknown STORE %q (want cockroach or memory)", c.Server.Store)
	}
	if c.IsProduction() && c.Server.Store == "memory" {
		return fmt.Errorf("STORE=memory is not allowed in production")
	}

	return nil
}
