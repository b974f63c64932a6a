package config

import (
	"fmt"
	"time"

	"campuslink-backend/pkg/env"
)

// Config holds all configuration for the call service
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Log      LogConfig
	WebRTC   WebRTCConfig
	Match    MatchConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port        int
	Environment string // development, staging, production
	ServiceName string
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
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// ICEServer is one connectivity-assist relay (STUN, or TURN with credentials)
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// WebRTCConfig holds the relay list handed to peer connections
type WebRTCConfig struct {
	ICEServers []ICEServer
}

// MatchConfig holds matchmaking queue configuration
type MatchConfig struct {
	PollInterval time.Duration // liveness only; correctness rests on the atomic claim
	RingTimeout  time.Duration // unanswered direct calls end after this
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        env.GetInt("PORT", 8083),
			Environment: env.GetString("ENV", "development"),
			ServiceName: env.GetString("SERVICE_NAME", "call-service"),
		},
		Database: DatabaseConfig{
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "campuslink"),
			SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
			MaxConns: env.GetInt("DB_MAX_CONNS", 25),
			MinConns: env.GetInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		JWT: JWTConfig{
			Secret:            env.GetStringFromFile("JWT_SECRET", ""),
			AccessTokenExpiry: env.GetDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
		},
		Log: LogConfig{
			Level:  env.GetString("LOG_LEVEL", "info"),
			Format: env.GetString("LOG_FORMAT", "json"),
		},
		WebRTC: WebRTCConfig{
			ICEServers: loadICEServers(),
		},
		Match: MatchConfig{
			PollInterval: env.GetDuration("MATCH_POLL_INTERVAL", 2*time.Second),
			RingTimeout:  env.GetDuration("CALL_RING_TIMEOUT", 45*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required configuration values
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.Match.PollInterval <= 0 {
		return fmt.Errorf("MATCH_POLL_INTERVAL must be positive")
	}
	return nil
}

// loadICEServers builds the relay list: STUN always, TURN when credentials
// are configured (networks that block direct peer traffic need it)
func loadICEServers() []ICEServer {
	servers := []ICEServer{
		{URLs: env.GetSlice("STUN_URLS", []string{"stun:stun.l.google.com:19302"})},
	}

	turnURL := env.GetString("TURN_URL", "")
	if turnURL != "" {
		servers = append(servers, ICEServer{
			URLs:       []string{turnURL},
			Username:   env.GetString("TURN_USERNAME", ""),
			Credential: env.GetStringFromFile("TURN_CREDENTIAL", ""),
		})
	}

	return servers
}
