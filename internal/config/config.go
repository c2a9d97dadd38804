package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// PollMode selects how the poll loop resolves a reply.
type PollMode string

const (
	// PollModeFirst returns the first qualifying reply found in the window.
	PollModeFirst PollMode = "first"
	// PollModeAccumulate collects every distinct reply fragment found across
	// the whole window and joins them once polling ends.
	PollModeAccumulate PollMode = "accumulate"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Agent  AgentConfig
	Poll   PollConfig
	Stream StreamConfig
	Cache  CacheConfig
	Redis  RedisConfig
	Server ServerConfig

	// SerializeConversations holds a per-agent-conversation lock for the
	// duration of send+poll. Off by default: concurrent requests against the
	// same conversation can cross-read each other's replies, and turning
	// that into serialized turns is an explicit operator decision.
	SerializeConversations bool
}

// AgentConfig holds remote agent connection settings.
type AgentConfig struct {
	BaseURL        string
	AgentID        string
	Password       string //nolint:gosec // G117: opaque pass-through credential
	TLSInsecure    bool
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// PollConfig holds poll loop settings.
type PollConfig struct {
	MaxAttempts int
	Delay       time.Duration
	Mode        PollMode
	JoinSep     string
	Limit       int
}

// StreamConfig holds output streaming settings.
type StreamConfig struct {
	ChunkSize int
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only; RELAY_AGENT_ID must always
// be set explicitly.
func Load() (*Config, error) {
	connectTimeout, err := getEnvDuration("RELAY_AGENT_CONNECT_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	requestTimeout, err := getEnvDuration("RELAY_AGENT_REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	tlsInsecure, err := getEnvBool("RELAY_AGENT_TLS_INSECURE", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxAttempts, err := getEnvInt("RELAY_POLL_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	pollDelay, err := getEnvDuration("RELAY_POLL_DELAY", time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	pollLimit, err := getEnvInt("RELAY_POLL_LIMIT", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	chunkSize, err := getEnvInt("RELAY_STREAM_CHUNK_SIZE", 1)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cacheEnabled, err := getEnvBool("RELAY_CACHE_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cacheTTL, err := getEnvDuration("RELAY_CACHE_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("RELAY_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("RELAY_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("RELAY_SERVER_WRITE_TIMEOUT", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateRPS, err := getEnvFloat("RELAY_RATE_LIMIT_RPS", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateBurst, err := getEnvInt("RELAY_RATE_LIMIT_BURST", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	serialize, err := getEnvBool("RELAY_SERIALIZE_CONVERSATIONS", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cfg := &Config{
		Agent: AgentConfig{
			BaseURL:        strings.TrimRight(getEnv("RELAY_AGENT_BASE_URL", "http://localhost:8283"), "/"),
			AgentID:        getEnv("RELAY_AGENT_ID", ""),
			Password:       getEnv("RELAY_AGENT_PASSWORD", ""),
			TLSInsecure:    tlsInsecure,
			ConnectTimeout: connectTimeout,
			RequestTimeout: requestTimeout,
		},
		Poll: PollConfig{
			MaxAttempts: maxAttempts,
			Delay:       pollDelay,
			Mode:        PollMode(getEnv("RELAY_POLL_MODE", string(PollModeFirst))),
			JoinSep:     getEnv("RELAY_POLL_JOIN_SEP", " "),
			Limit:       pollLimit,
		},
		Stream: StreamConfig{
			ChunkSize: chunkSize,
		},
		Cache: CacheConfig{
			Enabled: cacheEnabled,
			TTL:     cacheTTL,
		},
		Redis: RedisConfig{
			Addr:     getEnv("RELAY_REDIS_ADDR", ""),
			Password: getEnv("RELAY_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Server: ServerConfig{
			Addr:           getEnv("RELAY_SERVER_ADDR", ":8080"),
			ReadTimeout:    readTimeout,
			WriteTimeout:   writeTimeout,
			CORSOrigins:    getEnvList("RELAY_CORS_ORIGINS", []string{"http://localhost:5173"}),
			RateLimitRPS:   rateRPS,
			RateLimitBurst: rateBurst,
		},
		SerializeConversations: serialize,
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.Agent.AgentID == "" {
		return errors.New("RELAY_AGENT_ID is required")
	}
	if !strings.HasPrefix(c.Agent.BaseURL, "http://") && !strings.HasPrefix(c.Agent.BaseURL, "https://") {
		return fmt.Errorf("RELAY_AGENT_BASE_URL must be an http(s) URL, got %q", c.Agent.BaseURL)
	}

	if c.Agent.TLSInsecure {
		log.Warn().Msg("RELAY_AGENT_TLS_INSECURE=true disables certificate verification; only use against self-signed agent deployments")
	}

	if c.Agent.ConnectTimeout <= 0 {
		return fmt.Errorf("RELAY_AGENT_CONNECT_TIMEOUT must be positive, got %s", c.Agent.ConnectTimeout)
	}
	if c.Agent.RequestTimeout <= 0 {
		return fmt.Errorf("RELAY_AGENT_REQUEST_TIMEOUT must be positive, got %s", c.Agent.RequestTimeout)
	}
	if c.Poll.MaxAttempts < 1 {
		return fmt.Errorf("RELAY_POLL_MAX_ATTEMPTS must be >= 1, got %d", c.Poll.MaxAttempts)
	}
	if c.Poll.Delay <= 0 {
		return fmt.Errorf("RELAY_POLL_DELAY must be positive, got %s", c.Poll.Delay)
	}
	if c.Poll.Mode != PollModeFirst && c.Poll.Mode != PollModeAccumulate {
		return fmt.Errorf("RELAY_POLL_MODE must be %q or %q, got %q", PollModeFirst, PollModeAccumulate, c.Poll.Mode)
	}
	if c.Poll.Limit < 1 {
		return fmt.Errorf("RELAY_POLL_LIMIT must be >= 1, got %d", c.Poll.Limit)
	}
	if c.Stream.ChunkSize < 1 {
		return fmt.Errorf("RELAY_STREAM_CHUNK_SIZE must be >= 1, got %d", c.Stream.ChunkSize)
	}
	if c.Cache.Enabled && c.Redis.Addr == "" {
		return errors.New("RELAY_CACHE_ENABLED requires RELAY_REDIS_ADDR")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("RELAY_CACHE_TTL must be positive, got %s", c.Cache.TTL)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("RELAY_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	// WriteTimeout zero is allowed: SSE responses outlive any fixed budget.
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("RELAY_SERVER_WRITE_TIMEOUT must be >= 0, got %s", c.Server.WriteTimeout)
	}
	if c.Server.RateLimitRPS <= 0 {
		return fmt.Errorf("RELAY_RATE_LIMIT_RPS must be positive, got %g", c.Server.RateLimitRPS)
	}
	if c.Server.RateLimitBurst < 1 {
		return fmt.Errorf("RELAY_RATE_LIMIT_BURST must be >= 1, got %d", c.Server.RateLimitBurst)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
