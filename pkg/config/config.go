package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"rendezvous/pkg/validation"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		StaticDir       string        `yaml:"static_dir"`
	} `yaml:"server"`

	Signal struct {
		Path            string        `yaml:"path"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		SendQueueSize   int           `yaml:"send_queue_size"`
		EventQueueSize  int           `yaml:"event_queue_size"`
		MaxMessageBytes int64         `yaml:"max_message_bytes"`
	} `yaml:"signal"`

	Auth struct {
		Mode           string        `yaml:"mode"`
		Token          string        `yaml:"token"`
		TokenTTL       time.Duration `yaml:"token_ttl"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	Probe struct {
		// Interval is kept raw: an absent or non-numeric value disables the probe.
		Interval string `yaml:"interval"`
	} `yaml:"probe"`

	Countdown struct {
		MaxOutOf           int  `yaml:"max_out_of"`
		CancelOnDisconnect bool `yaml:"cancel_on_disconnect"`
	} `yaml:"countdown"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled       bool          `yaml:"enabled"`
		Address       string        `yaml:"address"`
		Password      string        `yaml:"password"`
		DB            int           `yaml:"db"`
		PoolSize      int           `yaml:"pool_size"`
		Channel       string        `yaml:"channel"`
		KeyPrefix     string        `yaml:"key_prefix"`
		BatchSize     int           `yaml:"batch_size"`
		FlushInterval time.Duration `yaml:"flush_interval"`
	} `yaml:"redis"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"http"`

		WebSocket struct {
			ConnectionsPerMinute int     `yaml:"connections_per_minute"`
			EventsPerSecond      float64 `yaml:"events_per_second"`
			Burst                int     `yaml:"burst"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if !strings.HasPrefix(c.Signal.Path, "/") {
		return fmt.Errorf("signal.path must start with /")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be greater than signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.SendQueueSize <= 0 {
		return fmt.Errorf("signal.send_queue_size must be > 0")
	}
	if c.Signal.EventQueueSize <= 0 {
		return fmt.Errorf("signal.event_queue_size must be > 0")
	}
	if c.Signal.MaxMessageBytes < 0 {
		return fmt.Errorf("signal.max_message_bytes must be >= 0")
	}

	// Auth
	switch c.Auth.Mode {
	case "token", "jwt":
	default:
		return fmt.Errorf("auth.mode must be token or jwt, got %q", c.Auth.Mode)
	}
	if c.Auth.Token == "" {
		return fmt.Errorf("auth.token must not be empty (set TOKEN)")
	}
	if c.Auth.Mode == "jwt" && c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0 in jwt mode")
	}
	for _, origin := range c.Auth.AllowedOrigins {
		if err := validation.ValidateOrigin(origin); err != nil {
			return fmt.Errorf("auth.allowed_origins: %w", err)
		}
	}

	// Countdown
	if c.Countdown.MaxOutOf < 0 {
		return fmt.Errorf("countdown.max_out_of must be >= 0")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.Channel == "" {
			return fmt.Errorf("redis.channel must not be empty when redis.enabled=true")
		}
		if c.Redis.BatchSize <= 0 || c.Redis.FlushInterval <= 0 {
			return fmt.Errorf("redis.batch_size and redis.flush_interval must be > 0 when redis.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.websocket.connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.EventsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.events_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// ProbeInterval parses Probe.Interval as milliseconds. The probe is enabled
// only for a positive integer; anything else disables it.
func (c *Config) ProbeInterval() (time.Duration, bool) {
	raw := strings.TrimSpace(c.Probe.Interval)
	if raw == "" {
		return 0, false
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file %s: %w", configPath, err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults. The auth token has
// no default and must be configured.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":3030"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second
	cfg.Server.StaticDir = "public"

	cfg.Signal.Path = "/ws"
	cfg.Signal.PingInterval = 25 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.SendQueueSize = 256
	cfg.Signal.EventQueueSize = 1024
	cfg.Signal.MaxMessageBytes = 1 << 20

	cfg.Auth.Mode = "token"
	cfg.Auth.TokenTTL = 24 * time.Hour
	cfg.Auth.AllowedOrigins = []string{"*"}

	cfg.Countdown.MaxOutOf = 10000
	cfg.Countdown.CancelOnDisconnect = true

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "rendezvous"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.Channel = "rendezvous:presence"
	cfg.Redis.KeyPrefix = "rendezvous:"
	cfg.Redis.BatchSize = 32
	cfg.Redis.FlushInterval = 200 * time.Millisecond

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.EventsPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Address = ":" + port
	}
	if token := os.Getenv("TOKEN"); token != "" {
		c.Auth.Token = token
	}
	if ping, ok := os.LookupEnv("PING"); ok {
		c.Probe.Interval = ping
	}
	if addr := os.Getenv("RENDEZVOUS_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("RENDEZVOUS_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if mode := os.Getenv("RENDEZVOUS_AUTH_MODE"); mode != "" {
		c.Auth.Mode = mode
	}
	if dir := os.Getenv("RENDEZVOUS_STATIC_DIR"); dir != "" {
		c.Server.StaticDir = dir
	}
	if addr := os.Getenv("RENDEZVOUS_REDIS_ADDRESS"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Address = addr
	}
	if os.Getenv("NODE_ENV") == "development" || os.Getenv("RENDEZVOUS_ENV") == "development" {
		c.Logging.Format = "console"
		c.Tracing.Environment = "development"
	}
}
