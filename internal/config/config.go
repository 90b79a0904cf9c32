// Package config loads the service configuration from YAML, applies
// environment overrides and watches the file for runtime changes.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/chathub/internal/hub"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultPort            = "8086"
	DefaultLogLevel        = "info"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultUpgradeRate     = 5
	DefaultUpgradeBurst    = 10
	DefaultMetricsPath     = "/metrics"
)

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Hub       HubConfig       `yaml:"hub"`
	Auth      AuthConfig      `yaml:"auth"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// AllowedOrigins lists origins permitted to open a WebSocket. "*" allows all.
	AllowedOrigins []string `yaml:"allowed_origins"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// UpgradeRate and UpgradeBurst bound WebSocket upgrades per client IP.
	UpgradeRate  float64 `yaml:"upgrade_rate"`
	UpgradeBurst int     `yaml:"upgrade_burst"`
}

// Addr returns the listen address for the configured port.
func (s ServerConfig) Addr() string {
	if strings.HasPrefix(s.Port, ":") {
		return s.Port
	}
	return ":" + s.Port
}

// WebSocketConfig tunes each connection.
type WebSocketConfig struct {
	SendBuffer     int           `yaml:"send_buffer"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	PongWait       time.Duration `yaml:"pong_wait"`
	WriteWait      time.Duration `yaml:"write_wait"`
	RateLimit      float64       `yaml:"rate_limit"`
	RateBurst      int           `yaml:"rate_burst"`
}

// HubConfig sizes the hub loop.
type HubConfig struct {
	QueueSize      int           `yaml:"queue_size"`
	ResyncInterval time.Duration `yaml:"resync_interval"`
}

// AuthConfig configures connection authentication.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// Disabled trusts identity headers instead of JWTs. Local development only.
	Disabled bool `yaml:"disabled"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Path string `yaml:"path"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	hubDefaults := hub.DefaultOptions()
	return &Config{
		Server: ServerConfig{
			Port:            DefaultPort,
			LogLevel:        DefaultLogLevel,
			AllowedOrigins:  []string{"http://localhost:" + DefaultPort},
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			IdleTimeout:     DefaultIdleTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
			UpgradeRate:     DefaultUpgradeRate,
			UpgradeBurst:    DefaultUpgradeBurst,
		},
		WebSocket: WebSocketConfig{
			SendBuffer:     hubDefaults.SendBufferSize,
			MaxMessageSize: hubDefaults.MaxMessageSize,
			PongWait:       hubDefaults.PongWait,
			WriteWait:      hubDefaults.WriteWait,
			RateLimit:      float64(hubDefaults.RateLimit),
			RateBurst:      hubDefaults.RateBurst,
		},
		Hub: HubConfig{
			QueueSize:      hubDefaults.QueueSize,
			ResyncInterval: hubDefaults.ResyncInterval,
		},
		Metrics: MetricsConfig{Path: DefaultMetricsPath},
	}
}

// Load reads the YAML file at path, expands ${VAR} and ${VAR:-default}
// references, applies CHAT_* environment overrides and validates the result.
// An empty path skips the file and uses defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:-default}. A variable that is set but
// empty expands to the empty string.
func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		m := envRef.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(m[1]); ok {
			return value
		}
		return m[3]
	})
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("CHAT_PORT"); port != "" {
		cfg.Server.Port = port
	}
	if level := os.Getenv("CHAT_LOG_LEVEL"); level != "" {
		cfg.Server.LogLevel = level
	}
	if origins := os.Getenv("CHAT_ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = parseOrigins(origins)
	}
	if secret := os.Getenv("CHAT_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks structural constraints.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(strings.TrimPrefix(c.Server.Port, ":")); err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("server.port %q is not a valid port", c.Server.Port)
	}
	if _, err := zapcore.ParseLevel(c.Server.LogLevel); err != nil {
		return fmt.Errorf("server.log_level: %w", err)
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"server.idle_timeout", c.Server.IdleTimeout},
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"websocket.pong_wait", c.WebSocket.PongWait},
		{"websocket.write_wait", c.WebSocket.WriteWait},
		{"hub.resync_interval", c.Hub.ResyncInterval},
	}
	for _, f := range durations {
		if f.d <= 0 {
			return fmt.Errorf("%s must be positive", f.name)
		}
	}

	sizes := []struct {
		name string
		n    int64
	}{
		{"server.upgrade_burst", int64(c.Server.UpgradeBurst)},
		{"websocket.send_buffer", int64(c.WebSocket.SendBuffer)},
		{"websocket.max_message_size", c.WebSocket.MaxMessageSize},
		{"websocket.rate_burst", int64(c.WebSocket.RateBurst)},
		{"hub.queue_size", int64(c.Hub.QueueSize)},
	}
	for _, f := range sizes {
		if f.n <= 0 {
			return fmt.Errorf("%s must be positive", f.name)
		}
	}
	if c.Server.UpgradeRate <= 0 {
		return fmt.Errorf("server.upgrade_rate must be positive")
	}
	if c.WebSocket.RateLimit <= 0 {
		return fmt.Errorf("websocket.rate_limit must be positive")
	}

	if !c.Auth.Disabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required unless auth.disabled is set")
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path)
	}
	return nil
}

// HubOptions converts the websocket and hub sections into hub.Options.
func (c *Config) HubOptions() hub.Options {
	return hub.Options{
		QueueSize:      c.Hub.QueueSize,
		SendBufferSize: c.WebSocket.SendBuffer,
		MaxMessageSize: c.WebSocket.MaxMessageSize,
		PongWait:       c.WebSocket.PongWait,
		WriteWait:      c.WebSocket.WriteWait,
		ResyncInterval: c.Hub.ResyncInterval,
		RateLimit:      rate.Limit(c.WebSocket.RateLimit),
		RateBurst:      c.WebSocket.RateBurst,
	}
}
