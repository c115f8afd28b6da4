// Package config loads spacelink configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"spacelink/codec"
	"spacelink/loadbalance"
)

// Config is the root configuration shared by the serve and ping commands.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Client   ClientConfig   `mapstructure:"client"`
	Registry RegistryConfig `mapstructure:"registry"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	// Listen is the TCP address for WebSocket upgrades
	Listen string `mapstructure:"listen"`
	// Path is the HTTP path that accepts upgrades
	Path  string `mapstructure:"path"`
	Codec string `mapstructure:"codec"`

	PingInterval    time.Duration `mapstructure:"ping_interval"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ReadLimit       int64         `mapstructure:"read_limit"`
	HandlerTimeout  time.Duration `mapstructure:"handler_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RateLimit is requests per second across all peers; zero disables limiting
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`

	// ServiceName and AdvertiseAddr are what the server registers under
	ServiceName   string `mapstructure:"service_name"`
	AdvertiseAddr string `mapstructure:"advertise_addr"`
	Weight        int    `mapstructure:"weight"`
}

type ClientConfig struct {
	// URL dials a server directly; when empty the registry is used
	URL              string        `mapstructure:"url"`
	Service          string        `mapstructure:"service"`
	Balancer         string        `mapstructure:"balancer"`
	Codec            string        `mapstructure:"codec"`
	Token            string        `mapstructure:"token"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

type RegistryConfig struct {
	// Kind: none, memory or etcd
	Kind        string        `mapstructure:"kind"`
	Endpoints   []string      `mapstructure:"endpoints"`
	Prefix      string        `mapstructure:"prefix"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	TTL         time.Duration `mapstructure:"ttl"`
}

// AuthConfig maps user names to bcrypt hashes of their secrets. An empty map
// accepts every peer. Viper lowercases map keys, so user names must be lowercase.
type AuthConfig struct {
	Tokens map[string]string `mapstructure:"tokens"`
	// PerRequest checks the token on every request, not only on OpenSession
	PerRequest bool `mapstructure:"per_request"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs     []string       `mapstructure:"outputs"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          ":8080",
			Path:            "/ws",
			Codec:           "binary",
			PingInterval:    30 * time.Second,
			WriteTimeout:    10 * time.Second,
			ReadLimit:       16<<20 + 64,
			HandlerTimeout:  30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			RateBurst:       50,
			ServiceName:     "space",
			Weight:          10,
		},
		Client: ClientConfig{
			Service:          "space",
			Balancer:         "round_robin",
			Codec:            "binary",
			CallTimeout:      5 * time.Second,
			HandshakeTimeout: 10 * time.Second,
		},
		Registry: RegistryConfig{
			Kind:        "none",
			Endpoints:   []string{"127.0.0.1:2379"},
			Prefix:      "/spacelink/",
			DialTimeout: 5 * time.Second,
			TTL:         10 * time.Second,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/spacelink.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from path, or from spacelink.yaml in the usual
// locations when path is empty. A missing file is not an error.
// Environment variables use the prefix SPACELINK with `.` replaced by `_`,
// e.g. SPACELINK_SERVER_LISTEN=:9000.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SPACELINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	seed(v, cfg)

	if path == "" {
		path = os.Getenv("SPACELINK_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("spacelink")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".spacelink"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// seed registers every key with viper so env-only configs work.
func seed(v *viper.Viper, cfg *Config) {
	s := cfg.Server
	v.SetDefault("server.listen", s.Listen)
	v.SetDefault("server.path", s.Path)
	v.SetDefault("server.codec", s.Codec)
	v.SetDefault("server.ping_interval", s.PingInterval)
	v.SetDefault("server.write_timeout", s.WriteTimeout)
	v.SetDefault("server.read_limit", s.ReadLimit)
	v.SetDefault("server.handler_timeout", s.HandlerTimeout)
	v.SetDefault("server.shutdown_timeout", s.ShutdownTimeout)
	v.SetDefault("server.rate_limit", s.RateLimit)
	v.SetDefault("server.rate_burst", s.RateBurst)
	v.SetDefault("server.service_name", s.ServiceName)
	v.SetDefault("server.advertise_addr", s.AdvertiseAddr)
	v.SetDefault("server.weight", s.Weight)

	c := cfg.Client
	v.SetDefault("client.url", c.URL)
	v.SetDefault("client.service", c.Service)
	v.SetDefault("client.balancer", c.Balancer)
	v.SetDefault("client.codec", c.Codec)
	v.SetDefault("client.token", c.Token)
	v.SetDefault("client.call_timeout", c.CallTimeout)
	v.SetDefault("client.handshake_timeout", c.HandshakeTimeout)

	r := cfg.Registry
	v.SetDefault("registry.kind", r.Kind)
	v.SetDefault("registry.endpoints", r.Endpoints)
	v.SetDefault("registry.prefix", r.Prefix)
	v.SetDefault("registry.dial_timeout", r.DialTimeout)
	v.SetDefault("registry.ttl", r.TTL)

	v.SetDefault("auth.tokens", map[string]string{})
	v.SetDefault("auth.per_request", cfg.Auth.PerRequest)

	l := cfg.Log
	v.SetDefault("log.level", l.Level)
	v.SetDefault("log.format", l.Format)
	v.SetDefault("log.outputs", l.Outputs)
	v.SetDefault("log.development", l.Development)
	v.SetDefault("log.rotation.enable", l.Rotation.Enable)
	v.SetDefault("log.rotation.filename", l.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", l.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", l.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", l.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", l.Rotation.Compress)
}

// Validate normalizes the configuration and rejects values the commands cannot use.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	if _, err := codec.ByName(c.Server.Codec); err != nil {
		return fmt.Errorf("invalid server.codec: %w", err)
	}
	if _, err := codec.ByName(c.Client.Codec); err != nil {
		return fmt.Errorf("invalid client.codec: %w", err)
	}
	if _, err := loadbalance.New(c.Client.Balancer); err != nil {
		return fmt.Errorf("invalid client.balancer: %w", err)
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		c.Server.Path = "/" + c.Server.Path
	}

	c.Registry.Kind = strings.ToLower(strings.TrimSpace(c.Registry.Kind))
	switch c.Registry.Kind {
	case "", "none":
		c.Registry.Kind = "none"
	case "memory":
	case "etcd":
		if len(c.Registry.Endpoints) == 0 {
			return errors.New("registry.endpoints is required for etcd")
		}
	default:
		return fmt.Errorf("invalid registry.kind: %q", c.Registry.Kind)
	}
	return nil
}
