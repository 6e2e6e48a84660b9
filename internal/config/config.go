// Package config loads runtime settings from defaults, an optional config
// file, environment variables and the --port flag, then sanitizes them.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// RateLimitConfig defines the parameters for per-connection frame rate limiting.
type RateLimitConfig struct {
	Burst          int           `mapstructure:"burst"`
	RefillInterval time.Duration `mapstructure:"refill_interval"`
}

type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	HTTPAddress    string        `mapstructure:"http_address"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	MaxMessageSize int           `mapstructure:"max_message_size"`
	SendQueueSize  int           `mapstructure:"send_queue_size"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
}

// SessionConfig controls the identification step of every session.
type SessionConfig struct {
	RequireClientID bool   `mapstructure:"require_client_id"`
	AnonymousName   string `mapstructure:"anonymous_name"`
}

// BoardConfig holds the post policies that differed between server variants.
type BoardConfig struct {
	EchoPostNotices bool `mapstructure:"echo_post_notices"`
	RequireMetadata bool `mapstructure:"require_metadata"`
}

type RelayConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type InstanceConfig struct {
	ID string `mapstructure:"id"`
}

type StatsConfig struct {
	Schedule string `mapstructure:"schedule"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Config holds every setting of the board server.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Session   SessionConfig   `mapstructure:"session"`
	Board     BoardConfig     `mapstructure:"board"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Instance  InstanceConfig  `mapstructure:"instance"`
	Stats     StatsConfig     `mapstructure:"stats"`
	Log       LogConfig       `mapstructure:"log"`
}

const (
	defaultPort           = 9999
	defaultMaxMessageSize = 4096
	defaultSendQueueSize  = 256
	defaultWriteTimeout   = 10 * time.Second
	defaultBurst          = 20
	defaultRefillInterval = time.Second
	defaultAnonymousName  = "Someone"
	defaultRelayChannel   = "board_events"
)

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           defaultPort,
			HTTPAddress:    ":8080",
			AllowedOrigins: []string{"http://localhost:8080"},
			MaxMessageSize: defaultMaxMessageSize,
			SendQueueSize:  defaultSendQueueSize,
			WriteTimeout:   defaultWriteTimeout,
		},
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefillInterval,
		},
		Session: SessionConfig{
			RequireClientID: true,
			AnonymousName:   defaultAnonymousName,
		},
		Board: BoardConfig{
			EchoPostNotices: true,
		},
		Relay: RelayConfig{
			Address: "localhost:6379",
			Channel: defaultRelayChannel,
		},
		Stats: StatsConfig{Schedule: "@every 1m"},
		Log:   LogConfig{Level: "info"},
	}
}

// Load reads configuration using viper. args are command-line arguments
// without the program name; only --port (and --config) are recognised.
func Load(args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	flags := pflag.NewFlagSet("boardchat", pflag.ContinueOnError)
	flags.Int("port", defaultPort, "TCP port for the line protocol")
	configFile := flags.String("config", "", "path to a config file")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("server.port", flags.Lookup("port")); err != nil {
		return nil, err
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/boardchat/")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg = Sanitize(cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.http_address", d.Server.HTTPAddress)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.max_message_size", d.Server.MaxMessageSize)
	v.SetDefault("server.send_queue_size", d.Server.SendQueueSize)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
	v.SetDefault("rate_limit.refill_interval", d.RateLimit.RefillInterval)
	v.SetDefault("session.require_client_id", d.Session.RequireClientID)
	v.SetDefault("session.anonymous_name", d.Session.AnonymousName)
	v.SetDefault("board.echo_post_notices", d.Board.EchoPostNotices)
	v.SetDefault("board.require_metadata", d.Board.RequireMetadata)
	v.SetDefault("relay.enabled", d.Relay.Enabled)
	v.SetDefault("relay.address", d.Relay.Address)
	v.SetDefault("relay.password", d.Relay.Password)
	v.SetDefault("relay.db", d.Relay.DB)
	v.SetDefault("relay.channel", d.Relay.Channel)
	v.SetDefault("instance.id", "")
	v.SetDefault("stats.schedule", d.Stats.Schedule)
	v.SetDefault("log.level", d.Log.Level)
}

// bindEnv keeps the variable names operators already use for the chat server.
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.host", "SERVER_HOST")
	_ = v.BindEnv("server.http_address", "HTTP_ADDRESS")
	_ = v.BindEnv("server.allowed_origins", "ALLOWED_ORIGINS")
	_ = v.BindEnv("server.max_message_size", "MAX_MESSAGE_SIZE")
	_ = v.BindEnv("rate_limit.burst", "RATE_LIMIT_BURST")
	_ = v.BindEnv("rate_limit.refill_interval", "RATE_LIMIT_REFILL_INTERVAL")
	_ = v.BindEnv("relay.address", "REDIS_ADDRESS")
	_ = v.BindEnv("relay.password", "REDIS_PASSWORD")
	_ = v.BindEnv("relay.db", "REDIS_DB")
	_ = v.BindEnv("instance.id", "INSTANCE_ID")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
}

// Sanitize repairs out-of-range values and fills the instance id.
func Sanitize(cfg Config) Config {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		cfg.Server.Port = defaultPort
	}

	if cfg.Server.MaxMessageSize <= 0 {
		cfg.Server.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.Server.SendQueueSize <= 0 {
		cfg.Server.SendQueueSize = defaultSendQueueSize
	}

	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}

	if cfg.Server.IdleTimeout < 0 {
		cfg.Server.IdleTimeout = 0
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}

	if strings.TrimSpace(cfg.Session.AnonymousName) == "" {
		cfg.Session.AnonymousName = defaultAnonymousName
	}

	if cfg.Relay.Channel == "" {
		cfg.Relay.Channel = defaultRelayChannel
	}

	if cfg.Instance.ID == "" {
		cfg.Instance.ID = uuid.NewString()
	}

	cfg.Server.AllowedOrigins = splitOrigins(cfg.Server.AllowedOrigins)
	return cfg
}

// splitOrigins accepts both list values and a single comma-separated string,
// which is how ALLOWED_ORIGINS arrives from the environment.
func splitOrigins(origins []string) []string {
	var out []string
	for _, entry := range origins {
		for _, part := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

// TCPAddress is the listen address for the line protocol.
func (c *Config) TCPAddress() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// String returns a one-line summary suitable for startup logs.
func (c *Config) String() string {
	return fmt.Sprintf(
		"tcp: %s, http: %q, relay: %t (%s), instance: %s",
		c.TCPAddress(),
		c.Server.HTTPAddress,
		c.Relay.Enabled,
		c.Relay.Address,
		c.Instance.ID,
	)
}
