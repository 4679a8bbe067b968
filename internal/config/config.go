// Package config loads subhub's runtime configuration, grounded on
// the sibling example's viper-based internal/config: defaults set
// first, then overridden by an optional config file and environment
// variables under the SUBHUB_ prefix.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Cluster ClusterConfig `mapstructure:"cluster"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	ID              string        `mapstructure:"id"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	WebsocketPath   string        `mapstructure:"websocket_path"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ClusterConfig controls the NATS connection the cluster-state bridges
// and transports share (one per registry.Kind, see internal/clusterbridge).
type ClusterConfig struct {
	NATSURL         string        `mapstructure:"nats_url"`
	MaxReconnects   int           `mapstructure:"max_reconnects"`
	ReconnectWait   time.Duration `mapstructure:"reconnect_wait"`
	ReconnectJitter time.Duration `mapstructure:"reconnect_jitter"`
	MaxPingsOut     int           `mapstructure:"max_pings_out"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	EdgeGossipRPS   float64       `mapstructure:"edge_gossip_rps"`
}

// AuthConfig controls the JWT admission check run when a websocket
// connection is first accepted; registry operations themselves are
// never authorization-aware (spec §1 Non-goal).
type AuthConfig struct {
	Secret   string `mapstructure:"secret"`
	Issuer   string `mapstructure:"issuer"`
	Required bool   `mapstructure:"required"`
}

type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Endpoint   string `mapstructure:"endpoint"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from an optional config file, then
// SUBHUB_-prefixed environment variables, falling back to the defaults
// set below.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.id", "")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocket_path", "/ws")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("cluster.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("cluster.max_reconnects", -1)
	v.SetDefault("cluster.reconnect_wait", 2*time.Second)
	v.SetDefault("cluster.reconnect_jitter", 500*time.Millisecond)
	v.SetDefault("cluster.max_pings_out", 3)
	v.SetDefault("cluster.ping_interval", 20*time.Second)
	v.SetDefault("cluster.edge_gossip_rps", 500.0)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "subhub")
	v.SetDefault("auth.required", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9090")
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("subhub")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("SUBHUB")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.Server.ID == "" {
		cfg.Server.ID = generateServerID()
	}
	if cfg.Auth.Required && cfg.Auth.Secret == "" {
		return Config{}, fmt.Errorf("auth.secret must be set when auth.required is true")
	}

	return cfg, nil
}
