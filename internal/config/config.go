// Package config loads service configuration from an optional YAML file,
// TANKMON_* environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/sweeney/tank-monitor/internal/mqtt"
)

// EnvPrefix is prepended to every environment variable, e.g. TANKMON_MQTT_PASSWORD.
const EnvPrefix = "TANKMON"

// Config holds the service configuration.
type Config struct {
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	DB      DBConfig      `mapstructure:"db"`
	Channel ChannelConfig `mapstructure:"channel"`
	Log     LogConfig     `mapstructure:"log"`
}

// MQTTConfig is the broker endpoint and credentials. Credentials have no defaults.
type MQTTConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	TLS            bool          `mapstructure:"tls"`
	WebSocket      bool          `mapstructure:"websocket"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// Transport returns the transport settings for the paho dialer.
func (c MQTTConfig) Transport() mqtt.Config {
	return mqtt.Config{
		Host:           c.Host,
		Port:           c.Port,
		TLS:            c.TLS,
		WebSocket:      c.WebSocket,
		ClientID:       c.ClientID,
		Username:       c.Username,
		Password:       c.Password,
		ConnectTimeout: c.ConnectTimeout,
	}
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

// ChannelConfig tunes live sessions.
type ChannelConfig struct {
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	RecentLimit int           `mapstructure:"recent_limit"`
	AutoOpen    bool          `mapstructure:"auto_open"` // open a session for every stored tank on serve
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mqtt.port", 8883)
	v.SetDefault("mqtt.tls", true)
	v.SetDefault("mqtt.websocket", false)
	v.SetDefault("mqtt.connect_timeout", "10s")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("db.path", "tank-monitor.db")
	v.SetDefault("channel.retry_delay", "5s")
	v.SetDefault("channel.recent_limit", 50)
	v.SetDefault("channel.auto_open", false)
	v.SetDefault("log.level", "info")
}

// Load reads configuration. With an empty path it looks for config.yaml in
// the working directory, ./configs and /etc/tank-monitor, and a missing file
// is not an error. Environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Keys without defaults are invisible to Unmarshal unless bound.
	for _, key := range []string{"mqtt.host", "mqtt.client_id", "mqtt.username", "mqtt.password"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/tank-monitor/")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "tank-monitor-" + uuid.NewString()[:8]
	}
	return &cfg, nil
}

// Validate reports settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.MQTT.Host) == "" {
		errs = append(errs, errors.New("mqtt.host is required"))
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		errs = append(errs, fmt.Errorf("mqtt.port %d out of range", c.MQTT.Port))
	}
	if c.MQTT.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("mqtt.connect_timeout must be positive"))
	}
	if c.Channel.RetryDelay <= 0 {
		errs = append(errs, errors.New("channel.retry_delay must be positive"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.DB.Path == "" {
		errs = append(errs, errors.New("db.path is required"))
	}
	return errors.Join(errs...)
}
