package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	SwitchBot SwitchBotConfig `mapstructure:"switchbot"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Security  SecurityConfig  `mapstructure:"security"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type WebSocketConfig struct {
	PingInterval int `mapstructure:"ping_interval"`
	PongTimeout  int `mapstructure:"pong_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

// SwitchBotConfig holds the vendor account and polling behaviour.
// Token and Secret seed a config entry on first start when set.
type SwitchBotConfig struct {
	Token                  string           `mapstructure:"token"`
	Secret                 string           `mapstructure:"secret"`
	BaseURL                string           `mapstructure:"base_url"`
	RequestTimeout         time.Duration    `mapstructure:"request_timeout"`
	PollInterval           time.Duration    `mapstructure:"poll_interval"`
	MaxConcurrentRefreshes int              `mapstructure:"max_concurrent_refreshes"`
	SetupRetry             SetupRetryConfig `mapstructure:"setup_retry"`
}

type SetupRetryConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type MQTTConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Broker      string        `mapstructure:"broker"`
	ClientID    string        `mapstructure:"client_id"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	QoS         byte          `mapstructure:"qos"`
	Retain      bool          `mapstructure:"retain"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`
}

type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	EnableCORS     bool     `mapstructure:"enable_cors"`
}

// Load reads config.yaml from ./configs or the working directory, then applies
// environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	return load(v)
}

// LoadFile reads configuration from an explicit file path
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// Read environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Override specific values from env
	_ = v.BindEnv("switchbot.token", "SWITCHBOT_API_TOKEN")
	_ = v.BindEnv("switchbot.secret", "SWITCHBOT_API_SECRET")
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("database.path", "DATABASE_PATH")
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("mqtt.broker", "MQTT_BROKER")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration for completeness and correctness
func (c *Config) Validate() error {
	var errors []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errors = append(errors, "server.port must be between 1 and 65535")
	}
	if c.Server.Host == "" {
		errors = append(errors, "server.host is required")
	}

	if c.Database.Path == "" {
		errors = append(errors, "database.path is required")
	}

	if (c.SwitchBot.Token == "") != (c.SwitchBot.Secret == "") {
		errors = append(errors, "switchbot.token and switchbot.secret must be set together")
	}
	if _, err := url.ParseRequestURI(c.SwitchBot.BaseURL); err != nil {
		errors = append(errors, "switchbot.base_url must be an absolute URL")
	}
	if c.SwitchBot.PollInterval < time.Second {
		errors = append(errors, "switchbot.poll_interval must be at least 1s")
	}
	if c.SwitchBot.RequestTimeout <= 0 {
		errors = append(errors, "switchbot.request_timeout must be greater than 0")
	}
	if c.SwitchBot.MaxConcurrentRefreshes <= 0 {
		errors = append(errors, "switchbot.max_concurrent_refreshes must be greater than 0")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errors = append(errors, "mqtt.broker is required when MQTT is enabled")
		}
		if c.MQTT.QoS > 2 {
			errors = append(errors, "mqtt.qos must be 0, 1 or 2")
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.path", "./data/switchbot.db")
	v.SetDefault("database.max_connections", 1)
	v.SetDefault("database.auto_migrate", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// WebSocket defaults
	v.SetDefault("websocket.ping_interval", 30)
	v.SetDefault("websocket.pong_timeout", 60)
	v.SetDefault("websocket.write_timeout", 10)

	// SwitchBot defaults
	v.SetDefault("switchbot.token", "")
	v.SetDefault("switchbot.secret", "")
	v.SetDefault("switchbot.base_url", "https://api.switch-bot.com")
	v.SetDefault("switchbot.request_timeout", "30s")
	v.SetDefault("switchbot.poll_interval", "60s")
	v.SetDefault("switchbot.max_concurrent_refreshes", 4)
	v.SetDefault("switchbot.setup_retry.initial_interval", "10s")
	v.SetDefault("switchbot.setup_retry.max_interval", "5m")
	v.SetDefault("switchbot.setup_retry.max_elapsed_time", "30m")

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "pma-switchbot")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "pma/switchbot")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.retain", true)
	v.SetDefault("mqtt.timeout", "10s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.prefix", "pma_switchbot")

	// Security defaults
	v.SetDefault("security.allowed_origins", []string{"*"})
	v.SetDefault("security.enable_cors", true)
}
