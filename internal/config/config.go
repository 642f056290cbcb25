package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr     string `mapstructure:"addr"`
		LogLevel string `mapstructure:"log_level"`
		// BaseURL prefixes the endpoint URLs handed out by the config endpoint.
		// Empty means derive it from the request host.
		BaseURL string `mapstructure:"base_url"`
	} `mapstructure:"server"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
	} `mapstructure:"listener"`

	Catalog struct {
		// Source is "postgres" or "fixture".
		Source            string   `mapstructure:"source"`
		FixturePath       string   `mapstructure:"fixture_path"`
		RefreshSeconds    int      `mapstructure:"refresh_seconds"`
		RolloutPercentage int      `mapstructure:"rollout_percentage"`
		NextPingMillis    int64    `mapstructure:"next_ping_millis"`
		SubscriptionKeys  []string `mapstructure:"subscription_keys"`
	} `mapstructure:"catalog"`

	SDK struct {
		ConfigURL       string `mapstructure:"config_url"`
		SubscriptionKey string `mapstructure:"subscription_key"`
		AppID           string `mapstructure:"app_id"`
		AppVersion      string `mapstructure:"app_version"`
		Locale          string `mapstructure:"locale"`
		StatePath       string `mapstructure:"state_path"`
	} `mapstructure:"sdk"`
}

// Load reads configs/application.yaml and APP_* env overrides. It panics on a
// malformed config.
func Load() Config {
	cfg, err := LoadFile("")
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadFile is Load with an explicit config file. An empty file searches configs/.
func LoadFile(file string) (Config, error) {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("application")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		_ = v.ReadInConfig() // optional; env can fully configure
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}
	validate(&cfg)
	return cfg, nil
}

// bindEnv registers keys that may only come from the environment; AutomaticEnv
// alone does not surface them to Unmarshal.
func bindEnv(v *viper.Viper) {
	for _, k := range []string{
		"server.addr", "server.log_level", "server.base_url",
		"postgres.host", "postgres.port", "postgres.user", "postgres.password", "postgres.db_name",
		"catalog.source", "catalog.fixture_path", "catalog.rollout_percentage",
		"sdk.config_url", "sdk.subscription_key", "sdk.state_path",
	} {
		_ = v.BindEnv(k)
	}
}

func validate(c *Config) {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 10
	}
	if c.Postgres.MaxIdleConns == 0 {
		c.Postgres.MaxIdleConns = 10
	}
	if c.Listener.ReconnectSeconds <= 0 {
		c.Listener.ReconnectSeconds = 5
	}
	if c.Catalog.Source == "" {
		c.Catalog.Source = "postgres"
		if c.Catalog.FixturePath != "" {
			c.Catalog.Source = "fixture"
		}
	}
	if c.Catalog.RefreshSeconds <= 0 {
		c.Catalog.RefreshSeconds = 30
	}
	if c.Catalog.RolloutPercentage <= 0 || c.Catalog.RolloutPercentage > 100 {
		c.Catalog.RolloutPercentage = 100
	}
	if c.Catalog.NextPingMillis <= 0 {
		c.Catalog.NextPingMillis = int64(time.Hour / time.Millisecond)
	}
	if c.SDK.AppVersion == "" {
		c.SDK.AppVersion = "1.0.0"
	}
	if c.SDK.Locale == "" {
		c.SDK.Locale = "en-US"
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Listener.ReconnectSeconds) * time.Second }

func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.Catalog.RefreshSeconds) * time.Second
}
