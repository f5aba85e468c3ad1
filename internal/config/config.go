package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`

	Server struct {
		Addr            string        `mapstructure:"addr"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
		MaxConns int32  `mapstructure:"max_conns"`
	} `mapstructure:"db"`
	Auth struct {
		OktaDomain      string `mapstructure:"okta_domain"`
		ClientID        string `mapstructure:"client_id"`
		ClientSecret    string `mapstructure:"client_secret"`
		RedirectURL     string `mapstructure:"redirect_url"`
		SwaggerClientID string `mapstructure:"swagger_client_id"`
		// WriteGroup grants write scope to login-flow sessions whose groups claim contains it.
		WriteGroup      string `mapstructure:"write_group"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Lifecycle struct {
		DefaultRetentionDays int `mapstructure:"default_retention_days"`
	} `mapstructure:"lifecycle"`
	Sweeper struct {
		Enabled   bool          `mapstructure:"enabled"`
		Interval  time.Duration `mapstructure:"interval"`
		BatchSize int           `mapstructure:"batch_size"`
		Workers   int           `mapstructure:"workers"`
		Lock      struct {
			Enabled bool          `mapstructure:"enabled"`
			Key     string        `mapstructure:"key"`
			TTL     time.Duration `mapstructure:"ttl"`
		} `mapstructure:"lock"`
	} `mapstructure:"sweeper"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Events struct {
		Enabled bool     `mapstructure:"enabled"`
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"events"`
	Purge struct {
		Tables []string `mapstructure:"tables"`
	} `mapstructure:"purge"`
	MCP struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"mcp"`
	Telemetry struct {
		ServiceName string `mapstructure:"service_name"`
	} `mapstructure:"telemetry"`

	// ConfigFileUsed is the config file viper read, empty when running from
	// defaults and environment only.
	ConfigFileUsed string `mapstructure:"-"`
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// LoadConfig loads the configuration from an optional .env file, a
// config.yaml file and the environment, in increasing precedence.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

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
	cfg.ConfigFileUsed = v.ConfigFileUsed()

	// list-valued env overrides arrive as a single comma separated string
	cfg.Purge.Tables = splitList(cfg.Purge.Tables)
	cfg.Events.Brokers = splitList(cfg.Events.Brokers)
	cfg.TLS.Hostnames = splitList(cfg.TLS.Hostnames)

	cfg.Auth.OktaDomain = normalizeOktaIssuer(cfg.Auth.OktaDomain)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the lifecycle core cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Lifecycle.DefaultRetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("lifecycle.default_retention_days must be positive, got %d", c.Lifecycle.DefaultRetentionDays))
	}
	if c.Sweeper.Interval <= 0 {
		errs = append(errs, fmt.Errorf("sweeper.interval must be positive, got %s", c.Sweeper.Interval))
	}
	if c.Sweeper.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("sweeper.batch_size must be positive, got %d", c.Sweeper.BatchSize))
	}
	if c.Sweeper.Workers <= 0 {
		errs = append(errs, fmt.Errorf("sweeper.workers must be positive, got %d", c.Sweeper.Workers))
	}
	if c.Sweeper.Lock.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("sweeper.lock.enabled requires redis.addr"))
	}
	if c.Events.Enabled && len(c.Events.Brokers) == 0 {
		errs = append(errs, errors.New("events.enabled requires events.brokers"))
	}
	for _, table := range c.Purge.Tables {
		if !identifierPattern.MatchString(table) {
			errs = append(errs, fmt.Errorf("purge.tables: %q is not a valid table identifier", table))
		}
	}
	return errors.Join(errs...)
}

// DSN returns the libpq style connection string for the database.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// IsDev reports whether the service runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "DEV")
	v.SetDefault("dev_mode_bypass", false)
	v.SetDefault("auth.write_group", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.name", "tenant_lifecycle")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("lifecycle.default_retention_days", 30)

	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.interval", 5*time.Minute)
	v.SetDefault("sweeper.batch_size", 100)
	v.SetDefault("sweeper.workers", 4)
	v.SetDefault("sweeper.lock.enabled", false)
	v.SetDefault("sweeper.lock.key", "tenant-lifecycle:sweeper")
	v.SetDefault("sweeper.lock.ttl", 2*time.Minute)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.topic", "tenant-lifecycle")

	v.SetDefault("purge.tables", []string{})
	v.SetDefault("mcp.enabled", true)
	v.SetDefault("telemetry.service_name", "tenant-lifecycle")
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// normalizeOktaIssuer strips whitespace and any trailing slash so the issuer
// pasted from the Okta admin console matches the token's iss claim.
func normalizeOktaIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
