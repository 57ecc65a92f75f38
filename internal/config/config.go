// Package config loads process configuration from CLI flags, environment
// variables and an optional config file, the way rules/internal/config and
// common/config/cli.go do it in the rest of the stack — except here flags
// are bound ahead of viper.AutomaticEnv so a flag always wins over its
// environment equivalent, per the external-interface contract.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// YearMode controls how the parser infers the year for syslog timestamps
// that carry no year field (RFC3164).
type YearMode string

const (
	YearModeCurrent  YearMode = "current"
	YearModePrevious YearMode = "previous"
	YearModeAuto     YearMode = "auto"
)

// ClassificationPrecedence controls whether zone or interface labels win
// when both are present and in conflict during endpoint classification.
type ClassificationPrecedence string

const (
	PrecedenceZoneFirst      ClassificationPrecedence = "zone_first"
	PrecedenceInterfaceFirst ClassificationPrecedence = "interface_first"
)

// Config is the fully resolved process configuration.
type Config struct {
	WebHost                  string                   `mapstructure:"web_host"`
	WebPort                  int                      `mapstructure:"web_port"`
	SyslogHost               string                   `mapstructure:"syslog_host"`
	SyslogPort               int                      `mapstructure:"syslog_port"`
	DatabaseURL              string                   `mapstructure:"database_url"`
	ServeFrontend            bool                     `mapstructure:"serve_frontend"`
	FrontendDir              string                   `mapstructure:"frontend_dir"`
	LogLevel                 string                   `mapstructure:"log_level"`
	LogFormat                string                   `mapstructure:"log_format"`
	YearMode                 YearMode                 `mapstructure:"year_mode"`
	ClassificationPrecedence ClassificationPrecedence `mapstructure:"classification_precedence"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	DBMaxConns        int32         `mapstructure:"db_max_conns"`
	DBMinConns        int32         `mapstructure:"db_min_conns"`
	DBMaxConnLifetime time.Duration `mapstructure:"db_max_conn_lifetime"`
	DBMaxConnIdleTime time.Duration `mapstructure:"db_max_conn_idle_time"`

	ImportStagingDir string `mapstructure:"import_staging_dir"`
}

// Addr returns the web listener address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.WebHost, c.WebPort)
}

// SyslogAddr returns the UDP listener address in host:port form.
func (c *Config) SyslogAddr() string {
	return fmt.Sprintf("%s:%d", c.SyslogHost, c.SyslogPort)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("web_host", "0.0.0.0")
	v.SetDefault("web_port", 8090)
	v.SetDefault("syslog_host", "0.0.0.0")
	v.SetDefault("syslog_port", 5514)
	v.SetDefault("database_url", "")
	v.SetDefault("serve_frontend", false)
	v.SetDefault("frontend_dir", "./frontend/dist")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("year_mode", string(YearModeAuto))
	v.SetDefault("classification_precedence", string(PrecedenceZoneFirst))
	v.SetDefault("read_timeout", "30s")
	v.SetDefault("write_timeout", "60s")
	v.SetDefault("idle_timeout", "60s")
	v.SetDefault("db_max_conns", 20)
	v.SetDefault("db_min_conns", 2)
	v.SetDefault("db_max_conn_lifetime", "1h")
	v.SetDefault("db_max_conn_idle_time", "15m")
	v.SetDefault("import_staging_dir", "./data/imports")
}

// BindFlags registers every CLI flag on cmd and binds it into v ahead of
// AutomaticEnv so that, per flag, precedence is: explicit flag > env var >
// config file > default. Viper resolves a bound pflag before falling back
// to env because the flag's Changed bit is consulted first.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.Flags()

	flags.String("web-host", "0.0.0.0", "HTTP API bind host")
	flags.Int("web-port", 8090, "HTTP API bind port")
	flags.String("syslog-host", "0.0.0.0", "UDP syslog bind host")
	flags.Int("syslog-port", 5514, "UDP syslog bind port")
	flags.String("database-url", "", "PostgreSQL connection URL")
	flags.Bool("serve-frontend", false, "serve the bundled frontend alongside the API")
	flags.String("frontend-dir", "./frontend/dist", "directory containing the built frontend")
	flags.String("log-level", "info", "log level: debug|info|warn|error")
	flags.String("year-mode", string(YearModeAuto), "year inference mode: current|previous|auto")
	flags.String("classification-precedence", string(PrecedenceZoneFirst), "zone_first|interface_first")

	bind := func(key, flag string) {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	bind("web_host", "web-host")
	bind("web_port", "web-port")
	bind("syslog_host", "syslog-host")
	bind("syslog_port", "syslog-port")
	bind("database_url", "database-url")
	bind("serve_frontend", "serve-frontend")
	bind("frontend_dir", "frontend-dir")
	bind("log_level", "log-level")
	bind("year_mode", "year-mode")
	bind("classification_precedence", "classification-precedence")
}

// Load resolves configuration from (in ascending precedence) defaults, an
// optional YAML config file, environment variables prefixed NETWALL_, and
// flags already bound onto v via BindFlags.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("netwall")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/netwall")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("NETWALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
