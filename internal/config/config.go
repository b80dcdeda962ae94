package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the tenantpbx server.
// Precedence: CLI flags > env vars > .env file > defaults.
type Config struct {
	DBDriver   string
	DBDSN      string
	DBMaxConns int

	HTTPPort int
	AGIPort  int
	// AGIURL is the address Asterisk dials for AGI(), embedded in every
	// rendered dialplan.
	AGIURL              string
	AGIVariablesTimeout time.Duration // 0 waits forever

	DialplanDir   string
	ReloadMode    string // "command", "ari" or "none"
	ReloadCommand string
	ReloadTimeout time.Duration

	ARIURL          string
	ARIWebsocketURL string
	ARIUsername     string
	ARIPassword     string
	ARIApplication  string

	AdminJWTSecret string // hex-encoded 32-byte secret; empty disables admin auth
	LogLevel       string
	LogFormat      string
}

// Reload modes.
const (
	ReloadCommand = "command"
	ReloadARI     = "ari"
	ReloadNone    = "none"
)

// defaults
const (
	defaultDBDriver            = "sqlite"
	defaultDBDSN               = "./data/tenantpbx.db"
	defaultDBMaxConns          = 10
	defaultHTTPPort            = 3000
	defaultAGIPort             = 4573
	defaultAGIURL              = "agi://localhost:4573"
	defaultAGIVariablesTimeout = 10 * time.Second
	defaultDialplanDir         = "./dialplans"
	defaultReloadMode          = ReloadCommand
	defaultReloadCommand       = `asterisk -rx "dialplan reload"`
	defaultReloadTimeout       = 10 * time.Second
	defaultARIURL              = "http://localhost:8088/ari"
	defaultARIWebsocketURL     = "ws://localhost:8088/ari/events"
	defaultARIApplication      = "tenantpbx"
	defaultLogLevel            = "info"
	defaultLogFormat           = "text"
	defaultEnvFile             = ".env"
)

// envPrefix is the prefix for all tenantpbx environment variables, e.g.
// TENANTPBX_HTTP_PORT.
const envPrefix = "TENANTPBX"

// RegisterFlags adds every configuration flag with its default to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("env-file", defaultEnvFile, "dotenv file loaded into the environment if present")

	fs.String("db-driver", defaultDBDriver, "database driver (sqlite, pgx)")
	fs.String("db-dsn", defaultDBDSN, "database file path (sqlite) or connection string (pgx)")
	fs.Int("db-max-conns", defaultDBMaxConns, "maximum open database connections (pgx only)")

	fs.Int("http-port", defaultHTTPPort, "admin HTTP API listen port")
	fs.Int("agi-port", defaultAGIPort, "FastAGI listen port")
	fs.String("agi-url", defaultAGIURL, "FastAGI address Asterisk uses, written into generated dialplans")
	fs.Duration("agi-variables-timeout", defaultAGIVariablesTimeout, "how long a FastAGI session may take to send its variables (0 = no limit)")

	fs.String("dialplan-dir", defaultDialplanDir, "directory for generated per-tenant dialplan files")
	fs.String("reload-mode", defaultReloadMode, "how to reload the dialplan after provisioning (command, ari, none)")
	fs.String("reload-command", defaultReloadCommand, "shell command run when reload-mode is command")
	fs.Duration("reload-timeout", defaultReloadTimeout, "upper bound for one dialplan reload")

	fs.String("ari-url", defaultARIURL, "Asterisk REST Interface base URL")
	fs.String("ari-ws-url", defaultARIWebsocketURL, "Asterisk REST Interface websocket URL")
	fs.String("ari-username", "", "ARI username")
	fs.String("ari-password", "", "ARI password")
	fs.String("ari-application", defaultARIApplication, "ARI application name")

	fs.String("admin-jwt-secret", "", "hex-encoded 32-byte secret for admin API tokens (empty disables admin auth)")
	fs.String("log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.String("log-format", defaultLogFormat, "log output format (text, json)")
}

// Load resolves the configuration for flags registered with RegisterFlags
// and already parsed.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// godotenv never overrides variables already set in the environment.
	if err := loadDotEnv(v.GetString("env-file")); err != nil {
		return nil, err
	}

	cfg := &Config{
		DBDriver:            v.GetString("db-driver"),
		DBDSN:               v.GetString("db-dsn"),
		DBMaxConns:          v.GetInt("db-max-conns"),
		HTTPPort:            v.GetInt("http-port"),
		AGIPort:             v.GetInt("agi-port"),
		AGIURL:              v.GetString("agi-url"),
		AGIVariablesTimeout: v.GetDuration("agi-variables-timeout"),
		DialplanDir:         v.GetString("dialplan-dir"),
		ReloadMode:          v.GetString("reload-mode"),
		ReloadCommand:       v.GetString("reload-command"),
		ReloadTimeout:       v.GetDuration("reload-timeout"),
		ARIURL:              v.GetString("ari-url"),
		ARIWebsocketURL:     v.GetString("ari-ws-url"),
		ARIUsername:         v.GetString("ari-username"),
		ARIPassword:         v.GetString("ari-password"),
		ARIApplication:      v.GetString("ari-application"),
		AdminJWTSecret:      v.GetString("admin-jwt-secret"),
		LogLevel:            v.GetString("log-level"),
		LogFormat:           v.GetString("log-format"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.AGIPort < 1 || c.AGIPort > 65535 {
		return fmt.Errorf("agi-port must be between 1 and 65535, got %d", c.AGIPort)
	}
	if c.AGIPort == c.HTTPPort {
		return fmt.Errorf("agi-port and http-port must differ, both are %d", c.AGIPort)
	}

	c.DBDriver = strings.ToLower(c.DBDriver)
	if c.DBDriver != "sqlite" && c.DBDriver != "pgx" {
		return fmt.Errorf("db-driver must be one of sqlite, pgx; got %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return errors.New("db-dsn is required")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("db-max-conns must be at least 1, got %d", c.DBMaxConns)
	}

	u, err := url.Parse(c.AGIURL)
	if err != nil || u.Scheme != "agi" || u.Host == "" {
		return fmt.Errorf("agi-url must look like agi://host[:port]; got %q", c.AGIURL)
	}
	if c.AGIVariablesTimeout < 0 {
		return fmt.Errorf("agi-variables-timeout must not be negative, got %s", c.AGIVariablesTimeout)
	}

	if c.DialplanDir == "" {
		return errors.New("dialplan-dir is required")
	}

	c.ReloadMode = strings.ToLower(c.ReloadMode)
	switch c.ReloadMode {
	case ReloadCommand:
		if strings.TrimSpace(c.ReloadCommand) == "" {
			return errors.New("reload-command is required when reload-mode is command")
		}
	case ReloadARI:
		if c.ARIURL == "" || c.ARIWebsocketURL == "" || c.ARIApplication == "" {
			return errors.New("ari-url, ari-ws-url and ari-application are required when reload-mode is ari")
		}
	case ReloadNone:
	default:
		return fmt.Errorf("reload-mode must be one of command, ari, none; got %q", c.ReloadMode)
	}
	if c.ReloadTimeout <= 0 {
		return fmt.Errorf("reload-timeout must be positive, got %s", c.ReloadTimeout)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if _, err := c.AdminJWTSecretBytes(); err != nil {
		return err
	}

	return nil
}

// AdminJWTSecretBytes returns the decoded 32-byte admin token secret, or
// nil if admin auth is disabled.
func (c *Config) AdminJWTSecretBytes() ([]byte, error) {
	if c.AdminJWTSecret == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.AdminJWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding admin jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("admin jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// HTTPAddr returns the admin API listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// AGIAddr returns the FastAGI listen address.
func (c *Config) AGIAddr() string {
	return fmt.Sprintf(":%d", c.AGIPort)
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
