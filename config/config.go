// Package config loads server settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stevemurr/typed-doc-server/store"
)

// Config is the complete server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	// Backend is one of json, sqlite, memory or mongo.
	Backend  string `yaml:"backend"`
	DataDir  string `yaml:"data_dir"`
	MongoURI string `yaml:"mongo_uri"`
	MongoDB  string `yaml:"mongo_db"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Backend:  store.BackendJSON,
			DataDir:  "./data",
			MongoURI: "mongodb://localhost:27017/",
			MongoDB:  "mydatabase",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and environment overrides, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables if
// set. Invalid values are errors.
func applyEnvOverrides(cfg *Config) error {
	if host := os.Getenv("HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.Server.Port = p
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	} else if web := os.Getenv("WEB_URL"); web != "" {
		cfg.Server.AllowedOrigins = []string{web}
	}
	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid SHUTDOWN_TIMEOUT %q: %w", timeout, err)
		}
		cfg.Server.ShutdownTimeout = d
	}

	if backend := os.Getenv("STORE_BACKEND"); backend != "" {
		cfg.Store.Backend = backend
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Store.DataDir = dir
	}
	if uri := os.Getenv("MONGO_CONNECTION_STRING"); uri != "" {
		cfg.Store.MongoURI = uri
	} else if uri := os.Getenv("CONNECTION_STRING"); uri != "" {
		cfg.Store.MongoURI = uri
	}
	if db := os.Getenv("MONGO_DB_NAME"); db != "" {
		cfg.Store.MongoDB = db
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Log.Format = format
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative, got %s", c.Server.ShutdownTimeout))
	}
	switch c.Store.Backend {
	case store.BackendJSON, store.BackendSqlite:
		if c.Store.DataDir == "" {
			errs = append(errs, fmt.Errorf("store.data_dir is required for the %s backend", c.Store.Backend))
		}
	case store.BackendMemory:
	case store.BackendMongo:
		if c.Store.MongoURI == "" {
			errs = append(errs, errors.New("store.mongo_uri is required for the mongo backend"))
		} else if u, err := url.Parse(c.Store.MongoURI); err != nil || (u.Scheme != "mongodb" && u.Scheme != "mongodb+srv") {
			errs = append(errs, errors.New("store.mongo_uri must be a mongodb:// or mongodb+srv:// URI"))
		}
		if c.Store.MongoDB == "" {
			errs = append(errs, errors.New("store.mongo_db is required for the mongo backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", store.ErrUnknownBackend, c.Store.Backend))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// StoreOptions converts the store settings for store.New.
func (c Config) StoreOptions() store.Options {
	return store.Options{
		Backend:       c.Store.Backend,
		DataDir:       c.Store.DataDir,
		MongoURI:      c.Store.MongoURI,
		MongoDatabase: c.Store.MongoDB,
	}
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// String renders the configuration with credentials removed from the mongo
// URI, for logging.
func (c Config) String() string {
	return fmt.Sprintf("Config(addr=%s, origins=%v, backend=%s, data_dir=%s, mongo_uri=%s, mongo_db=%s, log=%s/%s)",
		c.Addr(), c.Server.AllowedOrigins, c.Store.Backend, c.Store.DataDir,
		redactURI(c.Store.MongoURI), c.Store.MongoDB, c.Log.Level, c.Log.Format)
}

func redactURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	if u.User != nil {
		u.User = url.User("REDACTED")
	}
	return u.String()
}
