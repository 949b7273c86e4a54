package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Worker       WorkerConfig       `yaml:"worker"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Backup       BackupConfig       `yaml:"backup"`
	Auth         AuthConfig         `yaml:"auth"`
	Log          LogConfig          `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains mutation queue database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GatewayConfig contains settings for the upstream application API.
type GatewayConfig struct {
	BaseURL    string `yaml:"base_url"`
	HealthPath string `yaml:"health_path"`
	Token      string `yaml:"-"` // env-only, never in YAML
}

// WorkerConfig contains caching worker settings.
type WorkerConfig struct {
	Origin      string   `yaml:"origin"`
	Version     string   `yaml:"version"`
	VersionFile string   `yaml:"version_file"`
	Manifest    []string `yaml:"manifest"`
	OfflinePath string   `yaml:"offline_path"`
	APIPrefix   string   `yaml:"api_prefix"`
	SyncTag     string   `yaml:"sync_tag"`
}

// ConnectivityConfig contains connectivity monitor settings.
type ConnectivityConfig struct {
	ProbeInterval Duration `yaml:"probe_interval"`
}

// BackupConfig contains S3-compatible queue backup settings.
// Backup is disabled when Bucket is empty.
type BackupConfig struct {
	Bucket    string   `yaml:"bucket"`
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	UseSSL    *bool    `yaml:"use_ssl"`
	Interval  Duration `yaml:"interval"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
}

// AuthConfig contains authentication settings for the admin surface.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("TETHER_CONFIG_PATH", "config/tether.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8090,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/tether.db",
		},
		Gateway: GatewayConfig{
			HealthPath: "/v1/health",
		},
		Worker: WorkerConfig{
			Version:     "v1",
			VersionFile: "data/worker.version",
			OfflinePath: "/offline.html",
			APIPrefix:   "/api/",
			SyncTag:     "tether-mutations",
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: Duration(15 * time.Second),
		},
		Backup: BackupConfig{
			Interval: Duration(1 * time.Hour),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("TETHER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TETHER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("TETHER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("TETHER_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Database
	if v := os.Getenv("TETHER_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Gateway
	if v := os.Getenv("TETHER_GATEWAY_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("TETHER_GATEWAY_HEALTH_PATH"); v != "" {
		cfg.Gateway.HealthPath = v
	}
	if v := os.Getenv("TETHER_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Token = v
	}

	// Worker
	if v := os.Getenv("TETHER_ORIGIN"); v != "" {
		cfg.Worker.Origin = v
	}
	if v := os.Getenv("TETHER_WORKER_VERSION"); v != "" {
		cfg.Worker.Version = v
	}
	if v := os.Getenv("TETHER_WORKER_VERSION_FILE"); v != "" {
		cfg.Worker.VersionFile = v
	}
	if v := os.Getenv("TETHER_OFFLINE_PATH"); v != "" {
		cfg.Worker.OfflinePath = v
	}
	if v := os.Getenv("TETHER_API_PREFIX"); v != "" {
		cfg.Worker.APIPrefix = v
	}
	if v := os.Getenv("TETHER_SYNC_TAG"); v != "" {
		cfg.Worker.SyncTag = v
	}

	// Connectivity
	if v := os.Getenv("TETHER_PROBE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Connectivity.ProbeInterval = Duration(d)
		}
	}

	// Backup
	if v := os.Getenv("TETHER_BACKUP_BUCKET"); v != "" {
		cfg.Backup.Bucket = v
	}
	if v := os.Getenv("TETHER_BACKUP_ENDPOINT"); v != "" {
		cfg.Backup.Endpoint = v
	}
	if v := os.Getenv("TETHER_BACKUP_REGION"); v != "" {
		cfg.Backup.Region = v
	}
	if v := os.Getenv("TETHER_BACKUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backup.Interval = Duration(d)
		}
	}
	if v := os.Getenv("TETHER_BACKUP_ACCESS_KEY"); v != "" {
		cfg.Backup.AccessKey = v
	}
	if v := os.Getenv("TETHER_BACKUP_SECRET_KEY"); v != "" {
		cfg.Backup.SecretKey = v
	}

	// Auth
	if v := os.Getenv("TETHER_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Log
	if v := os.Getenv("TETHER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TETHER_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set and coherent.
func (c *Config) validate() error {
	if c.Worker.Origin == "" {
		return errors.New("worker.origin is required (TETHER_ORIGIN)")
	}
	if _, err := url.Parse(c.Worker.Origin); err != nil {
		return fmt.Errorf("worker.origin is not a valid URL: %w", err)
	}
	if c.Gateway.BaseURL == "" {
		return errors.New("gateway.base_url is required (TETHER_GATEWAY_URL)")
	}
	if _, err := url.Parse(c.Gateway.BaseURL); err != nil {
		return fmt.Errorf("gateway.base_url is not a valid URL: %w", err)
	}
	if len(c.Worker.Manifest) > 0 && !containsPath(c.Worker.Manifest, c.Worker.OfflinePath) {
		return fmt.Errorf("worker.manifest must include the offline page %q", c.Worker.OfflinePath)
	}
	if time.Duration(c.Connectivity.ProbeInterval) <= 0 {
		return errors.New("connectivity.probe_interval must be positive")
	}
	if c.Backup.Bucket != "" && c.Backup.Endpoint == "" {
		return errors.New("backup.endpoint is required when backup.bucket is set")
	}
	return nil
}

func containsPath(paths []string, want string) bool {
	for _, p := range paths {
		if p == want {
			return true
		}
	}
	return false
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
