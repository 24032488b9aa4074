// Package config provides configuration for the deltaschema CLI and server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "DELTASCHEMA_"

// Storage types.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Config holds the configuration of the deltaschema service.
type Config struct {
	// DataDir is the base directory for local state
	DataDir string `json:"data_dir" yaml:"data_dir"`

	Log LogConfig `json:"log" yaml:"log"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// gRPC configuration
	GRPC GRPCConfig `json:"grpc" yaml:"grpc"`

	// Storage holds the tables read by table derivations
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Catalog configuration
	Catalog CatalogConfig `json:"catalog" yaml:"catalog"`

	Arrow ArrowConfig `json:"arrow" yaml:"arrow"`

	Factory FactoryConfig `json:"factory" yaml:"factory"`

	// Reader configures delta log reads
	Reader ReaderConfig `json:"reader" yaml:"reader"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Development switches to the human readable console encoder
	Development bool `json:"development" yaml:"development"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address of the API
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// GRPCConfig holds gRPC server configuration. The server carries the
// health and reflection services.
type GRPCConfig struct {
	// Addr is the gRPC server address
	Addr string `json:"addr" yaml:"addr"`

	// Enabled controls whether gRPC is enabled
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle addresses buckets by path, as MinIO expects
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// CatalogConfig holds derivation registry configuration.
type CatalogConfig struct {
	// Path is the SQLite database file; empty disables the registry
	Path string `json:"path" yaml:"path"`

	// Disabled turns the registry off even when Path is set
	Disabled bool `json:"disabled" yaml:"disabled"`
}

// ArrowConfig controls arrow conversion of derived schemas.
type ArrowConfig struct {
	// SupportMaps allows map columns in converted schemas
	SupportMaps bool `json:"support_maps" yaml:"support_maps"`
}

// FactoryConfig controls log schema derivation.
type FactoryConfig struct {
	// MapFields keeps the map typed action fields
	MapFields bool `json:"map_fields" yaml:"map_fields"`
}

// ReaderConfig holds delta log reader configuration.
type ReaderConfig struct {
	// Concurrency is the number of parallel commit downloads
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// CacheDir caches downloaded commit files; empty disables the cache
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/deltaschema",
		Log: LogConfig{
			Level: "info",
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: true,
		},
		Storage: StorageConfig{
			Type: StorageLocal,
		},
		Reader: ReaderConfig{
			Concurrency: 8,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/deltaschema"
	}

	if c.Storage.Type == StorageLocal && c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "tables")
	}

	if c.Catalog.Path == "" && !c.Catalog.Disabled {
		c.Catalog.Path = filepath.Join(c.DataDir, "registry.db")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := parseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	if c.Storage.Type != StorageLocal && c.Storage.Type != StorageS3 {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == StorageS3 && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Reader.Concurrency < 1 || c.Reader.Concurrency > 256 {
		return fmt.Errorf("reader.concurrency must be between 1 and 256, got %d", c.Reader.Concurrency)
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}

	if c.GRPC.Enabled && c.GRPC.Addr == "" {
		return fmt.Errorf("grpc.addr is required when grpc is enabled")
	}

	return nil
}

// RegistryEnabled reports whether derivations are recorded.
func (c *Config) RegistryEnabled() bool {
	return !c.Catalog.Disabled && c.Catalog.Path != ""
}

// StorageLocation returns the table storage root as a location URI.
func (c *Config) StorageLocation() string {
	if c.Storage.Type == StorageS3 {
		return "s3://" + c.Storage.S3.Bucket + "/" + strings.TrimPrefix(c.Storage.Path, "/")
	}
	return c.Storage.Path
}

// NewLogger builds the zap logger described by c.
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var zc zap.Config
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds the effective configuration: defaults, then the optional
// config file, then .env, then DELTASCHEMA_* variables. The result is
// validated but not resolved, so callers may still override DataDir.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the DELTASCHEMA_ prefix.
func LoadFromEnv(cfg *Config) error {
	if v := getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Log configuration
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("LOG_DEVELOPMENT"); v != "" {
		cfg.Log.Development = parseBool(v)
	}

	// HTTP configuration
	if v := getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := getenv("HTTP_SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sHTTP_SHUTDOWN_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.HTTP.ShutdownTimeout = d
	}

	// gRPC configuration
	if v := getenv("GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
	if v := getenv("GRPC_ENABLED"); v != "" {
		cfg.GRPC.Enabled = parseBool(v)
	}

	// Storage configuration
	if v := getenv("STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := getenv("STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := getenv("S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := getenv("S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := getenv("S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := getenv("S3_USE_PATH_STYLE"); v != "" {
		cfg.Storage.S3.UsePathStyle = parseBool(v)
	}

	// Catalog configuration
	if v := getenv("CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}
	if v := getenv("CATALOG_DISABLED"); v != "" {
		cfg.Catalog.Disabled = parseBool(v)
	}

	if v := getenv("ARROW_SUPPORT_MAPS"); v != "" {
		cfg.Arrow.SupportMaps = parseBool(v)
	}
	if v := getenv("FACTORY_MAP_FIELDS"); v != "" {
		cfg.Factory.MapFields = parseBool(v)
	}

	// Reader configuration
	if v := getenv("READER_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sREADER_CONCURRENCY: %w", EnvPrefix, err)
		}
		cfg.Reader.Concurrency = n
	}
	if v := getenv("READER_CACHE_DIR"); v != "" {
		cfg.Reader.CacheDir = v
	}
	return nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.Reader.CacheDir}
	if c.Storage.Type == StorageLocal {
		dirs = append(dirs, c.Storage.Path)
	}
	if c.RegistryEnabled() {
		dirs = append(dirs, filepath.Dir(c.Catalog.Path))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

func parseLevel(s string) (zapcore.Level, error) {
	var level zapcore.Level
	err := level.UnmarshalText([]byte(s))
	return level, err
}

func getenv(key string) string {
	return os.Getenv(EnvPrefix + key)
}

func parseBool(v string) bool {
	return v == "true" || v == "1"
}
