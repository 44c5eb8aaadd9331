package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-changepoint/internal/models"
)

// Config captures the settings required to boot the change-point service and CLI.
type Config struct {
	Server     ServerConfig       `yaml:"server"`
	Logging    LoggingConfig      `yaml:"logging"`
	Sampler    models.ModelConfig `yaml:"sampler"`
	Limits     LimitsConfig       `yaml:"limits"`
	Preprocess PreprocessConfig   `yaml:"preprocess"`
	Cache      CacheConfig        `yaml:"cache"`
	Store      StoreConfig        `yaml:"store"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address" validate:"required"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout" validate:"gte=0"`
	// MaxRecvMsgBytes caps a single request; long series arrive as one Struct.
	MaxRecvMsgBytes int `yaml:"maxRecvMsgBytes" validate:"gte=0"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// LimitsConfig bounds the work a single caller can request.
type LimitsConfig struct {
	RequestsPerSecond float64       `yaml:"requestsPerSecond" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
	MaxObservations   int           `yaml:"maxObservations" validate:"gte=0"`
	MaxDraws          int           `yaml:"maxDraws" validate:"gte=0"`
	MaxChains         int           `yaml:"maxChains" validate:"gte=0"`
	MaxRunTime        time.Duration `yaml:"maxRunTime" validate:"gte=0"`
	MaxParallelChains int           `yaml:"maxParallelChains" validate:"gte=0"`
}

// PreprocessConfig controls checks applied to a series before sampling.
type PreprocessConfig struct {
	// OutlierThreshold is the robust z-score at which isolated spikes are reported.
	// Zero disables the check.
	OutlierThreshold float64 `yaml:"outlierThreshold" validate:"gte=0"`
}

// CacheConfig controls caching of detection results. Runs are deterministic for a
// given series, config and seed, so identical requests can be served from cache.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Backend       string        `yaml:"backend" validate:"oneof=redis memory"`
	Addr          string        `yaml:"addr" validate:"required_if=Enabled true Backend redis"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	MaxRetries    int           `yaml:"maxRetries"`
	TLS           bool          `yaml:"tls"`
	Prefix        string        `yaml:"prefix"`
	ResultTTL     time.Duration `yaml:"resultTTL"`
	MemoryEntries int           `yaml:"memoryEntries"`
}

// StoreConfig controls persistence of detection runs in Postgres.
type StoreConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn" validate:"required_if=Enabled true"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	ConnectTimeout  time.Duration `yaml:"connectTimeout"`
	QueryTimeout    time.Duration `yaml:"queryTimeout"`
	AutoMigrate     bool          `yaml:"autoMigrate"`
}

var validate = validator.New()

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_CP_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration without reading files or the environment.
func Default() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
			MaxRecvMsgBytes: 16 << 20,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Sampler: models.DefaultModelConfig(),
		Limits: LimitsConfig{
			RequestsPerSecond: 5,
			Burst:             10,
			MaxObservations:   20000,
			MaxDraws:          20000,
			MaxChains:         16,
			MaxRunTime:        2 * time.Minute,
		},
		Preprocess: PreprocessConfig{OutlierThreshold: 5},
		Cache: CacheConfig{
			Enabled:       false,
			Backend:       "redis",
			DialTimeout:   2 * time.Second,
			ReadTimeout:   500 * time.Millisecond,
			WriteTimeout:  500 * time.Millisecond,
			MaxRetries:    2,
			Prefix:        "changepoint",
			ResultTTL:     30 * time.Minute,
			MemoryEntries: 256,
		},
		Store: StoreConfig{
			Enabled:         false,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			QueryTimeout:    5 * time.Second,
			AutoMigrate:     true,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_CP_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_CP_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_CP_SERVER_MAX_RECV_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MaxRecvMsgBytes = n
		}
	}
	if v := os.Getenv("MIRADOR_CP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_CP_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}

	if v := os.Getenv("MIRADOR_CP_SAMPLER_DRAWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sampler.Draws = n
		}
	}
	if v := os.Getenv("MIRADOR_CP_SAMPLER_TUNE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sampler.TuningIterations = n
		}
	}
	if v := os.Getenv("MIRADOR_CP_SAMPLER_CHAINS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sampler.Chains = n
		}
	}
	if v := os.Getenv("MIRADOR_CP_SAMPLER_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Sampler.Seed = n
		}
	}
	if v := os.Getenv("MIRADOR_CP_SAMPLER_TARGET_ACCEPT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Sampler.TargetAccept = f
		}
	}

	if v := os.Getenv("MIRADOR_CP_LIMITS_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Limits.RequestsPerSecond = f
		}
	}
	if v := os.Getenv("MIRADOR_CP_LIMITS_MAX_RUN_TIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Limits.MaxRunTime = d
		}
	}
	if v := os.Getenv("MIRADOR_CP_LIMITS_MAX_OBSERVATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxObservations = n
		}
	}

	if v := os.Getenv("MIRADOR_CP_OUTLIER_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Preprocess.OutlierThreshold = f
		}
	}

	if v := os.Getenv("MIRADOR_CP_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_CP_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("MIRADOR_CP_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_CP_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MIRADOR_CP_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_CP_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("MIRADOR_CP_CACHE_TLS"); parseBool(v) {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("MIRADOR_CP_CACHE_RESULT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ResultTTL = d
		}
	}

	if v := os.Getenv("MIRADOR_CP_STORE_ENABLED"); v != "" {
		cfg.Store.Enabled = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_CP_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("MIRADOR_CP_STORE_CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Store.ConnectTimeout = d
		}
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
