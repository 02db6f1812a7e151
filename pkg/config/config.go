// Package config loads the evaluation settings from an optional YAML file,
// an optional .env file and CHAP_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CHAP_EVALUATION_MAX_SPLITS.
const EnvPrefix = "CHAP"

type Config struct {
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Evaluation EvaluationConfig `mapstructure:"evaluation" yaml:"evaluation"`
	External   ExternalConfig   `mapstructure:"external" yaml:"external"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Export     ExportConfig     `mapstructure:"export" yaml:"export"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json text"`
}

type EvaluationConfig struct {
	MaxSplits     int    `mapstructure:"max_splits" yaml:"max_splits" validate:"min=1"`
	StartOffset   int    `mapstructure:"start_offset" yaml:"start_offset" validate:"min=0"`
	Horizon       int    `mapstructure:"horizon" yaml:"horizon" validate:"min=0"` // 0 means all remaining periods
	Mode          string `mapstructure:"mode" yaml:"mode" validate:"oneof=predict forecast"`
	Selection     string `mapstructure:"selection" yaml:"selection" validate:"oneof=even latest"`
	FailurePolicy string `mapstructure:"failure_policy" yaml:"failure_policy" validate:"oneof=strict resilient"`
	Workers       int    `mapstructure:"workers" yaml:"workers" validate:"min=1"`
	Metric        string `mapstructure:"metric" yaml:"metric" validate:"oneof=rmse mae mape"`
	TargetFeature string `mapstructure:"target_feature" yaml:"target_feature" validate:"required"`
	FillMissing   bool   `mapstructure:"fill_missing" yaml:"fill_missing"`
	Baseline      string `mapstructure:"baseline" yaml:"baseline"` // Empty disables the baseline
}

type ExternalConfig struct {
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"min=0"`
	WorkDir   string        `mapstructure:"work_dir" yaml:"work_dir"` // Scratch root; empty uses the OS temp dir
	KeepFiles bool          `mapstructure:"keep_files" yaml:"keep_files"`
}

type StoreConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend" validate:"oneof=none local redis"`
	Path          string `mapstructure:"path" yaml:"path" validate:"required_if=Backend local"`
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db" validate:"min=0"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`
}

type ExportConfig struct {
	Backend   string `mapstructure:"backend" yaml:"backend" validate:"oneof=none local s3"`
	Path      string `mapstructure:"path" yaml:"path" validate:"required_if=Backend local"` // Directory for local, key prefix for s3
	Bucket    string `mapstructure:"bucket" yaml:"bucket" validate:"required_if=Backend s3"`
	Region    string `mapstructure:"region" yaml:"region"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	Compress  bool   `mapstructure:"compress" yaml:"compress"`
}

type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr" validate:"required_if=Enabled true"`
}

var validate = validator.New()

// SetDefaults registers every key with its default so that environment
// overrides apply even when no config file sets the key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("evaluation.max_splits", 5)
	v.SetDefault("evaluation.start_offset", 20)
	v.SetDefault("evaluation.horizon", 0)
	v.SetDefault("evaluation.mode", "predict")
	v.SetDefault("evaluation.selection", "even")
	v.SetDefault("evaluation.failure_policy", "strict")
	v.SetDefault("evaluation.workers", 1)
	v.SetDefault("evaluation.metric", "rmse")
	v.SetDefault("evaluation.target_feature", "disease_cases")
	v.SetDefault("evaluation.fill_missing", false)
	v.SetDefault("evaluation.baseline", "naive-poisson")

	v.SetDefault("external.timeout", 30*time.Minute)
	v.SetDefault("external.work_dir", "")
	v.SetDefault("external.keep_files", false)

	v.SetDefault("store.backend", "none")
	v.SetDefault("store.path", "")
	v.SetDefault("store.redis_addr", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_password", "")

	v.SetDefault("export.backend", "none")
	v.SetDefault("export.path", "")
	v.SetDefault("export.bucket", "")
	v.SetDefault("export.region", "us-east-1")
	v.SetDefault("export.endpoint", "")
	v.SetDefault("export.access_key", "")
	v.SetDefault("export.secret_key", "")
	v.SetDefault("export.compress", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9090")
}

// NewViper returns a viper instance with defaults and CHAP_ environment bindings.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration. A .env file in the working directory is loaded
// first when present; path may be empty to skip the YAML file.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// LoadDotEnv loads .env files without overriding variables that are already set.
// Missing files are ignored.
func LoadDotEnv(filenames ...string) error {
	if err := godotenv.Load(filenames...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with every default applied.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := FromViper(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
