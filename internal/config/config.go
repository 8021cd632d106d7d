// Package config loads runtime settings from an optional YAML file and lets
// environment variables override individual values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"genomeforge/internal/blob"
	"genomeforge/internal/ephemeral"
	"genomeforge/internal/generator"
	"genomeforge/internal/infra/kv"
	s3store "genomeforge/internal/infra/blob/s3"
	"genomeforge/internal/ledger"
	"genomeforge/internal/materialise"
)

// EnvFile names the config file when Load is called with an empty path.
const EnvFile = "GENOMEFORGE_CONFIG"

// Environment overrides not owned by a backend package.
const (
	EnvStorageDriver   = "GENOMEFORGE_STORAGE_DRIVER"
	EnvSQLitePath      = "GENOMEFORGE_SQLITE_PATH"
	EnvPostgresDSN     = "GENOMEFORGE_POSTGRES_DSN"
	EnvLogLevel        = "GENOMEFORGE_LOG_LEVEL"
	EnvLogJSON         = "GENOMEFORGE_LOG_JSON"
	EnvWorkers         = "GENOMEFORGE_WORKERS"
	EnvReconcileEvery  = "GENOMEFORGE_RECONCILE_INTERVAL"
	EnvReconcileMinAge = "GENOMEFORGE_RECONCILE_MIN_AGE"
)

type Log struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

type Storage struct {
	Driver      string `yaml:"driver" validate:"oneof=memory sqlite postgres"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn" validate:"required_if=Driver postgres"`
}

type Materialise struct {
	Workers int `yaml:"workers" validate:"gte=0,lte=256"`
}

type Reconcile struct {
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
	MinAge   time.Duration `yaml:"min_age" validate:"gte=0"`
}

type Limits struct {
	OracleRate      int64 `yaml:"oracle_rate" validate:"gt=0"`
	MaterialiseRate int64 `yaml:"materialise_rate" validate:"gt=0"`
}

// Config is the full runtime configuration.
type Config struct {
	Log         Log              `yaml:"log"`
	Storage     Storage          `yaml:"storage"`
	Blob        blob.Config      `yaml:"blob"`
	KV          kv.Config        `yaml:"kv"`
	Generator   generator.Config `yaml:"generator"`
	Materialise Materialise      `yaml:"materialise"`
	Reconcile   Reconcile        `yaml:"reconcile"`
	Limits      Limits           `yaml:"limits"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Log:         Log{Level: "info"},
		Storage:     Storage{Driver: "sqlite", SQLitePath: "genomeforge.db"},
		Blob:        blob.Config{Driver: blob.DriverFilesystem, FSRoot: "./artifacts"},
		KV:          kv.Config{Driver: kv.DriverMemory},
		Materialise: Materialise{Workers: materialise.DefaultWorkers},
		Reconcile:   Reconcile{Interval: 5 * time.Minute, MinAge: ledger.DefaultSweepAge},
		Limits:      Limits{OracleRate: ephemeral.OracleRateLimit, MaterialiseRate: ephemeral.MaterialiseRateLimit},
	}
}

var validate = validator.New()

// Load reads path (or $GENOMEFORGE_CONFIG when path is empty) over the
// defaults, applies environment overrides and validates the result. A missing
// file is only an error when a path was given explicitly.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvFile)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields whose environment variable is set.
func (c *Config) ApplyEnv() error {
	setString(&c.Log.Level, EnvLogLevel)
	setString(&c.Storage.Driver, EnvStorageDriver)
	setString(&c.Storage.SQLitePath, EnvSQLitePath)
	setString(&c.Storage.PostgresDSN, EnvPostgresDSN)

	if v := os.Getenv(blob.EnvDriver); v != "" {
		c.Blob.Driver = blob.Driver(v)
	}
	setString(&c.Blob.FSRoot, blob.EnvFSRoot)
	setString(&c.Blob.S3.Bucket, s3store.EnvBucket)
	setString(&c.Blob.S3.Region, s3store.EnvRegion)
	setString(&c.Blob.S3.Endpoint, s3store.EnvEndpoint)
	setString(&c.Blob.S3.AccessKeyID, s3store.EnvAccessKey)
	setString(&c.Blob.S3.SecretAccessKey, s3store.EnvSecretKey)

	if v := os.Getenv(kv.EnvDriver); v != "" {
		c.KV.Driver = kv.Driver(v)
	}
	setString(&c.KV.Redis.Addr, kv.EnvRedisAddr)
	setString(&c.KV.Redis.Password, kv.EnvRedisPassword)
	setString(&c.KV.Redis.MasterName, kv.EnvMasterName)
	if v := os.Getenv(kv.EnvSentinels); v != "" {
		c.KV.Redis.SentinelAddrs = splitList(v)
	}

	setString(&c.Generator.Driver, generator.EnvDriver)
	setString(&c.Generator.OpenAI.APIKey, generator.EnvOpenAIKey)
	setString(&c.Generator.OpenAI.Model, generator.EnvOpenAIModel)
	setString(&c.Generator.OpenAI.BaseURL, generator.EnvOpenAIBaseURL)

	var errs []error
	errs = append(errs,
		setBool(&c.Log.JSON, EnvLogJSON),
		setBool(&c.Blob.S3.PathStyle, s3store.EnvPathStyle),
		setInt(&c.KV.Redis.DB, kv.EnvRedisDB),
		setInt(&c.Materialise.Workers, EnvWorkers),
		setFloat(&c.Generator.RateLimit, generator.EnvRateLimit),
		setDuration(&c.Reconcile.Interval, EnvReconcileEvery),
		setDuration(&c.Reconcile.MinAge, EnvReconcileMinAge),
	)
	return errors.Join(errs...)
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", env, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", env, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", env, err)
	}
	*dst = f
	return nil
}

func setDuration(dst *time.Duration, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", env, err)
	}
	*dst = d
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
