package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment override, e.g. STORYREEL_MYSQL_DSN.
const EnvPrefix = "STORYREEL"

type Config struct {
	Server     ServerConfig              `yaml:"server" env:"SERVER"`
	MySQL      MySQLConfig               `yaml:"mysql" env:"MYSQL"`
	Redis      RedisConfig               `yaml:"redis" env:"REDIS"`
	MinIO      MinIOConfig               `yaml:"minio" env:"MINIO"`
	Media      MediaConfig               `yaml:"media" env:"MEDIA"`
	Log        LogConfig                 `yaml:"log" env:"LOG"`
	Metrics    MetricsConfig             `yaml:"metrics" env:"METRICS"`
	Generation GenerationConfig          `yaml:"generation" env:"GENERATION"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
}

type ServerConfig struct {
	Port string `yaml:"port" env:"PORT"`
	// Mode is the gin mode: debug, release or test.
	Mode string `yaml:"mode" env:"MODE"`
}

type MySQLConfig struct {
	DSN             string        `yaml:"dsn" env:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"BUCKET"`
	UseSSL    bool   `yaml:"use_ssl" env:"USE_SSL"`

	// Domain, when set, replaces presigned URLs with public ones.
	Domain    string        `yaml:"domain" env:"DOMAIN"`
	URLExpiry time.Duration `yaml:"url_expiry" env:"URL_EXPIRY"`
}

// MediaConfig points at the post-processing service (frame extraction,
// concatenation, final composition).
type MediaConfig struct {
	Addr    string        `yaml:"addr" env:"ADDR"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type LogConfig struct {
	Level       string   `yaml:"level" env:"LEVEL"`
	Format      string   `yaml:"format" env:"FORMAT"`
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`

	// EnableCaller annotates entries with file:line.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	Path      string `yaml:"path" env:"PATH"`
}

type PolicyConfig struct {
	Interval            time.Duration `yaml:"interval" env:"INTERVAL"`
	MaxAttempts         int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	MaxEmptyCompletions int           `yaml:"max_empty_completions" env:"MAX_EMPTY_COMPLETIONS"`
}

type GenerationConfig struct {
	DefaultProvider string `yaml:"default_provider" env:"DEFAULT_PROVIDER"`

	// Concurrency is the number of queue workers.
	Concurrency     int          `yaml:"concurrency" env:"CONCURRENCY"`
	Video           PolicyConfig `yaml:"video" env:"VIDEO"`
	InjectIdentity  bool         `yaml:"inject_identity" env:"INJECT_IDENTITY"`
	QualitySuffix   string       `yaml:"quality_suffix" env:"QUALITY_SUFFIX"`
	DefaultDuration int          `yaml:"default_duration" env:"DEFAULT_DURATION"`
}

type ProviderConfig struct {
	BaseURL   string        `yaml:"base_url" env:"BASE_URL"`
	APIKey    string        `yaml:"api_key" env:"API_KEY"`
	AccessKey string        `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey string        `yaml:"secret_key" env:"SECRET_KEY"`
	Model     string        `yaml:"model" env:"MODEL"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
	RPS       float64       `yaml:"rps" env:"RPS"`
	Burst     int           `yaml:"burst" env:"BURST"`
}

var AppConfig *Config

// DefaultConfig returns the values used when neither the file nor the
// environment sets a field.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: ":8080", Mode: "release"},
		MySQL: MySQLConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			AutoMigrate:     true,
		},
		Redis: RedisConfig{Addr: "127.0.0.1:6379"},
		MinIO: MinIOConfig{Bucket: "storyreel", URLExpiry: 72 * time.Hour},
		Media: MediaConfig{Timeout: 10 * time.Minute},
		Log:   LogConfig{Level: "info", Format: "json", OutputPaths: []string{"stdout"}, EnableCaller: true},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "storyreel",
			Path:      "/metrics",
		},
		Generation: GenerationConfig{
			DefaultProvider: "worker",
			Concurrency:     5,
			Video:           PolicyConfig{Interval: 10 * time.Second, MaxAttempts: 180, MaxEmptyCompletions: 6},
			InjectIdentity:  true,
			DefaultDuration: 5,
		},
		Providers: map[string]ProviderConfig{},
	}
}

// Load reads defaults, then the YAML file at path (skipped when missing),
// then STORYREEL_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	if err := applyEnv(cfg, EnvPrefix); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// InitConfig loads path into AppConfig.
func InitConfig(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

func (c *Config) Validate() error {
	var errs []string
	if c.Server.Port == "" {
		errs = append(errs, "server.port is required")
	}
	if c.MySQL.DSN == "" {
		errs = append(errs, "mysql.dsn is required")
	}
	if c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required")
	}
	if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
		errs = append(errs, "minio.endpoint and minio.bucket are required")
	}
	if c.Generation.Concurrency <= 0 {
		errs = append(errs, "generation.concurrency must be positive")
	}
	if c.Generation.Video.MaxAttempts <= 0 {
		errs = append(errs, "generation.video.max_attempts must be positive")
	}
	if c.Generation.Video.Interval <= 0 {
		errs = append(errs, "generation.video.interval must be positive")
	}
	if len(c.Providers) == 0 {
		errs = append(errs, "at least one provider must be configured")
	} else if _, ok := c.Providers[c.Generation.DefaultProvider]; !ok {
		errs = append(errs, fmt.Sprintf("default provider %q is not configured", c.Generation.DefaultProvider))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// applyEnv walks env-tagged fields. Provider entries are matched by name,
// e.g. STORYREEL_PROVIDERS_KLING_SECRET_KEY, for providers already present
// in the file.
func applyEnv(cfg *Config, prefix string) error {
	if err := setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), prefix); err != nil {
		return err
	}
	for name, pc := range cfg.Providers {
		key := prefix + "_PROVIDERS_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		if err := setFieldsFromEnv(reflect.ValueOf(&pc).Elem(), key); err != nil {
			return err
		}
		cfg.Providers[name] = pc
	}
	return nil
}

func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, key); err != nil {
				return err
			}
			continue
		}
		raw, ok := os.LookupEnv(key)
		if !ok || raw == "" {
			continue
		}
		if err := setFieldValue(field, raw); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}
