package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Auth      AuthConfig      `yaml:"auth"`
	Orders    OrdersConfig    `yaml:"orders"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type AppConfig struct {
	Name            string `yaml:"name"`
	Port            string `yaml:"port"`
	Env             string `yaml:"env"`
	LogLevel        string `yaml:"log_level"`
	StorageDriver   string `yaml:"storage_driver"`
	CatalogSeedFile string `yaml:"catalog_seed_file"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// DSN returns the keyword/value connection string understood by pgx.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type OrdersConfig struct {
	PlacementTimeout time.Duration `yaml:"placement_timeout"`
	LockTimeout      time.Duration `yaml:"lock_timeout"`
	MaxItems         int           `yaml:"max_items"`
}

type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

// NewConfig builds the configuration from defaults, an optional YAML file
// (CONFIG_FILE), a .env file and the process environment, in that order of
// increasing precedence.
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		App: AppConfig{
			Name:          "store-service",
			Port:          "8080",
			Env:           "development",
			LogLevel:      "info",
			StorageDriver: StorageDriverPostgres,
		},
		Postgres: PostgresConfig{
			Port:            "5432",
			SSLMode:         "disable",
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
			MigrationsPath:  "migrations",
		},
		Orders: OrdersConfig{
			PlacementTimeout: 10 * time.Second,
			LockTimeout:      3 * time.Second,
			MaxItems:         100,
		},
		Redis: RedisConfig{
			IdempotencyTTL: 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "store-service",
			SampleRatio: 1.0,
		},
	}
}

func (c *Config) loadYAML(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(c); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.App.Name, "APP_NAME")
	setString(&c.App.Port, "APP_PORT")
	setString(&c.App.Env, "APP_ENV")
	setString(&c.App.LogLevel, "LOG_LEVEL")
	setString(&c.App.StorageDriver, "STORAGE_DRIVER")
	setString(&c.App.CatalogSeedFile, "CATALOG_SEED_FILE")

	setString(&c.Postgres.Host, "DB_HOST")
	setString(&c.Postgres.Port, "DB_PORT")
	setString(&c.Postgres.User, "DB_USER")
	setString(&c.Postgres.Password, "DB_PASSWORD")
	setString(&c.Postgres.DBName, "DB_NAME")
	setString(&c.Postgres.SSLMode, "DB_SSLMODE")
	setString(&c.Postgres.MigrationsPath, "DB_MIGRATIONS_PATH")

	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Auth.Issuer, "JWT_ISSUER")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")

	setString(&c.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.Telemetry.ServiceName, "OTEL_SERVICE_NAME")

	var errs []error
	errs = append(errs,
		setInt32(&c.Postgres.MaxConns, "DB_MAX_CONNS"),
		setInt32(&c.Postgres.MinConns, "DB_MIN_CONNS"),
		setDuration(&c.Postgres.MaxConnLifetime, "DB_MAX_CONN_LIFETIME"),
		setBool(&c.Postgres.AutoMigrate, "DB_AUTO_MIGRATE"),
		setDuration(&c.Orders.PlacementTimeout, "ORDERS_PLACEMENT_TIMEOUT"),
		setDuration(&c.Orders.LockTimeout, "ORDERS_LOCK_TIMEOUT"),
		setInt(&c.Orders.MaxItems, "ORDERS_MAX_ITEMS"),
		setInt(&c.Redis.DB, "REDIS_DB"),
		setDuration(&c.Redis.IdempotencyTTL, "REDIS_IDEMPOTENCY_TTL"),
		setFloat(&c.Telemetry.SampleRatio, "OTEL_SAMPLE_RATIO"),
	)

	return errors.Join(errs...)
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Port == "" {
		errs = append(errs, errors.New("APP_PORT is required"))
	}

	switch c.App.StorageDriver {
	case StorageDriverPostgres:
		if c.Postgres.Host == "" {
			errs = append(errs, errors.New("DB_HOST is required"))
		}
		if c.Postgres.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.Postgres.DBName == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
		if c.Postgres.MinConns > c.Postgres.MaxConns {
			errs = append(errs, fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.Postgres.MinConns, c.Postgres.MaxConns))
		}
	case StorageDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.App.StorageDriver))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}

	if c.Orders.PlacementTimeout <= 0 {
		errs = append(errs, errors.New("ORDERS_PLACEMENT_TIMEOUT must be positive"))
	}
	if c.Orders.LockTimeout <= 0 {
		errs = append(errs, errors.New("ORDERS_LOCK_TIMEOUT must be positive"))
	}
	if c.Orders.LockTimeout > c.Orders.PlacementTimeout {
		errs = append(errs, errors.New("ORDERS_LOCK_TIMEOUT cannot exceed ORDERS_PLACEMENT_TIMEOUT"))
	}
	if c.Orders.MaxItems <= 0 {
		errs = append(errs, errors.New("ORDERS_MAX_ITEMS must be positive"))
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, errors.New("OTEL_SAMPLE_RATIO must be within [0, 1]"))
	}

	return errors.Join(errs...)
}

// IsDevelopment reports whether human-friendly output should be used.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.App.Env, "development") || strings.EqualFold(c.App.Env, "dev")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = n
	return nil
}

func setInt32(dst *int32, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = int32(n)
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	*dst = b
	return nil
}

func setFloat(dst *float64, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: invalid number %q", key, v)
	}
	*dst = f
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", key, v)
	}
	*dst = d
	return nil
}
