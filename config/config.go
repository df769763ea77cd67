// Package config loads the connection settings and run parameters of a
// comparison run from the environment, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultEnvFile is read before the environment when it exists.
const DefaultEnvFile = ".env"

// Config holds everything a comparison run needs.
type Config struct {
	// MongoURI is the MongoDB connection string.
	MongoURI string
	// MongoDatabase is the database the experiments write to.
	MongoDatabase string

	Postgres PostgresConfig

	// OutputDir receives the JSON artifact and the charts.
	OutputDir string

	// Sizes are the dataset sizes of the performance suite.
	Sizes []int
	Seed  int64

	// Timeout bounds each backend run. Zero means no deadline.
	Timeout time.Duration

	LogLevel slog.Level
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// ConnString returns the settings as a postgres:// URL.
func (p PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:     "/" + p.Database,
		RawQuery: url.Values{"sslmode": {p.SSLMode}}.Encode(),
	}

	return u.String()
}

// ConfigurationError lists every problem found in the configuration.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// DefaultConfig returns a Config with every optional setting filled in.
func DefaultConfig() *Config {
	return &Config{
		MongoDatabase: "comparison_test",
		Postgres: PostgresConfig{
			Port:    5432,
			SSLMode: "prefer",
		},
		OutputDir: ".",
		Sizes:     []int{1000, 5000, 10000},
		Seed:      42,
		LogLevel:  slog.LevelInfo,
	}
}

// Load reads envFile into the process environment, without overriding
// variables that are already set, then builds and validates a Config. A
// missing envFile is not an error.
func Load(envFile string) (*Config, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &ConfigurationError{Problems: []string{fmt.Sprintf("read %s: %v", envFile, err)}}
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFromEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv overrides c with the variables getenv returns.
func (c *Config) LoadFromEnv(getenv func(string) string) error {
	var problems []string

	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	set(&c.MongoURI, "MONGODB_URI")
	set(&c.MongoDatabase, "MONGODB_DATABASE")
	set(&c.Postgres.Host, "POSTGRES_HOST")
	set(&c.Postgres.Database, "POSTGRES_DATABASE")
	set(&c.Postgres.User, "POSTGRES_USER")
	set(&c.Postgres.SSLMode, "POSTGRES_SSLMODE")
	set(&c.OutputDir, "DBCOMPARE_OUTPUT_DIR")

	// Passwords may legitimately contain surrounding spaces.
	if v := getenv("POSTGRES_PASSWORD"); v != "" {
		c.Postgres.Password = v
	}

	if v := getenv("POSTGRES_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			problems = append(problems, fmt.Sprintf("POSTGRES_PORT %q is not a valid port", v))
		} else {
			c.Postgres.Port = port
		}
	}

	if v := getenv("DBCOMPARE_SIZES"); v != "" {
		sizes, err := parseSizes(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("DBCOMPARE_SIZES: %v", err))
		} else {
			c.Sizes = sizes
		}
	}

	if v := getenv("DBCOMPARE_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			problems = append(problems, fmt.Sprintf("DBCOMPARE_SEED %q is not an integer", v))
		} else {
			c.Seed = seed
		}
	}

	if v := getenv("DBCOMPARE_TIMEOUT"); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil || timeout < 0 {
			problems = append(problems, fmt.Sprintf("DBCOMPARE_TIMEOUT %q is not a duration", v))
		} else {
			c.Timeout = timeout
		}
	}

	if v := getenv("DBCOMPARE_LOG_LEVEL"); v != "" {
		if err := c.LogLevel.UnmarshalText([]byte(v)); err != nil {
			problems = append(problems, fmt.Sprintf("DBCOMPARE_LOG_LEVEL %q is not a level", v))
		}
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}

	return nil
}

// Validate reports every required setting that is missing.
func (c *Config) Validate() error {
	var problems []string

	required := []struct {
		key, value string
	}{
		{"MONGODB_URI", c.MongoURI},
		{"POSTGRES_HOST", c.Postgres.Host},
		{"POSTGRES_DATABASE", c.Postgres.Database},
		{"POSTGRES_USER", c.Postgres.User},
	}

	for _, r := range required {
		if r.value == "" {
			problems = append(problems, r.key+" is required")
		}
	}

	if len(c.Sizes) == 0 {
		problems = append(problems, "at least one dataset size is required")
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}

	return nil
}

func parseSizes(v string) ([]int, error) {
	parts := strings.Split(v, ",")
	sizes := make([]int, 0, len(parts))

	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%q is not a positive size", p)
		}

		if len(sizes) > 0 && n <= sizes[len(sizes)-1] {
			return nil, fmt.Errorf("sizes must be ascending, got %d after %d", n, sizes[len(sizes)-1])
		}

		sizes = append(sizes, n)
	}

	return sizes, nil
}
