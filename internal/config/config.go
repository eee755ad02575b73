// Package config defines the service configuration. Values come from, in
// increasing precedence: defaults, a config file, BLOGRAPH_* environment
// variables (a .env file is loaded into the environment first), and flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. BLOGRAPH_SERVER_ADDR.
const EnvPrefix = "BLOGRAPH"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

var (
	ErrUnknownDriver = errors.New("config: unknown storage driver")
	ErrMissingDSN    = errors.New("config: storage.dsn is required for the postgres driver")
	ErrMissingSecret = errors.New("config: auth.secret is required")
)

type Server struct {
	Addr         string
	Timeout      time.Duration
	Pretty       bool
	MaxBodyBytes int64
	GraphiQL     bool

	// Introspection answers __schema and __type queries.
	Introspection bool
}

type Storage struct {
	Driver string
	DSN    string

	MaxConns             int32
	MaxConcurrentFlushes int
}

type Auth struct {
	Secret string
	TTL    time.Duration
}

type Log struct {
	Level  string
	Format string
}

type Otel struct {
	Endpoint string
	Service  string
	Insecure bool
}

type Metrics struct {
	// Addr serves /metrics on its own listener. Empty mounts it on the
	// GraphQL server's mux instead.
	Addr    string
	Enabled bool
}

type Config struct {
	Server  Server
	Storage Storage
	Auth    Auth
	Log     Log
	Otel    Otel
	Metrics Metrics
}

// Register adds every configuration flag to flags.
func Register(flags *pflag.FlagSet) {
	flags.String("config", "", "Configuration file (yaml, json or toml)")

	flags.String("server.addr", ":8080", "HTTP listen address")
	flags.Duration("server.timeout", 10*time.Second, "Per-request timeout")
	flags.Bool("server.pretty", false, "Pretty-print JSON responses")
	flags.Int64("server.max-body-bytes", 1<<20, "Maximum request body size; 0 disables the limit")
	flags.Bool("server.graphiql", true, "Serve GraphiQL to browsers")
	flags.Bool("server.introspection", true, "Answer schema introspection queries")

	flags.String("storage.driver", DriverMemory, "Storage backend: memory or postgres")
	flags.String("storage.dsn", "", "PostgreSQL connection string")
	flags.Int32("storage.max-conns", 0, "Maximum pooled PostgreSQL connections; 0 keeps the pgx default")
	flags.Int("storage.max-concurrent-flushes", 0, "Grouped loads fetched at once per request; 0 is unbounded")

	flags.String("auth.secret", "", "HS256 signing secret for tokens")
	flags.Duration("auth.ttl", 24*time.Hour, "Token lifetime; 0 issues tokens that never expire")

	flags.String("log.level", "info", "Log level")
	flags.String("log.format", "json", "Log format: json or console")

	flags.String("otel.endpoint", "", "OTLP/gRPC collector endpoint; empty disables tracing")
	flags.String("otel.service", "blograph", "OpenTelemetry service name")
	flags.Bool("otel.insecure", false, "Connect to the collector without TLS")

	flags.Bool("metrics.enabled", true, "Expose Prometheus metrics")
	flags.String("metrics.addr", "", "Separate listen address for /metrics")
}

// NewViper returns a viper bound to flags and the BLOGRAPH_ environment.
func NewViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("config: binding flags: %w", err)
	}
	return v, nil
}

// LoadDotenv loads files into the environment without overriding
// variables already set. Missing files are skipped.
func LoadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: loading %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the configuration file named by the config key, if any, and
// returns the validated configuration.
func Load(v *viper.Viper) (Config, error) {
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", file, err)
		}
	}
	c := Config{
		Server: Server{
			Addr:          v.GetString("server.addr"),
			Timeout:       v.GetDuration("server.timeout"),
			Pretty:        v.GetBool("server.pretty"),
			MaxBodyBytes:  v.GetInt64("server.max-body-bytes"),
			GraphiQL:      v.GetBool("server.graphiql"),
			Introspection: v.GetBool("server.introspection"),
		},
		Storage: Storage{
			Driver:               v.GetString("storage.driver"),
			DSN:                  v.GetString("storage.dsn"),
			MaxConns:             v.GetInt32("storage.max-conns"),
			MaxConcurrentFlushes: v.GetInt("storage.max-concurrent-flushes"),
		},
		Auth: Auth{
			Secret: v.GetString("auth.secret"),
			TTL:    v.GetDuration("auth.ttl"),
		},
		Log: Log{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Otel: Otel{
			Endpoint: v.GetString("otel.endpoint"),
			Service:  v.GetString("otel.service"),
			Insecure: v.GetBool("otel.insecure"),
		},
		Metrics: Metrics{
			Enabled: v.GetBool("metrics.enabled"),
			Addr:    v.GetString("metrics.addr"),
		},
	}
	return c, c.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return ErrMissingDSN
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownDriver, c.Storage.Driver)
	}
	if c.Auth.Secret == "" {
		return ErrMissingSecret
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return fmt.Errorf("config: invalid log.level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: invalid log.format %q", c.Log.Format)
	}
	return nil
}
