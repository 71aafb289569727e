// Package settings loads the YAML settings file that addresses the telemetry
// and metadata stores.
//
// Layers, lowest priority first: built-in defaults, the YAML file, then
// environment variables prefixed SSIMREBUF_ ("__" separates nesting levels,
// e.g. SSIMREBUF_INFLUXDB_CONNECTION__HOST).
//
// Password fields do not hold secrets: they name the environment variable
// that does (e.g. password: INFLUXDB_PASSWORD), resolved at load time.
package settings

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/DengYong4088/puffer/src/telemetry"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "SSIMREBUF_"

// Source kinds.
const (
	SourceLive   = "live"   // InfluxDB telemetry + PostgreSQL metadata
	SourceDuckDB = "duckdb" // one DuckDB file holding both
	SourceJSONL  = "jsonl"  // JSONL replay dump holding both
)

// Settings is the parsed settings file.
type Settings struct {
	Source   string             `koanf:"source"`
	InfluxDB InfluxDBConnection `koanf:"influxdb_connection"`
	Postgres PostgresConnection `koanf:"postgres_connection"`
	DuckDB   PathSettings       `koanf:"duckdb"`
	JSONL    PathSettings       `koanf:"jsonl"`
	Logging  LoggingSettings    `koanf:"logging"`
}

// InfluxDBConnection addresses the time-series store.
type InfluxDBConnection struct {
	Host     string        `koanf:"host" validate:"required"`
	Port     int           `koanf:"port" validate:"min=1,max=65535"`
	DBName   string        `koanf:"dbname" validate:"required"`
	User     string        `koanf:"user"`
	Password string        `koanf:"password"`
	SSL      bool          `koanf:"ssl"`
	Timeout  time.Duration `koanf:"timeout"`

	secret string
}

// PostgresConnection addresses the metadata store.
type PostgresConnection struct {
	Host     string `koanf:"host" validate:"required"`
	Port     int    `koanf:"port" validate:"min=1,max=65535"`
	DBName   string `koanf:"dbname" validate:"required"`
	User     string `koanf:"user" validate:"required"`
	Password string `koanf:"password"`
	SSLMode  string `koanf:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`

	secret string
}

// PathSettings points at an offline replay file.
type PathSettings struct {
	Path string `koanf:"path" validate:"required"`
}

// LoggingSettings configures src/monitor.
type LoggingSettings struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `koanf:"format" validate:"omitempty,oneof=console json"`
}

func defaults() *Settings {
	return &Settings{
		Source:   SourceLive,
		InfluxDB: InfluxDBConnection{Port: 8086, Timeout: 10 * time.Minute},
		Postgres: PostgresConnection{Port: 5432, SSLMode: "prefer"},
		Logging:  LoggingSettings{Level: "info", Format: "console"},
	}
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Load reads, layers, resolves and validates the settings file at path.
func Load(path string) (*Settings, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load settings file %s: %w", path, err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	s := &Settings{}
	if err := k.Unmarshal("", s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	s.Source = strings.ToLower(strings.TrimSpace(s.Source))
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	if err := s.resolveSecrets(); err != nil {
		return nil, err
	}
	return s, nil
}

func lookupSecret(section, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("%s.password: environment variable %s is not set", section, name)
	}
	return v, nil
}

func (s *Settings) resolveSecrets() error {
	if s.Source != SourceLive {
		return nil
	}
	var err error
	if s.InfluxDB.secret, err = lookupSecret("influxdb_connection", s.InfluxDB.Password); err != nil {
		return err
	}
	if s.Postgres.secret, err = lookupSecret("postgres_connection", s.Postgres.Password); err != nil {
		return err
	}
	return nil
}

// Addr returns the HTTP endpoint of the InfluxDB server.
func (c InfluxDBConnection) Addr() string {
	scheme := "http"
	if c.SSL {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Telemetry returns the client configuration for telemetry.NewInfluxSource.
func (c InfluxDBConnection) Telemetry() telemetry.InfluxConfig {
	return telemetry.InfluxConfig{
		Addr:     c.Addr(),
		Database: c.DBName,
		Username: c.User,
		Password: c.secret,
		Timeout:  c.Timeout,
	}
}

// DSN returns a pgx connection URL.
func (p PostgresConnection) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/" + p.DBName,
	}
	if p.secret != "" {
		u.User = url.UserPassword(p.User, p.secret)
	} else {
		u.User = url.User(p.User)
	}
	if p.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {p.SSLMode}}.Encode()
	}
	return u.String()
}
