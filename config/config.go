// Package config loads environment variables and provides a typed Config used across the service.
// Every variable is optional; defaults match the docker-compose setup so the binary runs locally
// against a Postgres on the Docker host without any configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default values applied when the corresponding variable is unset.
const (
	DefaultDBHost         = "host.docker.internal"
	DefaultDBPort         = 5432
	DefaultDBName         = "dev_db"
	DefaultDBUser         = "dev"
	DefaultDBPassword     = "devpass" //nolint:gosec // G101: local development default, not a production credential
	DefaultDBSSLMode      = "disable"
	DefaultConnectTimeout = 2 * time.Second
	DefaultProbeTimeout   = 5 * time.Second
	DefaultHTTPAddr       = "0.0.0.0:8080"
)

// Database holds the connection parameters of the database the service reports on.
type Database struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	// ConnectTimeout bounds establishing the connection (TCP + startup + auth).
	ConnectTimeout time.Duration
	// ProbeTimeout bounds a whole connect/query/close attempt. Zero means no bound.
	ProbeTimeout time.Duration
}

type Config struct {
	Database Database

	// HTTP
	HTTPAddr    string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads environment variables and applies defaults. It only fails when a variable is set
// to something that cannot be parsed (e.g. a non-numeric DB_PORT).
func Load() (*Config, error) {
	cfg := &Config{}

	// DB
	cfg.Database.Host = getEnv("DB_HOST", DefaultDBHost)
	port, err := getEnvInt("DB_PORT", DefaultDBPort)
	if err != nil {
		return nil, err
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid DB_PORT %d: must be in 1-65535", port)
	}
	cfg.Database.Port = port
	cfg.Database.Name = getEnv("DB_NAME", DefaultDBName)
	// Credentials keep an explicitly empty value; only an unset variable takes the default.
	cfg.Database.User = lookupEnv("DB_USER", DefaultDBUser)
	cfg.Database.Password = lookupEnv("DB_PASS", DefaultDBPassword)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", DefaultDBSSLMode)

	if cfg.Database.ConnectTimeout, err = getEnvDuration("DB_CONNECT_TIMEOUT", DefaultConnectTimeout); err != nil {
		return nil, err
	}
	if cfg.Database.ProbeTimeout, err = getEnvDuration("DB_PROBE_TIMEOUT", DefaultProbeTimeout); err != nil {
		return nil, err
	}

	// HTTP
	cfg.HTTPAddr = getEnv("HTTP_ADDR", DefaultHTTPAddr)
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	// Logging
	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	cfg.LogFormat = strings.ToLower(os.Getenv("LOG_FORMAT"))

	return cfg, nil
}

// Addr returns host:port of the database.
func (d Database) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// DSN renders the parameters as a libpq keyword/value connection string.
func (d Database) DSN() string {
	kv := []struct{ k, v string }{
		{"host", d.Host},
		{"port", strconv.Itoa(d.Port)},
		{"dbname", d.Name},
		{"user", d.User},
		{"password", d.Password},
		{"sslmode", d.SSLMode},
	}
	var b strings.Builder
	for _, p := range kv {
		// An empty password is still sent so libpq fallbacks (PGPASSWORD, .pgpass) do not kick in.
		if p.v == "" && p.k != "password" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p.k)
		b.WriteByte('=')
		b.WriteString(quoteDSNValue(p.v))
	}
	return b.String()
}

// String is safe for logs: the password is never included.
func (d Database) String() string {
	return fmt.Sprintf("postgres://%s@%s/%s", d.User, d.Addr(), d.Name)
}

// quoteDSNValue wraps v in single quotes, escaping backslashes and quotes as libpq expects.
func quoteDSNValue(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func lookupEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// getEnvDuration accepts Go duration syntax ("1500ms", "2s") or a bare number of seconds.
func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("invalid %s: negative duration", key)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (duration): %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: negative duration", key)
	}
	return d, nil
}
