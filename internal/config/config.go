package config // package config loads application configuration from environment variables

import (
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration values.  Each field corresponds
// to an environment variable.  Database settings are optional: when
// DB_HOST is empty the engine runs on its in-memory lock store, which is
// useful for local development and tests but keeps holds on one instance
// only.
type Config struct {
	Env  string // application environment (e.g. "dev", "prod")
	Port string // HTTP port to listen on

	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address; empty selects the in-memory store
	DBPort string // database port number
	DBName string // database name

	HoldDuration      time.Duration // how long a selection hold lives before it lapses
	SweepInterval     time.Duration // how often the sweeper vacates expired holds
	PollInterval      time.Duration // cadence of the poll fallback for seat watchers
	PushRetryInterval time.Duration // how often a degraded watcher retries push
	ChangeLogCapacity int           // bounded per-show replay log for poll catch-up
}

// Load reads configuration values from environment variables and returns
// a Config.  Engine knobs all have working defaults so a bare process
// starts without any environment.
func Load() Config {
	return Config{
		Env:  envStr("APP_ENV", "dev"),
		Port: envStr("APP_PORT", "8080"),

		DBUser: os.Getenv("DB_USER"),
		DBPass: os.Getenv("DB_PASS"),
		DBHost: os.Getenv("DB_HOST"),
		DBPort: envStr("DB_PORT", "3306"),
		DBName: os.Getenv("DB_NAME"),

		HoldDuration:      time.Duration(envInt("HOLD_DURATION_SEC", 900)) * time.Second,
		SweepInterval:     envDur("SWEEP_INTERVAL", 30*time.Second),
		PollInterval:      envDur("POLL_INTERVAL", 2*time.Second),
		PushRetryInterval: envDur("PUSH_RETRY_INTERVAL", 30*time.Second),
		ChangeLogCapacity: envInt("CHANGELOG_CAPACITY", 512),
	}
}

// UseDatabase reports whether a MySQL connection is configured.
func (c Config) UseDatabase() bool {
	return c.DBHost != ""
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
