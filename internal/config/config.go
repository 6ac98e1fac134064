package config

import (
	"log"
	"os"
	"regexp"
	"strconv"
)

type Config struct {
	Port string

	// postgres or sqlite
	DBDriver    string
	PostgresDSN string
	SQLitePath  string

	RedisAddr     string
	ReadyKey      string
	ProcessingKey string
	DelayedKey    string
	NotifyChannel string

	Workers int
}

func Load() Config {
	cfg := Config{
		Port:          envOr("PORT", "8080"),
		DBDriver:      envOr("DB_DRIVER", "postgres"),
		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		SQLitePath:    envOr("SQLITE_PATH", "exports.db"),
		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		ReadyKey:      envOr("REDIS_READY_KEY", "exports:ready"),
		ProcessingKey: envOr("REDIS_PROCESSING_KEY", "exports:processing"),
		DelayedKey:    envOr("REDIS_DELAYED_KEY", "exports:delayed"),
		NotifyChannel: envOr("REDIS_NOTIFY_CHANNEL", "exports:events"),
		Workers:       envIntOr("WORKERS", 4),
	}
	if cfg.DBDriver == "postgres" && cfg.PostgresDSN == "" {
		log.Fatal("missing env: POSTGRES_DSN")
	}
	return cfg
}

func envOr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

var dsnPassword = regexp.MustCompile(`://([^:/?#]+):([^@/]+)@`)

// RedactDSN masks the password in a URL-style DSN for logging.
func RedactDSN(dsn string) string {
	return dsnPassword.ReplaceAllString(dsn, `://$1:****@`)
}
