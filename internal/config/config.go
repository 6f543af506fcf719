package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppEnv                string        `envconfig:"APP_ENV" default:"development"`
	Port                  string        `envconfig:"PORT" default:"8080"`
	AllowedOrigin         string        `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	DatabaseURL           string        `envconfig:"DATABASE_URL"`
	RedisAddr             string        `envconfig:"REDIS_ADDR"`
	RedisPassword         string        `envconfig:"REDIS_PASSWORD"`
	RedisDB               int           `envconfig:"REDIS_DB" default:"0"`
	AuthSecret            string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTLMinutes int           `envconfig:"ACCESS_TOKEN_TTL_MINUTES" default:"480"`
	SessionTTLMinutes     int           `envconfig:"SESSION_TTL_MINUTES" default:"480"`
	SeedAdminPassword     string        `envconfig:"SEED_ADMIN_PASSWORD" default:"admin"`
	PersistTimeout        time.Duration `envconfig:"PERSIST_TIMEOUT" default:"5s"`
	LowStockThreshold     int           `envconfig:"LOW_STOCK_THRESHOLD" default:"5"`
	LogLevel              string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat             string        `envconfig:"LOG_FORMAT" default:"console"`
}

// LoadDotEnv reads KEY=value pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}

	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.SeedAdminPassword = strings.TrimSpace(cfg.SeedAdminPassword)
	if cfg.SeedAdminPassword == "" {
		cfg.SeedAdminPassword = "admin"
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.SessionTTLMinutes < 1 {
		cfg.SessionTTLMinutes = cfg.AccessTokenTTLMinutes
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	if cfg.LowStockThreshold < 0 {
		cfg.LowStockThreshold = 5
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}
