// Package config loads service settings and the product catalog.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// Config is the service configuration. Values come from an optional YAML
// file and are overridden by environment variables.
type Config struct {
	Env         string `yaml:"env" env:"ENV" env-default:"local" validate:"oneof=local dev prod"`
	Port        string `yaml:"port" env:"PORT" env-default:"8080" validate:"required,numeric"`
	TimeZone    string `yaml:"time_zone" env:"TIME_ZONE" env-default:"America/New_York" validate:"timezone"`
	CatalogPath string `yaml:"catalog_path" env:"CATALOG_PATH" env-default:"./config/catalog.yaml" validate:"required"`
	ItemLimit   int    `yaml:"item_limit" env:"ITEM_LIMIT" env-default:"4" validate:"gte=1"`

	Poll      Poll      `yaml:"poll" env-prefix:"POLL_"`
	Audit     Audit     `yaml:"audit" env-prefix:"AUDIT_"`
	Messenger Messenger `yaml:"messenger" env-prefix:"MESSENGER_"`
	Telegram  Telegram  `yaml:"telegram" env-prefix:"TELEGRAM_"`
	Dispatch  Dispatch  `yaml:"dispatch" env-prefix:"DISPATCH_"`
}

type Poll struct {
	Interval     time.Duration `yaml:"interval" env:"INTERVAL" env-default:"10s" validate:"gte=1s"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT" env-default:"8s" validate:"gte=1s"`
}

// Audit selects the log backend. A local path wins over a bucket.
type Audit struct {
	Path   string `yaml:"path" env:"PATH"`
	Bucket string `yaml:"bucket" env:"BUCKET"`
	Object string `yaml:"object" env:"OBJECT" env-default:"stock-log.txt"`
	// Service account key for the bucket; empty uses application default credentials.
	CredentialsFile string `yaml:"credentials_file" env:"CREDENTIALS_FILE"`
}

type Messenger struct {
	PageToken   string `yaml:"page_token" env:"PAGE_TOKEN"`
	VerifyToken string `yaml:"verify_token" env:"VERIFY_TOKEN"`
	AppSecret   string `yaml:"app_secret" env:"APP_SECRET"`
	APIURL      string `yaml:"api_url" env:"API_URL" validate:"omitempty,url"`
}

type Telegram struct {
	Token       string        `yaml:"token" env:"TOKEN"`
	PollTimeout time.Duration `yaml:"poll_timeout" env:"POLL_TIMEOUT" env-default:"10s"`
}

type Dispatch struct {
	Workers    int `yaml:"workers" env:"WORKERS" env-default:"2" validate:"gte=1"`
	QueueSize  int `yaml:"queue_size" env:"QUEUE_SIZE" env-default:"256" validate:"gte=1"`
	RatePerSec int `yaml:"rate_per_sec" env:"RATE_PER_SEC" env-default:"5" validate:"gte=1"`
}

// Load reads path if it exists, applies the environment and validates the result.
// An empty or missing path means environment only.
func Load(path string, validate *validator.Validate) (*Config, error) {
	var cfg Config

	fromFile := false
	if path != "" {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			fromFile = true
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	if fromFile {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Audit.Path == "" && cfg.Audit.Bucket == "" && cfg.Env == EnvLocal {
		cfg.Audit.Path = "./data/stock-log.txt"
	}
	return &cfg, nil
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}
