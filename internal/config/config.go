// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. SHOP_LICENSE_WARNING_DAYS.
const EnvPrefix = "SHOP"

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=trace debug info warn error"`
	Format   string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json console"`
	Sampling bool   `yaml:"sampling" envconfig:"SAMPLING"` // enable sampling in prod
}

type LicenseConfig struct {
	DefaultTrialDays    int  `yaml:"default_trial_days" envconfig:"DEFAULT_TRIAL_DAYS" validate:"min=1,max=3650"`
	WarningDays         int  `yaml:"warning_days" envconfig:"WARNING_DAYS" validate:"min=1"`
	AllowMultipleAdmins bool `yaml:"allow_multiple_admins" envconfig:"ALLOW_MULTIPLE_ADMINS"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver" envconfig:"DRIVER" validate:"oneof=memory file bolt sqlite postgres"`
	Dir         string `yaml:"dir" envconfig:"DIR"`
	DatabaseURL string `yaml:"database_url" envconfig:"DATABASE_URL" validate:"required_if=Driver postgres"`
	// Encrypt seals license.json with security.encryption_key (file driver only).
	Encrypt bool `yaml:"encrypt" envconfig:"ENCRYPT"`
}

type RedisConfig struct {
	URL      string        `yaml:"url" envconfig:"URL"` // empty disables the shared lock and cache
	Password string        `yaml:"password" envconfig:"PASSWORD"`
	DB       int           `yaml:"db" envconfig:"DB" validate:"min=0"`
	LockTTL  time.Duration `yaml:"lock_ttl" envconfig:"LOCK_TTL"`
	CacheTTL time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL"`
}

type HTTPConfig struct {
	Port      int           `yaml:"port" envconfig:"PORT" validate:"min=0,max=65535"` // 0 disables the API
	APIKey    string        `yaml:"api_key" envconfig:"API_KEY"`
	JWTSecret string        `yaml:"jwt_secret" envconfig:"JWT_SECRET" validate:"omitempty,min=16"`
	TokenTTL  time.Duration `yaml:"token_ttl" envconfig:"TOKEN_TTL"`
	Timeout   time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	// ActivateRateLimit caps activation attempts per subject per minute; needs redis. 0 disables.
	ActivateRateLimit int `yaml:"activate_rate_limit" envconfig:"ACTIVATE_RATE_LIMIT" validate:"min=0"`
}

type SchedulerConfig struct {
	ExpiryCheckInterval time.Duration `yaml:"expiry_check_interval" envconfig:"EXPIRY_CHECK_INTERVAL"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key" envconfig:"ENCRYPTION_KEY" validate:"omitempty,len=16|len=24|len=32"`
}

type Config struct {
	Log       LogConfig       `yaml:"log" envconfig:"LOG"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Storage   StorageConfig   `yaml:"storage" envconfig:"STORAGE"`
	Redis     RedisConfig     `yaml:"redis" envconfig:"REDIS"`
	HTTP      HTTPConfig      `yaml:"http" envconfig:"HTTP"`
	Scheduler SchedulerConfig `yaml:"scheduler" envconfig:"SCHEDULER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`

	Runtime RuntimeConfig `yaml:"-" ignored:"true"`
}

// LoadConfig parses -config and -dev from the command line and loads the file.
func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()
	return Load(configPath, dev)
}

// Load reads the YAML file at path (a missing file is allowed), applies SHOP_*
// environment overrides and defaults, then validates the result.
func Load(path string, dev bool) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.License.DefaultTrialDays == 0 {
		cfg.License.DefaultTrialDays = 14
	}
	if cfg.License.WarningDays == 0 {
		cfg.License.WarningDays = 1
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "file"
	}
	if cfg.Storage.Dir == "" && cfg.Storage.Driver != "postgres" && cfg.Storage.Driver != "memory" {
		cfg.Storage.Dir = "data"
	}
	cfg.Redis.LockTTL = normalizeTTL(cfg.Redis.LockTTL, 30*time.Second)
	cfg.Redis.CacheTTL = normalizeTTL(cfg.Redis.CacheTTL, time.Hour)
	cfg.HTTP.TokenTTL = normalizeTTL(cfg.HTTP.TokenTTL, 24*time.Hour)
	cfg.HTTP.Timeout = normalizeTTL(cfg.HTTP.Timeout, 10*time.Second)
	cfg.Scheduler.ExpiryCheckInterval = normalizeTTL(cfg.Scheduler.ExpiryCheckInterval, time.Minute)
}

var validate = validator.New()

// Validate checks struct constraints plus the cross-section rules the tags can't express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.HTTP.Port != 0 && c.HTTP.JWTSecret == "" {
		return errors.New("invalid config: http.jwt_secret is required when http.port is set")
	}
	if c.Storage.Dir == "" && c.Storage.Driver != "postgres" && c.Storage.Driver != "memory" {
		return errors.New("invalid config: storage.dir is required for the " + c.Storage.Driver + " driver")
	}
	if c.Storage.Encrypt && c.Security.EncryptionKey == "" {
		return errors.New("invalid config: storage.encrypt requires security.encryption_key")
	}
	return nil
}

func normalizeTTL(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
