package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the service configuration read from config.yaml.
type Config struct {
	Http struct {
		Port           int           `yaml:"port"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		MaxBodyBytes   int64         `yaml:"max_body_bytes"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"http"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Log struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
		Issuer    string        `yaml:"issuer"`
	} `yaml:"auth"`
	Storage struct {
		UploadDir string `yaml:"upload_dir"`
		CacheSize int    `yaml:"cache_size"`
	} `yaml:"storage"`
	ML struct {
		ModelType    string `yaml:"model_type"`
		ModelPath    string `yaml:"model_path"`
		Preload      bool   `yaml:"preload"`
		MaxTreeDepth int    `yaml:"max_tree_depth"`
		Training     struct {
			TestRatio float64 `yaml:"test_ratio"`
			Seed      int64   `yaml:"seed"`
		} `yaml:"training"`
	} `yaml:"ml"`
}

// Environment overrides.
const (
	EnvJWTSecret = "CARDIO_JWT_SECRET"
	EnvDBPath    = "CARDIO_DB_PATH"
)

// Load reads path, applies environment overrides and defaults, then validates.
// Relative paths in the file resolve against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes YAML without touching the filesystem.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.Database.Path = v
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Http.Port == 0 {
		c.Http.Port = 8080
	}
	if c.Http.ReadTimeout == 0 {
		c.Http.ReadTimeout = 15 * time.Second
	}
	if c.Http.WriteTimeout == 0 {
		c.Http.WriteTimeout = 60 * time.Second
	}
	if c.Http.RequestTimeout == 0 {
		c.Http.RequestTimeout = 30 * time.Second
	}
	if c.Http.MaxBodyBytes == 0 {
		c.Http.MaxBodyBytes = 10 << 20
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/cardio.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 30
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = time.Hour
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "cardiovision"
	}
	if c.Storage.UploadDir == "" {
		c.Storage.UploadDir = "uploads"
	}
	if c.Storage.CacheSize == 0 {
		c.Storage.CacheSize = 32
	}
	if c.ML.ModelType == "" {
		c.ML.ModelType = "ensemble"
	}
	if c.ML.ModelPath == "" {
		c.ML.ModelPath = "models"
	}
	if c.ML.MaxTreeDepth == 0 {
		c.ML.MaxTreeDepth = 5
	}
	if c.ML.Training.TestRatio == 0 {
		c.ML.Training.TestRatio = 0.2
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (or set %s)", EnvJWTSecret)
	}
	if len(c.Auth.JWTSecret) < 16 {
		return errors.New("auth.jwt_secret must be at least 16 characters")
	}
	if c.Http.Port < 0 || c.Http.Port > 65535 {
		return fmt.Errorf("invalid http.port %d", c.Http.Port)
	}
	if c.ML.Training.TestRatio <= 0 || c.ML.Training.TestRatio >= 1 {
		return fmt.Errorf("ml.training.test_ratio %v outside (0,1)", c.ML.Training.TestRatio)
	}
	if c.Storage.CacheSize < 0 {
		return errors.New("storage.cache_size must not be negative")
	}
	return nil
}

func (c *Config) resolvePaths(base string) {
	resolve := func(p *string) {
		if *p != "" && *p != ":memory:" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	resolve(&c.Database.Path)
	resolve(&c.Storage.UploadDir)
	resolve(&c.ML.ModelPath)
	resolve(&c.Log.File)
}
