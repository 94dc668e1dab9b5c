// Package config loads service settings from defaults, optional .env and
// rxscan.yaml files, and the environment (highest precedence).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime settings. Keys match the environment variable
// names in lower case.
type Config struct {
	AppEnv        string        `mapstructure:"app_env"`
	HTTPAddr      string        `mapstructure:"http_addr"`
	DBDriver      string        `mapstructure:"db_driver"`
	DBDSN         string        `mapstructure:"db_dsn"`
	DBAutoMigrate bool          `mapstructure:"db_auto_migrate"`
	JWTSecret     string        `mapstructure:"jwt_secret"`
	UploadBase    string        `mapstructure:"upload_base"`
	RedisURL      string        `mapstructure:"redis_url"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	OCREngines    string        `mapstructure:"ocr_engines"`
	OCRLang       string        `mapstructure:"ocr_lang"`
	OpenAIKey     string        `mapstructure:"openai_api_key"`
	OpenAIBaseURL string        `mapstructure:"openai_base_url"`
	VisionModel   string        `mapstructure:"vision_model"`
	KnowledgeFile string        `mapstructure:"knowledge_file"`
	AnalyzeRPS    float64       `mapstructure:"analyze_rps"`
	AnalyzeBurst  int           `mapstructure:"analyze_burst"`
}

// DevSecret is used when JWT_SECRET is unset outside production.
const DevSecret = "dev-insecure-secret-change"

// Load reads configuration with dir as the location of .env and rxscan.yaml.
// An empty dir means the working directory. Database and JWT settings are
// validated; use LoadOCR for tools that never open the database.
func Load(dir string) (*Config, error) {
	cfg, err := read(dir)
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOCR reads the same sources as Load but only checks the OCR and
// analysis settings.
func LoadOCR(dir string) (*Config, error) {
	cfg, err := read(dir)
	if err != nil {
		return nil, err
	}
	if err := validateOCR(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read(dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	files := []struct{ name, typ string }{
		{".env", "env"},
		{"rxscan.yaml", "yaml"},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		v.SetConfigType(f.typ)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "production")
	v.SetDefault("http_addr", ":8081")
	v.SetDefault("db_driver", "postgres")
	v.SetDefault("db_dsn", "")
	v.SetDefault("db_auto_migrate", true)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("upload_base", "uploads")
	v.SetDefault("redis_url", "")
	v.SetDefault("cache_ttl", 24*time.Hour)
	v.SetDefault("ocr_engines", "tesseract,vision")
	v.SetDefault("ocr_lang", "eng")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_base_url", "")
	v.SetDefault("vision_model", "")
	v.SetDefault("knowledge_file", "")
	v.SetDefault("analyze_rps", 1.0)
	v.SetDefault("analyze_burst", 5)
}

func validate(cfg *Config) error {
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	switch cfg.DBDriver {
	case "postgres":
		if cfg.DBDSN == "" {
			return fmt.Errorf("DB_DSN is not set; the postgres driver requires a DSN")
		}
	case "sqlite":
		if cfg.DBDSN == "" {
			cfg.DBDSN = "rxscan.db"
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want postgres or sqlite)", cfg.DBDriver)
	}
	if cfg.JWTSecret == "" {
		if cfg.IsProduction() {
			return fmt.Errorf("JWT_SECRET is required when APP_ENV=production")
		}
		cfg.JWTSecret = DevSecret
	}
	if cfg.AnalyzeRPS <= 0 {
		return fmt.Errorf("ANALYZE_RPS must be positive")
	}
	if cfg.AnalyzeBurst < 1 {
		cfg.AnalyzeBurst = 1
	}
	return validateOCR(cfg)
}

func validateOCR(cfg *Config) error {
	if len(cfg.Engines()) == 0 {
		return fmt.Errorf("OCR_ENGINES is empty")
	}
	if len(cfg.Languages()) == 0 {
		return fmt.Errorf("OCR_LANG is empty")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// Engines returns the configured OCR engine names in order.
func (c *Config) Engines() []string {
	var out []string
	for _, e := range strings.Split(c.OCREngines, ",") {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// Languages returns the Tesseract languages, "+"-separated in OCR_LANG.
func (c *Config) Languages() []string {
	var out []string
	for _, l := range strings.Split(c.OCRLang, "+") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
