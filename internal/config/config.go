// Package config provides configuration loading for doc-ingest.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	PDF        PDFConfig        `yaml:"pdf"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Engines    EnginesConfig    `yaml:"engines"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Store      StoreConfig      `yaml:"store"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// PDFConfig holds rasterization settings.
type PDFConfig struct {
	DPI              int  `yaml:"dpi"`            // classification resolution
	ExtractionDPI    int  `yaml:"extraction_dpi"` // resolution sent to engines
	JPEGQuality      int  `yaml:"jpeg_quality"`
	StrictValidation bool `yaml:"strict_validation"`
}

// ClassifierConfig holds page classification settings.
type ClassifierConfig struct {
	Threshold     float64  `yaml:"threshold"`
	MatchDistance int      `yaml:"match_distance"`
	MaxKeypoints  int      `yaml:"max_keypoints"`
	FastThreshold int      `yaml:"fast_threshold"`
	MaxDimension  int      `yaml:"max_dimension"`
	BlankRatio    float64  `yaml:"blank_ratio"`
	References    []string `yaml:"references"`
	ReferencesDir string   `yaml:"references_dir"`
}

// EnginesConfig holds extraction engine settings.
type EnginesConfig struct {
	Timeout time.Duration `yaml:"timeout"` // per page call
	Prose   ProseConfig   `yaml:"prose"`
	Diagram DiagramConfig `yaml:"diagram"`
	Retry   RetryConfig   `yaml:"retry"`
}

// ProseConfig configures the vision-language model engine.
type ProseConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	RateLimit   float64 `yaml:"rate_limit"` // requests per second
	Burst       int     `yaml:"burst"`
}

// DiagramConfig configures the OCR engine.
type DiagramConfig struct {
	Provider      string   `yaml:"provider"` // vision or tesseract
	APIKey        string   `yaml:"api_key"`
	Endpoint      string   `yaml:"endpoint"`
	LanguageHints []string `yaml:"language_hints"`
	Languages     []string `yaml:"languages"` // tesseract
	RateLimit     float64  `yaml:"rate_limit"`
	Burst         int      `yaml:"burst"`
}

// RetryConfig holds remote call retry settings.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// PipelineConfig holds orchestration settings.
type PipelineConfig struct {
	Workers        int    `yaml:"workers"`
	CombineMode    string `yaml:"combine_mode"` // interleaved or grouped
	SkipBlankPages bool   `yaml:"skip_blank_pages"`
	PagesDir       string `yaml:"pages_dir"`
}

// StoreConfig holds job store settings.
type StoreConfig struct {
	Driver string        `yaml:"driver"` // memory or redis
	TTL    time.Duration `yaml:"ttl"`
	Redis  RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}

		for i, ref := range cfg.Classifier.References {
			cfg.Classifier.References[i] = ResolveRelativePath(path, ref)
		}
		if cfg.Classifier.ReferencesDir != "" {
			cfg.Classifier.ReferencesDir = ResolveRelativePath(path, cfg.Classifier.ReferencesDir)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		PDF: PDFConfig{
			DPI:           200,
			ExtractionDPI: 300,
			JPEGQuality:   85,
		},
		Classifier: ClassifierConfig{
			Threshold:     0.15,
			MatchDistance: 50,
			MaxKeypoints:  2000,
			FastThreshold: 20,
			MaxDimension:  1600,
			BlankRatio:    0.99,
			ReferencesDir: "references",
		},
		Engines: EnginesConfig{
			Timeout: 60 * time.Second,
			Prose: ProseConfig{
				Model:       "pixtral-12b-2409",
				BaseURL:     "https://api.mistral.ai/v1",
				MaxTokens:   4000,
				Temperature: 0.1,
				RateLimit:   0.5,
				Burst:       1,
			},
			Diagram: DiagramConfig{
				Provider:      "vision",
				LanguageHints: []string{"en"},
				Languages:     []string{"eng"},
				RateLimit:     5,
				Burst:         5,
			},
			Retry: RetryConfig{
				MaxRetries:     3,
				InitialBackoff: 1 * time.Second,
				MaxBackoff:     30 * time.Second,
			},
		},
		Pipeline: PipelineConfig{
			Workers:        3,
			CombineMode:    "interleaved",
			SkipBlankPages: true,
		},
		Store: StoreConfig{
			Driver: "memory",
			TTL:    7 * 24 * time.Hour,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "docingest:",
			},
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.PDF.DPI < 36 || c.PDF.DPI > 600 {
		return fmt.Errorf("pdf.dpi must be between 36 and 600, got %d", c.PDF.DPI)
	}
	if c.PDF.ExtractionDPI < 36 || c.PDF.ExtractionDPI > 600 {
		return fmt.Errorf("pdf.extraction_dpi must be between 36 and 600, got %d", c.PDF.ExtractionDPI)
	}
	if c.PDF.JPEGQuality < 1 || c.PDF.JPEGQuality > 100 {
		return fmt.Errorf("pdf.jpeg_quality must be between 1 and 100, got %d", c.PDF.JPEGQuality)
	}

	if c.Classifier.Threshold < 0 {
		return fmt.Errorf("classifier.threshold must not be negative")
	}
	if c.Classifier.MatchDistance < 1 || c.Classifier.MatchDistance > 256 {
		return fmt.Errorf("classifier.match_distance must be between 1 and 256")
	}
	if c.Classifier.BlankRatio <= 0 || c.Classifier.BlankRatio > 1 {
		return fmt.Errorf("classifier.blank_ratio must be in (0, 1]")
	}

	if c.Engines.Timeout < 0 {
		return fmt.Errorf("engines.timeout must not be negative")
	}
	if p := c.Engines.Diagram.Provider; p != "vision" && p != "tesseract" {
		return fmt.Errorf("invalid diagram provider: %s", p)
	}

	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1")
	}
	if m := c.Pipeline.CombineMode; m != "interleaved" && m != "grouped" {
		return fmt.Errorf("invalid combine mode: %s", m)
	}

	if c.Store.Driver != "memory" && c.Store.Driver != "redis" {
		return fmt.Errorf("invalid store driver: %s", c.Store.Driver)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("MISTRAL_API_KEY"); v != "" {
		cfg.Engines.Prose.APIKey = v
	}

	if v := os.Getenv("GOOGLE_VISION_API_KEY"); v != "" {
		cfg.Engines.Diagram.APIKey = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Store.Driver = "redis"
		cfg.Store.Redis.URL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	if v := os.Getenv("DOCINGEST_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("DOCINGEST_THRESHOLD: %w", err)
		}
		cfg.Classifier.Threshold = f
	}

	if v := os.Getenv("DOCINGEST_WORKERS"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("DOCINGEST_WORKERS: %w", err)
		}
		cfg.Pipeline.Workers = n
	}

	if v := os.Getenv("DOCINGEST_REFERENCES_DIR"); v != "" {
		cfg.Classifier.ReferencesDir = v
	}

	return nil
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
