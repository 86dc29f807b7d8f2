// Package config loads service configuration from config.yaml and
// INVX_-prefixed environment variables, env taking precedence.
package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/invoice-extractor/internal/pricing"
)

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Storage StorageConfig `koanf:"storage"`
	OpenAI  OpenAIConfig  `koanf:"openai"`
	Cache   CacheConfig   `koanf:"cache"`
	Pricing PricingConfig `koanf:"pricing"`
	Uploads UploadsConfig `koanf:"uploads"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type StorageConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres, memory
	DSN    string `koanf:"dsn"`
}

type OpenAIConfig struct {
	APIKey      string `koanf:"api_key"`
	BaseURL     string `koanf:"base_url"`
	TextModel   string `koanf:"text_model"`
	VisionModel string `koanf:"vision_model"`
	MaxTokens   int    `koanf:"max_tokens"`
}

type CacheConfig struct {
	Enabled bool `koanf:"enabled"`
}

// PricingConfig maps model names (exact or prefix) to per-1K-token prices.
type PricingConfig struct {
	Models  map[string]pricing.ModelPrice `koanf:"models"`
	Default pricing.ModelPrice            `koanf:"default"`
}

type UploadsConfig struct {
	Dir string `koanf:"dir"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func Load() (*Config, error) {
	k := koanf.New(".")

	// Try to load from config.yaml file first
	if err := k.Load(file.Provider("config.yaml"), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider("INVX_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "INVX_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	defaults := map[string]any{
		"server.port":           8080,
		"storage.driver":        "sqlite",
		"storage.dsn":           "file:invoices.db",
		"openai.text_model":     "gpt-4-turbo-preview",
		"openai.vision_model":   "gpt-4-vision-preview",
		"openai.max_tokens":     1000,
		"cache.enabled":         true,
		"pricing.default.prompt_per_1k":     0.01,
		"pricing.default.completion_per_1k": 0.03,
		"uploads.dir":           "uploads",
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.OpenAI.APIKey = substituteEnvVars(cfg.OpenAI.APIKey)
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	return &cfg, nil
}

// PriceTable builds the pricing table from configuration.
func (c *Config) PriceTable() *pricing.Table {
	if len(c.Pricing.Models) == 0 && c.Pricing.Default == (pricing.ModelPrice{}) {
		return pricing.NewDefaultTable()
	}
	fallback := c.Pricing.Default
	if fallback == (pricing.ModelPrice{}) {
		fallback = pricing.DefaultPrice
	}
	return pricing.NewTable(c.Pricing.Models, fallback)
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
