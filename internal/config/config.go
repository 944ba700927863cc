// Package config loads the process-wide configuration for the answer
// pipeline: model endpoints, search provider credentials and the
// extraction strategy. Configuration is resolved once at startup and
// treated as read-only for the lifetime of a request.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// OptimizationMode selects the latency/quality trade-off for a request.
type OptimizationMode string

const (
	ModeSpeed    OptimizationMode = "speed"
	ModeBalanced OptimizationMode = "balanced"
	ModeQuality  OptimizationMode = "quality"
)

// ParseOptimizationMode validates a mode string, defaulting to balanced.
func ParseOptimizationMode(s string) OptimizationMode {
	switch OptimizationMode(s) {
	case ModeSpeed, ModeBalanced, ModeQuality:
		return OptimizationMode(s)
	default:
		return ModeBalanced
	}
}

// ExtractionMethod selects the content extraction strategy.
type ExtractionMethod string

const (
	ExtractionLocal    ExtractionMethod = "local"
	ExtractionCrawl4AI ExtractionMethod = "crawl4ai"
)

// LLMConfig describes an OpenAI-compatible completion endpoint.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// EmbeddingConfig describes the embedding endpoint. BaseURL/APIKey fall
// back to the chat endpoint's values when empty.
type EmbeddingConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// SearXNGConfig configures the self-hosted meta-search provider.
type SearXNGConfig struct {
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TavilyConfig configures the Tavily search API.
type TavilyConfig struct {
	APIKey string `yaml:"api_key"`
}

// BochaAIConfig configures the BochaAI search API.
type BochaAIConfig struct {
	APIKey string `yaml:"api_key"`
}

// Crawl4AIConfig configures the remote batch extraction service.
type Crawl4AIConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured crawl timeout with a sane default.
func (c Crawl4AIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Config is the root configuration shape.
type Config struct {
	Listen     string           `yaml:"listen"`
	LLM        LLMConfig        `yaml:"llm"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	SearXNG    SearXNGConfig    `yaml:"searxng"`
	Tavily     TavilyConfig     `yaml:"tavily"`
	BochaAI    BochaAIConfig    `yaml:"bochaai"`
	Crawl4AI   Crawl4AIConfig   `yaml:"crawl4ai"`
	Extraction ExtractionMethod `yaml:"extraction_method"`

	// HistoryPath is the SQLite database path for chat persistence.
	// Empty disables persistence.
	HistoryPath string `yaml:"history_path"`
}

// Load reads an optional YAML config file and applies environment
// variable overrides. A missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Listen:     ":3001",
		Extraction: ExtractionLocal,
		LLM:        LLMConfig{Temperature: 0.7},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.Extraction != ExtractionLocal && cfg.Extraction != ExtractionCrawl4AI {
		cfg.Extraction = ExtractionLocal
	}

	return cfg, nil
}

// applyEnv overlays environment variables onto the loaded configuration.
// Env wins over file values so deployments can keep secrets out of YAML.
func (c *Config) applyEnv() {
	setString(&c.Listen, "ANSWER_ENGINE_LISTEN")

	setString(&c.LLM.BaseURL, "OPENAI_API_BASE")
	setString(&c.LLM.APIKey, "OPENAI_API_KEY")
	setString(&c.LLM.Model, "OPENAI_MODEL")
	if v := os.Getenv("OPENAI_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.LLM.Temperature = f
		}
	}

	setString(&c.Embedding.BaseURL, "EMBEDDING_API_BASE")
	setString(&c.Embedding.APIKey, "EMBEDDING_API_KEY")
	setString(&c.Embedding.Model, "EMBEDDING_MODEL")

	setString(&c.SearXNG.BaseURL, "SEARXNG_BASE_URL")
	setString(&c.SearXNG.Username, "SEARXNG_USERNAME")
	setString(&c.SearXNG.Password, "SEARXNG_PASSWORD")

	setString(&c.Tavily.APIKey, "TAVILY_API_KEY")
	setString(&c.BochaAI.APIKey, "BOCHAAI_API_KEY")

	setString(&c.Crawl4AI.BaseURL, "CRAWL4AI_API_URL")
	setString(&c.Crawl4AI.APIKey, "CRAWL4AI_API_KEY")
	if v := os.Getenv("CRAWL4AI_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Crawl4AI.TimeoutSeconds = n
		}
	}

	if v := os.Getenv("DOCUMENT_EXTRACTION_METHOD"); v != "" {
		c.Extraction = ExtractionMethod(v)
	}

	setString(&c.HistoryPath, "ANSWER_ENGINE_HISTORY_DB")
}

// Validate checks that at least one chat model and one search provider
// are usable. Called once at startup: a pipeline without a model or any
// provider cannot produce a partial run, so this fails fast.
func (c *Config) Validate() error {
	if c.LLM.Model == "" || c.LLM.APIKey == "" {
		return fmt.Errorf("no chat model configured: set OPENAI_API_KEY and OPENAI_MODEL (or llm.api_key / llm.model)")
	}
	if c.SearXNG.BaseURL == "" && c.Tavily.APIKey == "" && c.BochaAI.APIKey == "" {
		return fmt.Errorf("no search provider configured: set at least one of SEARXNG_BASE_URL, TAVILY_API_KEY, BOCHAAI_API_KEY")
	}
	return nil
}

// EmbeddingResolved returns the embedding config with chat-endpoint
// fallbacks applied.
func (c *Config) EmbeddingResolved() EmbeddingConfig {
	e := c.Embedding
	if e.BaseURL == "" {
		e.BaseURL = c.LLM.BaseURL
	}
	if e.APIKey == "" {
		e.APIKey = c.LLM.APIKey
	}
	if e.Model == "" {
		e.Model = "text-embedding-3-small"
	}
	return e
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}
