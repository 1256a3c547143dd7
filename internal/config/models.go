package config

import (
	"fmt"
	"os"
)

// ModelsConfig lists every completion and embedding model the pipeline may call.
type ModelsConfig struct {
	LLM       []LLMModelConfig       `mapstructure:"llm"`
	Embedding []EmbeddingModelConfig `mapstructure:"embedding"`
}

// LLMModelConfig defines one OpenAI-compatible completion model.
type LLMModelConfig struct {
	Name        string `mapstructure:"name"`          // Model id sent to the provider
	BaseURL     string `mapstructure:"base_url"`      // OpenAI-compatible base URL
	BaseURLEnv  string `mapstructure:"base_url_env"`  // Environment variable name for base URL
	APIKey      string `mapstructure:"api_key"`       // API key (can be set directly or via env var)
	APIKeyEnv   string `mapstructure:"api_key_env"`   // Environment variable name for API key
	MaxContext  int    `mapstructure:"max_context"`   // Context window in tokens
	MaxResponse int    `mapstructure:"max_response"`  // Reserved response tokens
	IsDefault   bool   `mapstructure:"is_default"`    // Default model for auto indexes
}

// EmbeddingModelConfig defines one embedding model.
type EmbeddingModelConfig struct {
	Name       string `mapstructure:"name"`
	BaseURL    string `mapstructure:"base_url"`
	BaseURLEnv string `mapstructure:"base_url_env"`
	APIKey     string `mapstructure:"api_key"`
	APIKeyEnv  string `mapstructure:"api_key_env"`
	MaxToken   int    `mapstructure:"max_token"`  // Longest input the model accepts
	Dimensions int    `mapstructure:"dimensions"` // Embedding vector dimensions
	IsDefault  bool   `mapstructure:"is_default"`
}

// ResolveEnvVars resolves environment variable references in every model.
// Direct values (APIKey, BaseURL) take precedence if already set.
func (c *ModelsConfig) ResolveEnvVars() {
	for i := range c.LLM {
		m := &c.LLM[i]
		m.APIKey = resolveEnv(m.APIKey, m.APIKeyEnv)
		m.BaseURL = resolveEnv(m.BaseURL, m.BaseURLEnv)
	}
	for i := range c.Embedding {
		m := &c.Embedding[i]
		m.APIKey = resolveEnv(m.APIKey, m.APIKeyEnv)
		m.BaseURL = resolveEnv(m.BaseURL, m.BaseURLEnv)
	}
}

// ApplyKeyFallbacks fills empty API keys: completion models from llmKey,
// embedding models from embeddingKey and then llmKey.
func (c *ModelsConfig) ApplyKeyFallbacks(llmKey, embeddingKey string) {
	if embeddingKey == "" {
		embeddingKey = llmKey
	}
	for i := range c.LLM {
		if c.LLM[i].APIKey == "" {
			c.LLM[i].APIKey = llmKey
		}
	}
	for i := range c.Embedding {
		if c.Embedding[i].APIKey == "" {
			c.Embedding[i].APIKey = embeddingKey
		}
	}
}

func resolveEnv(direct, envName string) string {
	if direct != "" || envName == "" {
		return direct
	}
	return os.Getenv(envName)
}

// Validate checks that every configured model has the fields the pipeline needs.
// Returns an error describing the first validation failure, or nil if valid.
func (c *ModelsConfig) Validate() error {
	for _, m := range c.LLM {
		if m.Name == "" {
			return fmt.Errorf("llm model config: name is required")
		}
		if m.MaxContext < 0 || m.MaxResponse < 0 {
			return fmt.Errorf("llm model %q: token limits must not be negative", m.Name)
		}
	}
	for _, m := range c.Embedding {
		if m.Name == "" {
			return fmt.Errorf("embedding model config: name is required")
		}
		if m.Dimensions <= 0 {
			return fmt.Errorf("embedding model %q: dimensions must be positive", m.Name)
		}
	}
	return nil
}
