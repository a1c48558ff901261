package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// GlobalConfig represents configuration stored in ~/.config/pkb/config.yml.
type GlobalConfig struct {
	// DefaultInstance is the knowledge base used when --dir is omitted.
	DefaultInstance string          `yaml:"default_instance,omitempty"`
	Embedding       EmbeddingConfig `yaml:"embedding,omitempty"`
}

// EmbeddingConfig configures the embedding service.
type EmbeddingConfig struct {
	BaseURL       string `yaml:"base_url,omitempty"`
	Model         string `yaml:"model,omitempty"`
	Dimensions    int    `yaml:"dimensions,omitempty"`
	BatchSize     int    `yaml:"batch_size,omitempty"`
	MaxRetries    int    `yaml:"max_retries,omitempty"`
	MinIntervalMS int    `yaml:"min_interval_ms,omitempty"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
}

const (
	// GlobalConfigDir is the directory name under XDG_CONFIG_HOME.
	GlobalConfigDir = "pkb"
	// GlobalConfigFile is the config file name.
	GlobalConfigFile = "config.yml"

	// DefaultAPIKeyEnv is the environment variable checked for the
	// embedding API key when the config names no other.
	DefaultAPIKeyEnv = "PAPERKB_EMBEDDING_API_KEY"
)

// globalConfigCache caches the loaded global config.
var globalConfigCache *GlobalConfig

// GlobalConfigPath returns the path to the global config file.
// Respects XDG_CONFIG_HOME, defaults to ~/.config/pkb/config.yml.
func GlobalConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, GlobalConfigDir, GlobalConfigFile)
}

// LoadGlobalConfig loads the global configuration file.
// Returns an empty config (not an error) if the file doesn't exist.
func LoadGlobalConfig() (*GlobalConfig, error) {
	if globalConfigCache != nil {
		return globalConfigCache, nil
	}

	path := GlobalConfigPath()
	if path == "" {
		return &GlobalConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &GlobalConfig{}, nil
		}
		return nil, fmt.Errorf("reading global config: %w", err)
	}

	var cfg GlobalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing global config: %w", err)
	}

	if cfg.DefaultInstance != "" {
		cfg.DefaultInstance = ExpandTilde(cfg.DefaultInstance)
	}

	globalConfigCache = &cfg
	return &cfg, nil
}

// ResetGlobalConfigCache clears the cached global config.
// Useful for testing.
func ResetGlobalConfigCache() {
	globalConfigCache = nil
}

// LoadDotEnv loads a .env file from the working directory into the
// environment without overriding variables already set. A missing file
// is not an error.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// APIKey resolves the embedding API key: the env var named in the
// config, falling back to DefaultAPIKeyEnv.
func (c *EmbeddingConfig) APIKey() string {
	envVar := c.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv
	}
	return os.Getenv(envVar)
}

// MinInterval returns the configured request spacing, zero when unset.
func (c *EmbeddingConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMS) * time.Millisecond
}
