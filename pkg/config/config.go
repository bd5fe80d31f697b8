// Package config loads medgate configuration from YAML files under
// ~/.medgate, with environment variables taking precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	DeepSeekAPIKey  string
	OllamaBaseURL   string
	OllamaModel     string
	VLLMBaseURL     string
	VLLMModel       string
	ListenAddr      string
	LogLevel        string
	StorePath       string
	Routing         *RoutingConfig
	ConfigDir       string
}

// FileConfig represents the structure of ~/.medgate/config.yaml.
type FileConfig struct {
	APIKeys APIKeysConfig `yaml:"api_keys"`
	Local   LocalConfig   `yaml:"local"`
	Server  ServerConfig  `yaml:"server"`
}

// APIKeysConfig holds API key configuration from file.
type APIKeysConfig struct {
	Anthropic string `yaml:"anthropic"`
	OpenAI    string `yaml:"openai"`
	Google    string `yaml:"google"`
	DeepSeek  string `yaml:"deepseek"`
}

// LocalConfig points at self-hosted backends.
type LocalConfig struct {
	OllamaBaseURL string `yaml:"ollama_base_url"`
	OllamaModel   string `yaml:"ollama_model"`
	VLLMBaseURL   string `yaml:"vllm_base_url"`
	VLLMModel     string `yaml:"vllm_model"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	StorePath  string `yaml:"store_path"`
}

// Load reads configuration from config files and environment variables.
// Environment variables take precedence over file configuration.
func Load() (*Config, error) {
	return load("")
}

// LoadWithRoutingFile loads config with a specific routing file.
func LoadWithRoutingFile(routingPath string) (*Config, error) {
	return load(routingPath)
}

func load(routingPath string) (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	fileConfig := loadFileConfig(filepath.Join(configDir, "config.yaml"))

	cfg := &Config{
		AnthropicAPIKey: getEnvOrDefault("ANTHROPIC_API_KEY", fileConfig.APIKeys.Anthropic),
		OpenAIAPIKey:    getEnvOrDefault("OPENAI_API_KEY", fileConfig.APIKeys.OpenAI),
		GoogleAPIKey:    getEnvOrDefault("GOOGLE_API_KEY", fileConfig.APIKeys.Google),
		DeepSeekAPIKey:  getEnvOrDefault("DEEPSEEK_API_KEY", fileConfig.APIKeys.DeepSeek),
		OllamaBaseURL:   getEnvOrDefault("OLLAMA_BASE_URL", fileConfig.Local.OllamaBaseURL),
		OllamaModel:     getEnvOrDefault("OLLAMA_MODEL", fileConfig.Local.OllamaModel),
		VLLMBaseURL:     getEnvOrDefault("VLLM_BASE_URL", fileConfig.Local.VLLMBaseURL),
		VLLMModel:       getEnvOrDefault("VLLM_MODEL", fileConfig.Local.VLLMModel),
		ListenAddr:      getEnvOrDefault("MEDGATE_LISTEN_ADDR", fileConfig.Server.ListenAddr),
		LogLevel:        getEnvOrDefault("MEDGATE_LOG_LEVEL", fileConfig.Server.LogLevel),
		StorePath:       getEnvOrDefault("MEDGATE_STORE_PATH", fileConfig.Server.StorePath),
		ConfigDir:       configDir,
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.StorePath == "" {
		cfg.StorePath = filepath.Join(configDir, "availability")
	}

	if routingPath == "" {
		routingPath = filepath.Join(configDir, "routing.yaml")
		if _, err := os.Stat(routingPath); err != nil {
			cfg.Routing = DefaultRoutingConfig()
			return cfg, nil
		}
	}
	routing, err := LoadRoutingConfig(routingPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load routing config from %s: %w", routingPath, err)
	}
	cfg.Routing = routing
	return cfg, nil
}

// HasProvider returns true if the given provider is configured. Local
// backends count as configured because they carry usable defaults.
func (c *Config) HasProvider(name string) bool {
	switch name {
	case "anthropic":
		return c.AnthropicAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "google":
		return c.GoogleAPIKey != ""
	case "deepseek":
		return c.DeepSeekAPIKey != ""
	case "ollama":
		return true
	case "vllm":
		return c.VLLMBaseURL != ""
	default:
		return false
	}
}

// loadFileConfig reads the config file, returning empty config if not found.
func loadFileConfig(path string) *FileConfig {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg // Return empty config if file doesn't exist
	}

	_ = yaml.Unmarshal(data, cfg) // Ignore parse errors, use defaults
	return cfg
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".medgate")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
