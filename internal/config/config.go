// Package config loads, validates and persists the application configuration.
// The config file is JSON; a watcher reloads it when it changes on disk so
// settings edits apply without a restart.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/glowlab/deskagent/internal/llm"
)

// MCPServerConfig describes one configured tool server.
type MCPServerConfig struct {
	Type        string `json:"type"` // "websocket" or "openapi"
	Description string `json:"description,omitempty"`
	// URL is the websocket endpoint for websocket servers, or the base URL
	// for openapi servers.
	URL string `json:"url,omitempty"`
	// SpecLocation points at the OpenAPI document, a file path or URL.
	SpecLocation string            `json:"spec_location,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Disabled     bool              `json:"disabled,omitempty"`
}

// ConfirmationConfig controls the tool confirmation gate.
type ConfirmationConfig struct {
	Required       bool   `json:"required"`
	Mode           string `json:"mode"` // "batch" or "individual"
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ContextConfig bounds the history selection budget.
type ContextConfig struct {
	OutputReserveTokens int `json:"output_reserve_tokens"`
	SafetyMarginTokens  int `json:"safety_margin_tokens"`
}

// Config represents the application configuration.
type Config struct {
	Model         llm.ModelConfig             `json:"model"`
	MCPServers    map[string]*MCPServerConfig `json:"mcp_servers,omitempty"`
	Confirmation  ConfirmationConfig          `json:"confirmation"`
	Context       ContextConfig               `json:"context"`
	MaxIterations int                         `json:"max_iterations"`
	LogLevel      string                      `json:"log_level"` // debug, info, warn, error, none
	LogPath       string                      `json:"log_path,omitempty"`
	DBPath        string                      `json:"db_path,omitempty"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "deskagent")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "deskagent")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "deskagent")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "deskagent")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "deskagent")
	default:
		return defaultConfigDir()
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Model: llm.ModelConfig{
			Provider:         "openai",
			ModelID:          "gpt-4o-mini",
			Temperature:      0.7,
			MaxContextTokens: 128000,
		},
		MCPServers: make(map[string]*MCPServerConfig),
		Confirmation: ConfirmationConfig{
			Required:       true,
			Mode:           "batch",
			TimeoutSeconds: 60,
		},
		Context: ContextConfig{
			OutputReserveTokens: 4096,
			SafetyMarginTokens:  512,
		},
		MaxIterations: 5,
		LogLevel:      "info",
		LogPath:       filepath.Join(defaultStateDir(), "deskagent.log"),
		DBPath:        filepath.Join(defaultStateDir(), "deskagent.db"),
	}
}

// GetConfigPath returns the default config file path.
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// Load reads the configuration from path. A missing file yields the defaults;
// a present file overrides only the fields it sets.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if config.MCPServers == nil {
		config.MCPServers = make(map[string]*MCPServerConfig)
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = 5
	}
	if config.Confirmation.Mode == "" {
		config.Confirmation.Mode = "batch"
	}
	if config.Confirmation.TimeoutSeconds <= 0 {
		config.Confirmation.TimeoutSeconds = 60
	}
	if config.Context.OutputReserveTokens <= 0 {
		config.Context.OutputReserveTokens = 4096
	}
	if config.Context.SafetyMarginTokens <= 0 {
		config.Context.SafetyMarginTokens = 512
	}
	if config.LogPath == "" {
		config.LogPath = filepath.Join(defaultStateDir(), "deskagent.log")
	}
	if config.DBPath == "" {
		config.DBPath = filepath.Join(defaultStateDir(), "deskagent.db")
	}

	return config, nil
}

// Save writes the configuration to path, creating the directory if needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if c.Confirmation.Mode != "batch" && c.Confirmation.Mode != "individual" {
		return fmt.Errorf("confirmation mode must be \"batch\" or \"individual\", got %q", c.Confirmation.Mode)
	}
	for name, server := range c.MCPServers {
		if server == nil {
			return fmt.Errorf("mcp server %q has no configuration", name)
		}
		switch server.Type {
		case "websocket":
			if strings.TrimSpace(server.URL) == "" {
				return fmt.Errorf("mcp server %q requires a url", name)
			}
		case "openapi":
			if strings.TrimSpace(server.SpecLocation) == "" {
				return fmt.Errorf("mcp server %q requires a spec_location", name)
			}
		default:
			return fmt.Errorf("mcp server %q has unknown type %q", name, server.Type)
		}
	}
	return nil
}
