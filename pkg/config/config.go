/*
Package config manages TOML config for symserve.

A YAML file (.yaml or .yml) with the same keys is accepted as well. Missing
files are created with defaults; files that fail to parse are recovered
section by section where possible.
*/
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bastiangx/symserve/internal/utils"
	"github.com/charmbracelet/log"
)

// Config holds the entire config structure
type Config struct {
	Server ServerConfig `toml:"server" yaml:"server"`
	Data   DataConfig   `toml:"data" yaml:"data"`
	CLI    CliConfig    `toml:"cli" yaml:"cli"`
}

// ServerConfig has server related options.
type ServerConfig struct {
	MaxLimit          int     `toml:"max_limit" yaml:"max_limit"`
	MinQuery          int     `toml:"min_query" yaml:"min_query"`
	MaxQuery          int     `toml:"max_query" yaml:"max_query"`
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second"`
	CacheSize         int     `toml:"cache_size" yaml:"cache_size"`
	MetricsAddr       string  `toml:"metrics_addr" yaml:"metrics_addr"`
}

// DataConfig holds entry data options.
type DataConfig struct {
	Dir        string `toml:"dir" yaml:"dir"`
	Watch      bool   `toml:"watch" yaml:"watch"`
	DebounceMS int    `toml:"debounce_ms" yaml:"debounce_ms"`
}

// CliConfig holds cli interface options.
type CliConfig struct {
	DefaultLimit int  `toml:"default_limit" yaml:"default_limit"`
	Highlight    bool `toml:"highlight" yaml:"highlight"`
}

// Debounce returns the watcher debounce as a duration.
func (d DataConfig) Debounce() time.Duration {
	return time.Duration(d.DebounceMS) * time.Millisecond
}

// GetConfigDir returns the config directory with fallback priority:
// 1. ~/.config/
// 2. ~/Library/Application Support/ (macOS)
// 3. Current executable dir
// 4. builtin defaults
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Errorf("Failed to get home directory: %v", err)
		execDir, execErr := utils.GetExecutableDir()
		if execErr != nil {
			return "", execErr
		}
		return execDir, nil
	}
	primaryPath := filepath.Join(homeDir, ".config", "symserve")
	if result := utils.CheckDirStatus(primaryPath); result.Writable {
		return primaryPath, nil
	}
	macOSPath := filepath.Join(homeDir, "Library", "Application Support", "symserve")
	if result := utils.CheckDirStatus(macOSPath); result.Writable {
		return macOSPath, nil
	}
	execDir, err := utils.GetExecutableDir()
	if err != nil {
		log.Errorf("Failed to get executable directory: %v", err)
		return "", err
	}
	return execDir, nil
}

// GetDefaultConfigPath returns the default path for config.toml
func GetDefaultConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}

// LoadConfigWithPriority loads config with priority:
// 1. Custom path from --config flag
// 2. Default path: [UserConfigDir]/symserve/config.toml
// 3. Builtin defaults
func LoadConfigWithPriority(customConfigPath string) (*Config, string, error) {
	if customConfigPath != "" {
		if _, statErr := os.Stat(customConfigPath); statErr == nil {
			config, err := LoadConfig(customConfigPath)
			if err != nil {
				log.Warnf("Failed to load custom config from %s: %v. Trying default path...", customConfigPath, err)
			} else {
				log.Debugf("Loaded config from custom path: %s", customConfigPath)
				return config, customConfigPath, nil
			}
		} else {
			log.Warnf("Custom config file not found at %s: %v. Trying default path...", customConfigPath, statErr)
		}
	}
	defaultPath, err := GetDefaultConfigPath()
	if err != nil {
		log.Warnf("Failed to determine default config path: %v. Using built-in defaults...", err)
		return DefaultConfig(), "", nil
	}

	config, err := InitConfig(defaultPath)
	if err != nil {
		log.Warnf("Failed to load/create config at default path %s: %v. Using builtin defaults...", defaultPath, err)
		return DefaultConfig(), "", nil
	}
	log.Debugf("Loaded config from default path: %s", defaultPath)
	return config, defaultPath, nil
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			MaxLimit:          64,
			MinQuery:          1,
			MaxQuery:          128,
			RequestsPerSecond: 500,
			CacheSize:         256,
			MetricsAddr:       "",
		},
		Data: DataConfig{
			Dir:        "data/",
			Watch:      true,
			DebounceMS: 250,
		},
		CLI: CliConfig{
			DefaultLimit: 24,
			Highlight:    true,
		},
	}
}

// InitConfig loads config from file or creates default if missing
func InitConfig(configPath string) (*Config, error) {
	configDir := filepath.Dir(configPath)

	if err := utils.EnsureDir(configDir); err != nil {
		log.Warnf("Failed to create config directory %s: %v. Using built-in defaults...", configDir, err)
		return DefaultConfig(), nil
	}

	if !utils.FileExists(configPath) {
		config := DefaultConfig()
		if err := SaveConfig(config, configPath); err != nil {
			log.Warnf("Failed to create default config file at %s: %v. Using built-in defaults...", configPath, err)
			return DefaultConfig(), nil
		}
		log.Debugf("Created default config file at: %s", configPath)
		return config, nil
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		log.Warnf("Failed to load config from %s: %v. Using built-in defaults...", configPath, err)
		return DefaultConfig(), nil
	}
	return config, nil
}

func isYAML(configPath string) bool {
	ext := strings.ToLower(filepath.Ext(configPath))
	return ext == ".yaml" || ext == ".yml"
}

// LoadConfig loads from a TOML (or YAML) file. Keys absent from the file keep
// their defaults.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if isYAML(configPath) {
		if err := utils.LoadYAMLFile(configPath, config); err != nil {
			return nil, err
		}
		return config.normalize(), nil
	}
	if err := utils.LoadTOMLFile(configPath, config); err != nil {
		return tryPartialParse(configPath)
	}
	return config.normalize(), nil
}

// normalize replaces values that would disable the service with defaults.
func (c *Config) normalize() *Config {
	def := DefaultConfig()
	if c.Server.MaxLimit < 1 {
		c.Server.MaxLimit = def.Server.MaxLimit
	}
	if c.Server.MinQuery < 1 {
		c.Server.MinQuery = def.Server.MinQuery
	}
	if c.Server.MaxQuery < c.Server.MinQuery {
		c.Server.MaxQuery = def.Server.MaxQuery
	}
	if c.Data.DebounceMS < 0 {
		c.Data.DebounceMS = def.Data.DebounceMS
	}
	return c
}

// tryPartialParse attempts to parse a TOML file
func tryPartialParse(configPath string) (*Config, error) {
	config := DefaultConfig()

	tempConfig, err := utils.ParseTOMLWithRecovery(configPath)
	if err != nil {
		log.Warnf("Could not parse any valid configuration from %s: %v. Using all defaults.", configPath, err)
		return config, nil
	}

	if serverSection, ok := utils.ExtractSection(tempConfig, "server"); ok {
		extractServerConfig(serverSection, &config.Server)
	}
	if dataSection, ok := utils.ExtractSection(tempConfig, "data"); ok {
		extractDataConfig(dataSection, &config.Data)
	}
	if cliSection, ok := utils.ExtractSection(tempConfig, "cli"); ok {
		extractCliConfig(cliSection, &config.CLI)
	}
	return config.normalize(), nil
}

// extractServerConfig extracts server configuration from a map
func extractServerConfig(data map[string]any, server *ServerConfig) {
	if val, ok := utils.ExtractInt64(data, "max_limit"); ok {
		server.MaxLimit = val
	}
	if val, ok := utils.ExtractInt64(data, "min_query"); ok {
		server.MinQuery = val
	}
	if val, ok := utils.ExtractInt64(data, "max_query"); ok {
		server.MaxQuery = val
	}
	if val, ok := utils.ExtractFloat(data, "requests_per_second"); ok {
		server.RequestsPerSecond = val
	}
	if val, ok := utils.ExtractInt64(data, "cache_size"); ok {
		server.CacheSize = val
	}
	if val, ok := utils.ExtractString(data, "metrics_addr"); ok {
		server.MetricsAddr = val
	}
}

// extractDataConfig extracts data configuration from a map
func extractDataConfig(data map[string]any, d *DataConfig) {
	if val, ok := utils.ExtractString(data, "dir"); ok {
		d.Dir = val
	}
	if val, ok := utils.ExtractBool(data, "watch"); ok {
		d.Watch = val
	}
	if val, ok := utils.ExtractInt64(data, "debounce_ms"); ok {
		d.DebounceMS = val
	}
}

// extractCliConfig extracts CLI config from a map
func extractCliConfig(data map[string]any, cli *CliConfig) {
	if val, ok := utils.ExtractInt64(data, "default_limit"); ok {
		cli.DefaultLimit = val
	}
	if val, ok := utils.ExtractBool(data, "highlight"); ok {
		cli.Highlight = val
	}
}

// RebuildConfigFile force creates a config file with defaults at configPath,
// or at the default location when configPath is empty.
func RebuildConfigFile(configPath string) error {
	if configPath == "" {
		defaultPath, err := GetDefaultConfigPath()
		if err != nil {
			return err
		}
		configPath = defaultPath
	}
	if err := utils.EnsureDir(filepath.Dir(configPath)); err != nil {
		return err
	}
	return SaveConfig(DefaultConfig(), configPath)
}

// GetActiveConfigPath returns the absolute path of loaded config file
func GetActiveConfigPath(configPath string) string {
	if configPath == "" {
		if defaultPath, err := GetDefaultConfigPath(); err == nil {
			return defaultPath
		}
		return "unknown"
	}
	return utils.GetAbsolutePath(configPath)
}

// SaveConfig saves into a TOML or YAML file, chosen by extension.
func SaveConfig(config *Config, configPath string) error {
	if isYAML(configPath) {
		return utils.SaveYAMLFile(config, configPath)
	}
	return utils.SaveTOMLFile(config, configPath)
}
