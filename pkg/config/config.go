package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

type SyncOptions struct {
	ServerURL       string `yaml:"serverUrl"`
	APIToken        string `yaml:"apiToken"`
	IntervalSeconds int    `yaml:"intervalSeconds"`
}

type TOTPOptions struct {
	PeriodSeconds uint `yaml:"periodSeconds"`
	Digits        uint `yaml:"digits"`
}

// Config holds the application configuration
type Config struct {
	SyncOptions SyncOptions `yaml:"sync"`
	TOTPOptions TOTPOptions `yaml:"totp"`
	DBPath      string      `yaml:"dbPath"`
}

var (
	// Global configuration instance
	globalConfig *Config
	// Mutex to ensure thread-safe access to the global configuration
	configMutex sync.RWMutex
	// Flag to track if the configuration has been loaded
	configLoaded bool
)

// LoadConfig loads the configuration from the specified YAML file
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

// InitGlobalConfig initializes the global configuration from the specified file
func InitGlobalConfig(configPath string) error {
	config, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	globalConfig = config
	configLoaded = true
	return nil
}

// GetConfig returns the global configuration instance
// If the configuration hasn't been loaded yet, it attempts to load it from
// the default location (./config.yaml)
func GetConfig() (*Config, error) {
	configMutex.RLock()
	if configLoaded {
		defer configMutex.RUnlock()
		return globalConfig, nil
	}
	configMutex.RUnlock()

	configPath := "config.yaml"
	if err := InitGlobalConfig(configPath); err != nil {
		// If the default config file doesn't exist, create it
		if os.IsNotExist(err) {
			dir := filepath.Dir(configPath)
			if dir != "" && dir != "." {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return nil, fmt.Errorf("error creating config directory: %w", err)
				}
			}

			defaultConfig := DefaultConfig()

			data, err := yaml.Marshal(defaultConfig)
			if err != nil {
				return nil, fmt.Errorf("error creating default config: %w", err)
			}

			if err := os.WriteFile(configPath, data, 0600); err != nil {
				return nil, fmt.Errorf("error writing default config: %w", err)
			}

			configMutex.Lock()
			globalConfig = defaultConfig
			configLoaded = true
			configMutex.Unlock()

			return defaultConfig, nil
		}
		return nil, err
	}

	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig, nil
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() *Config {
	return &Config{
		SyncOptions: SyncOptions{
			IntervalSeconds: 60,
		},
		TOTPOptions: TOTPOptions{
			PeriodSeconds: 30,
			Digits:        6,
		},
	}
}

// GetSyncCredentials returns the sync server URL and API token from the
// configuration. Both must be set for sync to be enabled.
func GetSyncCredentials() (string, string, error) {
	config, err := GetConfig()
	if err != nil {
		return "", "", err
	}

	if config.SyncOptions.ServerURL == "" || config.SyncOptions.APIToken == "" {
		return "", "", fmt.Errorf("sync server URL or API token not set in configuration")
	}

	return config.SyncOptions.ServerURL, config.SyncOptions.APIToken, nil
}

// GetSyncIntervalSeconds returns the periodic sync cadence.
func GetSyncIntervalSeconds() int {
	config, err := GetConfig()
	if err != nil || config.SyncOptions.IntervalSeconds <= 0 {
		return 60
	}
	return config.SyncOptions.IntervalSeconds
}

// GetTOTPOptions returns the code generation parameters.
func GetTOTPOptions() (period, digits uint) {
	config, err := GetConfig()
	if err != nil {
		return 30, 6
	}
	period = config.TOTPOptions.PeriodSeconds
	digits = config.TOTPOptions.Digits
	if period == 0 {
		period = 30
	}
	if digits == 0 {
		digits = 6
	}
	return period, digits
}
