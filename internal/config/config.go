package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix          = "VOICEDIARY"
	defaultHTTPAddress = "0.0.0.0:8080"
	defaultLogLevel    = "info"
	appDirName         = "voicediary"
)

// AppConfig captures runtime configuration for the diary server.
type AppConfig struct {
	HTTPAddress string
	DataDir     string
	LogLevel    string
}

// DatabasePath returns the location of the SQLite file inside the data
// directory.
func (c AppConfig) DatabasePath() string {
	return filepath.Join(c.DataDir, "entries.db")
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("data.dir", "")
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper. An empty data directory
// resolves to a per-user application data directory.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress: configViper.GetString("http.address"),
		DataDir:     configViper.GetString("data.dir"),
		LogLevel:    configViper.GetString("log.level"),
	}

	if strings.TrimSpace(cfg.DataDir) == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return AppConfig{}, fmt.Errorf("resolve user data directory: %w", err)
		}
		cfg.DataDir = filepath.Join(base, appDirName)
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data.dir is required")
	}
	return nil
}
