package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pairvote/pairvote/internal/model"
	"github.com/pairvote/pairvote/internal/socketrpc"

	"github.com/spf13/viper"
)

// cliConfig holds only dashboard-relevant configuration.
type cliConfig struct {
	UpdateInterval time.Duration `mapstructure:"update-interval"`
	SocketPath     string        `mapstructure:"socket-path"`
}

func loadCLIConfig(configPath string) (cliConfig, error) {
	var cfg cliConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("PAIRVOTE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("update-interval", model.DefaultUpdateInterval)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "pairvote", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
