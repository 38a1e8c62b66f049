// Package config loads and validates arcflow configuration from file,
// environment, and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".arcflow"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for arcflow settings.
const envPrefix = "ARCFLOW"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// Default values applied before file and environment layers.
const (
	DefaultAspaceBaseURL = "http://localhost:8089"
	DefaultSolrURL       = "http://localhost:8983/solr/arclight"
	DefaultStagingDir    = "staging"
	DefaultStateDir      = "state"
	DefaultLogFile       = "arcflow.log"

	DefaultSyncWorkers   = 4
	DefaultRetryAttempts = 3
	DefaultRetryBackoff  = "500ms"

	DefaultIndexCommand   = "bundle"
	DefaultIndexBatchSize = 100
	DefaultIndexWorkers   = 2

	DefaultHistoryKeep    = 30
	DefaultHistoryMaxDays = 90
)

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("aspace.base_url", DefaultAspaceBaseURL)
	viperCfg.SetDefault("aspace.username", "admin")
	viperCfg.SetDefault("aspace.password", "")

	viperCfg.SetDefault("solr.url", DefaultSolrURL)

	viperCfg.SetDefault("staging.dir", DefaultStagingDir)

	viperCfg.SetDefault("state.dir", DefaultStateDir)
	viperCfg.SetDefault("state.history_keep", DefaultHistoryKeep)
	viperCfg.SetDefault("state.history_max_days", DefaultHistoryMaxDays)

	viperCfg.SetDefault("sync.workers", DefaultSyncWorkers)
	viperCfg.SetDefault("sync.retry_attempts", DefaultRetryAttempts)
	viperCfg.SetDefault("sync.retry_backoff", DefaultRetryBackoff)

	viperCfg.SetDefault("indexing.command", DefaultIndexCommand)
	viperCfg.SetDefault("indexing.args", []string{"exec", "rake", "arclight:index"})
	viperCfg.SetDefault("indexing.dir", "")
	viperCfg.SetDefault("indexing.batch_size", DefaultIndexBatchSize)
	viperCfg.SetDefault("indexing.workers", DefaultIndexWorkers)

	viperCfg.SetDefault("repositories.output", "")

	viperCfg.SetDefault("logging.file", DefaultLogFile)

	viperCfg.SetDefault("metrics.addr", "")
}
