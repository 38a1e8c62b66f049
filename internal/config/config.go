package config

import "errors"

// Config is the top-level configuration struct for arcflow.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Aspace       AspaceConfig       `mapstructure:"aspace"`
	Solr         SolrConfig         `mapstructure:"solr"`
	Staging      StagingConfig      `mapstructure:"staging"`
	State        StateConfig        `mapstructure:"state"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Indexing     IndexingConfig     `mapstructure:"indexing"`
	Repositories RepositoriesConfig `mapstructure:"repositories"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// AspaceConfig holds the ArchivesSpace backend connection settings.
type AspaceConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// SolrConfig holds the Solr core settings.
type SolrConfig struct {
	URL string `mapstructure:"url"`
}

// StagingConfig holds the staging directory settings.
type StagingConfig struct {
	Dir string `mapstructure:"dir"`
}

// StateConfig holds the durable run-state settings: watermark file, pid
// file, and run history all live under Dir.
type StateConfig struct {
	Dir            string `mapstructure:"dir"`
	HistoryKeep    int    `mapstructure:"history_keep"`
	HistoryMaxDays int    `mapstructure:"history_max_days"`
}

// SyncConfig holds the sync engine knobs.
type SyncConfig struct {
	Workers       int    `mapstructure:"workers"`
	RetryAttempts int    `mapstructure:"retry_attempts"`
	RetryBackoff  string `mapstructure:"retry_backoff"`
}

// IndexingConfig holds the external indexing invocation settings.
type IndexingConfig struct {
	Command   string   `mapstructure:"command"`
	Args      []string `mapstructure:"args"`
	Dir       string   `mapstructure:"dir"`
	BatchSize int      `mapstructure:"batch_size"`
	Workers   int      `mapstructure:"workers"`
}

// RepositoriesConfig holds the repository directory export settings.
type RepositoriesConfig struct {
	Output string `mapstructure:"output"`
}

// LoggingConfig holds log destination settings.
type LoggingConfig struct {
	File string `mapstructure:"file"`
}

// MetricsConfig holds the optional metrics endpoint settings. An empty
// address disables the endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Sentinel errors for configuration validation.
var (
	// ErrMissingAspaceURL indicates the backend URL is not set.
	ErrMissingAspaceURL = errors.New("aspace.base_url must be set")
	// ErrMissingAspaceCredentials indicates username or password is missing.
	ErrMissingAspaceCredentials = errors.New("aspace.username and aspace.password must be set")
	// ErrMissingSolrURL indicates the Solr core URL is not set.
	ErrMissingSolrURL = errors.New("solr.url must be set")
	// ErrMissingStagingDir indicates the staging directory is not set.
	ErrMissingStagingDir = errors.New("staging.dir must be set")
	// ErrMissingStateDir indicates the state directory is not set.
	ErrMissingStateDir = errors.New("state.dir must be set")
	// ErrInvalidBatchSize indicates the indexing batch size is not positive.
	ErrInvalidBatchSize = errors.New("indexing.batch_size must be positive")
	// ErrInvalidIndexWorkers indicates the indexing workers value is not positive.
	ErrInvalidIndexWorkers = errors.New("indexing.workers must be positive")
	// ErrInvalidSyncWorkers indicates the sync workers value is not positive.
	ErrInvalidSyncWorkers = errors.New("sync.workers must be positive")
	// ErrInvalidRetryAttempts indicates the retry attempt budget is not positive.
	ErrInvalidRetryAttempts = errors.New("sync.retry_attempts must be positive")
	// ErrMissingIndexCommand indicates the indexing command is not set.
	ErrMissingIndexCommand = errors.New("indexing.command must be set")
)

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Aspace.BaseURL == "" {
		return ErrMissingAspaceURL
	}

	if c.Aspace.Username == "" || c.Aspace.Password == "" {
		return ErrMissingAspaceCredentials
	}

	if c.Solr.URL == "" {
		return ErrMissingSolrURL
	}

	if c.Staging.Dir == "" {
		return ErrMissingStagingDir
	}

	if c.State.Dir == "" {
		return ErrMissingStateDir
	}

	if c.Indexing.Command == "" {
		return ErrMissingIndexCommand
	}

	if c.Indexing.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	if c.Indexing.Workers <= 0 {
		return ErrInvalidIndexWorkers
	}

	if c.Sync.Workers <= 0 {
		return ErrInvalidSyncWorkers
	}

	if c.Sync.RetryAttempts <= 0 {
		return ErrInvalidRetryAttempts
	}

	return nil
}
