package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), ".arcflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

const minimalConfig = `
aspace:
  base_url: http://aspace:8089
  username: sync
  password: secret
`

func TestLoadConfig_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://aspace:8089", cfg.Aspace.BaseURL)
	assert.Equal(t, DefaultSolrURL, cfg.Solr.URL)
	assert.Equal(t, DefaultStagingDir, cfg.Staging.Dir)
	assert.Equal(t, DefaultStateDir, cfg.State.Dir)
	assert.Equal(t, DefaultSyncWorkers, cfg.Sync.Workers)
	assert.Equal(t, DefaultRetryAttempts, cfg.Sync.RetryAttempts)
	assert.Equal(t, DefaultIndexBatchSize, cfg.Indexing.BatchSize)
	assert.Equal(t, DefaultIndexWorkers, cfg.Indexing.Workers)
	assert.Equal(t, DefaultIndexCommand, cfg.Indexing.Command)
	assert.Equal(t, []string{"exec", "rake", "arclight:index"}, cfg.Indexing.Args)
	assert.Equal(t, DefaultHistoryKeep, cfg.State.HistoryKeep)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
solr:
  url: http://solr:8983/solr/custom
indexing:
  batch_size: 50
  workers: 1
sync:
  workers: 8
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://solr:8983/solr/custom", cfg.Solr.URL)
	assert.Equal(t, 50, cfg.Indexing.BatchSize)
	assert.Equal(t, 1, cfg.Indexing.Workers)
	assert.Equal(t, 8, cfg.Sync.Workers)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	t.Setenv("ARCFLOW_SOLR_URL", "http://env:8983/solr/arclight")

	path := writeConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://env:8983/solr/arclight", cfg.Solr.URL)
}

func TestLoadConfig_InvalidValuesRejected(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name:    "missing password",
			content: "aspace:\n  base_url: http://aspace:8089\n  username: sync\n",
			wantErr: ErrMissingAspaceCredentials,
		},
		{
			name:    "zero batch size",
			content: minimalConfig + "indexing:\n  batch_size: 0\n",
			wantErr: ErrInvalidBatchSize,
		},
		{
			name:    "negative sync workers",
			content: minimalConfig + "sync:\n  workers: -1\n",
			wantErr: ErrInvalidSyncWorkers,
		},
		{
			name:    "zero retry attempts",
			content: minimalConfig + "sync:\n  retry_attempts: 0\n",
			wantErr: ErrInvalidRetryAttempts,
		},
		{
			name:    "empty index command",
			content: minimalConfig + `indexing:
  command: ""
`,
			wantErr: ErrMissingIndexCommand,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)

			_, err := LoadConfig(path)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestLoadConfig_MalformedFileSurfaces(t *testing.T) {
	path := writeConfig(t, "aspace: [unclosed")

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
