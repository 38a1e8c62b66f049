package aspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateResource(t *testing.T) {
	t.Parallel()

	validator := NewRecordValidator()

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{
			name:    "complete record",
			payload: `{"uri": "/repositories/2/resources/1", "ead_id": "mss.1", "publish": true}`,
		},
		{
			name:    "missing uri",
			payload: `{"title": "Untitled"}`,
			wantErr: true,
		},
		{
			name:    "empty uri",
			payload: `{"uri": ""}`,
			wantErr: true,
		},
		{
			name:    "publish wrong type",
			payload: `{"uri": "/repositories/2/resources/1", "publish": "yes"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			payload: `<resource/>`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := validator.ValidateResource([]byte(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidRecord)

				return
			}

			require.NoError(t, err)
		})
	}
}

func TestValidateAgent(t *testing.T) {
	t.Parallel()

	validator := NewRecordValidator()

	err := validator.ValidateAgent([]byte(`{"uri": "/agents/people/1", "is_user": false}`))
	require.NoError(t, err)

	err = validator.ValidateAgent([]byte(`{"is_user": false}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRecord)
}
