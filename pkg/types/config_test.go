package types

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{name: "temporary", config: Config{}},
		{name: "existing directory", config: Config{DataDir: dir}},
		{name: "missing directory is created later", config: Config{DataDir: filepath.Join(dir, "new")}},
		{name: "regular file", config: Config{DataDir: file}, wantErr: ErrDataDirNotDir},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.True(t, Config{}.Temporary())
	assert.False(t, Config{DataDir: dir}.Temporary())
}

func TestDateJSON(t *testing.T) {
	d := NewDate(1990, time.July, 4)
	data, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1990-07-04"`, string(data))

	var got Date
	require.NoError(t, got.UnmarshalJSON(data))
	assert.True(t, d.Equal(got.Time))

	assert.Error(t, got.UnmarshalJSON([]byte(`"04/07/1990"`)))
}

func TestErrorFamilies(t *testing.T) {
	assert.ErrorIs(t, ErrInvalidID, ErrValidation)
	assert.ErrorIs(t, ErrExperimentOver, ErrIllegalTransition)
	assert.ErrorIs(t, ErrExperimentOver, ErrValidation)
	assert.ErrorIs(t, ErrParticipantExists, ErrExists)
	assert.ErrorIs(t, ErrExperimentExists, ErrExists)
	assert.NotErrorIs(t, ErrParticipantExists, ErrExperimentExists)
	assert.ErrorIs(t, ErrParticipantNotFound, ErrNotFound)
}
