package heat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "temp1_input")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSensorReaderRead(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    float64
		wantErr bool
	}{
		{"plain value", "70000\n", 70000, false},
		{"comma separated extra token", "70000,extra\n", 70000, false},
		{"no newline", "70000", 70000, false},
		{"non numeric", "not-a-number\n", 0, true},
		{"empty file", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempFile(t, tt.content)
			got, err := NewSensorReader(path).Read()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSensorReaderMissingFile(t *testing.T) {
	_, err := NewSensorReader("/nonexistent/path/should/not/exist").Read()
	require.Error(t, err)
}
