package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFilePath(t *testing.T) {
	sessionStart := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	tests := []struct {
		name        string
		logsDir     string
		programName string
		want        string
	}{
		{
			name:        "basic path",
			logsDir:     "logs",
			programName: "roadsight_viewer",
			want:        filepath.Join("logs", "roadsight_viewer.20260212_213836.log"),
		},
		{
			name:        "relative path with dot",
			logsDir:     "./logs",
			programName: "roadsight_viewer",
			want:        filepath.Join(".", "logs", "roadsight_viewer.20260212_213836.log"),
		},
		{
			name:        "absolute path",
			logsDir:     filepath.Join("/var", "log", "roadsight"),
			programName: "roadsight_viewer",
			want:        filepath.Join("/var", "log", "roadsight", "roadsight_viewer.20260212_213836.log"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LogFilePath(tt.logsDir, tt.programName, sessionStart)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenLogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	start := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	f, err := OpenLogFile(dir, "roadsight_viewer", start)
	require.NoError(t, err)
	_, err = f.WriteString("line\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(LogFilePath(dir, "roadsight_viewer", start))
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))
}
