package version

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GitCommit)
	assert.NotEmpty(t, info.BuildDate)
	assert.NotEmpty(t, info.Hostname)
	assert.Len(t, info.InstanceID, 36)

	// Instance identity is fixed for the life of the process.
	assert.Equal(t, info, GetInfo())
}

func TestInfoString(t *testing.T) {
	tests := []struct {
		name     string
		info     Info
		expected string
	}{
		{
			name:     "release build",
			info:     Info{Version: "1.4.0", GitCommit: "abc1234", BuildDate: "2026-02-21T10:00:00Z"},
			expected: "gatekeeper 1.4.0 (commit: abc1234, built: 2026-02-21T10:00:00Z)",
		},
		{
			name:     "unstamped build",
			info:     Info{Version: "unknown", GitCommit: "unknown", BuildDate: "unknown"},
			expected: "gatekeeper unknown (commit: unknown, built: unknown)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.info.String())
		})
	}
}

func TestInfoLogAttrs(t *testing.T) {
	attrs := Info{Version: "1.4.0", GitCommit: "abc1234", InstanceID: "id-1"}.LogAttrs()

	assert.Equal(t, []any{
		slog.String("version", "1.4.0"),
		slog.String("git_commit", "abc1234"),
		slog.String("instance_id", "id-1"),
	}, attrs)
}
