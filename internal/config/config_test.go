package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.realtime/internal/model"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "jwt:\n  secret_key: s3cret\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.App.Port)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, 3*time.Minute, cfg.Presence.OfflineThreshold)
	assert.Equal(t, 30*time.Second, cfg.Presence.SweepInterval)
	assert.Equal(t, 5*time.Minute, cfg.Presence.SyncInterval)
	assert.Equal(t, 5*time.Second, cfg.Typing.TTL)

	limits, err := cfg.Limits.Message()
	require.NoError(t, err)
	assert.Equal(t, model.DefaultLimits(), limits)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
app:
  port: 9000
jwt:
  secret_key: from-file
storage:
  driver: memory
limits:
  max_attachments: 3
  max_attachment_size: 5MB
`)
	t.Setenv("REALTIME_PORT", "9100")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("REALTIME_TYPING_TTL", "2s")
	t.Setenv("REALTIME_CORS_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.App.Port)
	assert.Equal(t, "from-env", cfg.JWT.SecretKey)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 2*time.Second, cfg.Typing.TTL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.AllowedOrigins)

	limits, err := cfg.Limits.Message()
	require.NoError(t, err)
	assert.Equal(t, 3, limits.MaxAttachments)
	assert.Equal(t, int64(5*1000*1000), limits.MaxAttachmentSize)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing secret", "app:\n  port: 1\n"},
		{"unknown driver", "jwt:\n  secret_key: x\nstorage:\n  driver: mongo\n"},
		{"bad size", "jwt:\n  secret_key: x\nlimits:\n  max_attachment_size: lots\n"},
		{"unknown mode", "jwt:\n  secret_key: x\napp:\n  mode: prod\n"},
		{"node id out of range", "jwt:\n  secret_key: x\napp:\n  node_id: 5000\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLimits_CappedByStore(t *testing.T) {
	c := LimitsConfig{MaxAttachments: 50, MaxAttachmentSize: "1GB"}
	limits, err := c.Message()
	require.NoError(t, err)
	assert.Equal(t, model.MaxAttachments, limits.MaxAttachments)
	assert.Equal(t, model.MaxAttachmentSize, limits.MaxAttachmentSize)
}

func TestDatabaseDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "im", Password: "p@ss", Name: "realtime"}
	assert.Equal(t, "postgres://im:p%40ss@db:5432/realtime?sslmode=disable", c.DSN())
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("X_INT", "42")
	t.Setenv("X_BAD_INT", "forty")
	t.Setenv("X_BOOL", "true")
	t.Setenv("X_DUR", "150ms")

	assert.Equal(t, 42, GetEnvInt("X_INT", 1))
	assert.Equal(t, 1, GetEnvInt("X_BAD_INT", 1))
	assert.True(t, GetEnvBool("X_BOOL", false))
	assert.Equal(t, 150*time.Millisecond, GetEnvDuration("X_DUR", time.Second))
	assert.Equal(t, "fallback", GetEnv("X_MISSING", "fallback"))
}
