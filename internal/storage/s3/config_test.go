package s3

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaultConfig_Values(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 8, cfg.PoolSize)
	assert.True(t, cfg.EnableCargoShipOptimization)
}

func TestResolveConfigCredentials_LeavesExplicitValuesAlone(t *testing.T) {
	cfg := &Config{AccessKeyID: "explicit-key", SecretAccessKey: "explicit-secret", Endpoint: "https://explicit"}
	resolved := resolveConfigCredentials(cfg)
	assert.Equal(t, cfg, resolved)
}

func TestResolveConfigCredentials_FallsBackToUnprefixedEnv(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "env-key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "env-secret")
	t.Setenv("OSS_ENDPOINT", "https://env-endpoint")

	cfg := &Config{}
	resolved := resolveConfigCredentials(cfg)

	assert.Equal(t, "env-key", resolved.AccessKeyID)
	assert.Equal(t, "env-secret", resolved.SecretAccessKey)
	assert.Equal(t, "https://env-endpoint", resolved.Endpoint)
	assert.Empty(t, cfg.AccessKeyID, "original config must not be mutated")
}

func TestResolveConfigCredentials_FallsBackToProfileScopedEnv(t *testing.T) {
	os.Unsetenv("AWS_ACCESS_KEY_ID")
	os.Unsetenv("AWS_SECRET_ACCESS_KEY")
	t.Setenv("BACKUP__AWS_ACCESS_KEY_ID", "profile-key")
	t.Setenv("BACKUP__AWS_SECRET_ACCESS_KEY", "profile-secret")

	cfg := &Config{Profile: "backup"}
	resolved := resolveConfigCredentials(cfg)

	assert.Equal(t, "profile-key", resolved.AccessKeyID)
	assert.Equal(t, "profile-secret", resolved.SecretAccessKey)
}
