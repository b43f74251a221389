package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "42424242424242424242424242424242" +
	"42424242424242424242424242424242" // 32 bytes

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SSOD_ENCRYPTION_KEY", testKeyHex)
	t.Setenv("SSOD_PASSWORD_PEPPER", "0123456789abcdef-pepper")
	t.Setenv("SSOD_CONFIG_BACKEND", "yaml")
	t.Setenv("SSOD_PROVIDERS_FILE", "providers.yaml")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, "http://localhost:8080", cfg.Server.BaseURL)
	assert.Equal(t, "redis", cfg.State.Backend)
	assert.Equal(t, 10*time.Second, cfg.Providers.IdPTimeout)
	assert.Equal(t, 512, cfg.Providers.EngineCache)
	assert.Equal(t, "storefront-sso", cfg.Secrets.AppName)
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SSOD_BASE_URL", "https://sso.example.com/")
	t.Setenv("SSOD_IDP_TIMEOUT", "3s")
	t.Setenv("SSOD_STATE_BACKEND", "memory")
	t.Setenv("SSOD_LOGIN_RATE_LIMIT", "10")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://sso.example.com", cfg.Server.BaseURL, "trailing slash is trimmed")
	assert.Equal(t, 3*time.Second, cfg.Providers.IdPTimeout)
	assert.Equal(t, "memory", cfg.State.Backend)
	assert.Equal(t, 10, cfg.Providers.RateLimit)
}

func TestEncryptionKeyDecoding(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := LoadConfig()
	require.NoError(t, err)

	key, err := cfg.Secrets.EncryptionKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing encryption key",
			env:     map[string]string{"SSOD_ENCRYPTION_KEY": ""},
			wantErr: "encryption key",
		},
		{
			name:    "key not hex",
			env:     map[string]string{"SSOD_ENCRYPTION_KEY": "zz"},
			wantErr: "hex",
		},
		{
			name:    "key too short",
			env:     map[string]string{"SSOD_ENCRYPTION_KEY": "4242"},
			wantErr: "32 bytes",
		},
		{
			name:    "short pepper",
			env:     map[string]string{"SSOD_PASSWORD_PEPPER": "short"},
			wantErr: "pepper",
		},
		{
			name:    "bad state backend",
			env:     map[string]string{"SSOD_STATE_BACKEND": "etcd"},
			wantErr: "state backend",
		},
		{
			name:    "postgres backend without URL",
			env:     map[string]string{"SSOD_CONFIG_BACKEND": "postgres"},
			wantErr: "postgres URL",
		},
		{
			name:    "relative base URL",
			env:     map[string]string{"SSOD_BASE_URL": "/just/a/path"},
			wantErr: "base URL",
		},
		{
			name: "port collision",
			env: map[string]string{
				"SSOD_PORT":        "8080",
				"SSOD_HEALTH_PORT": "8080",
			},
			wantErr: "different",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr),
				"error %q should mention %q", err, tt.wantErr)
		})
	}
}
