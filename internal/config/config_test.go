package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{envPort, envBaseURL, envLogLevel, envSSEKeepAlive,
		envReadHeaderTimeout, envIdleTimeout, envShutdownTimeout} {
		t.Setenv(env, "")
		require.NoError(t, os.Unsetenv(env))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(NewViper())
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, ":8104", cfg.ListenAddr())
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL.String())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, DefaultSSEKeepAlive, cfg.SSEKeepAlive)
	assert.Equal(t, DefaultReadHeaderTimeout, cfg.ReadHeaderTimeout)
	assert.Equal(t, DefaultIdleTimeout, cfg.IdleTimeout)
	assert.Equal(t, DefaultShutdownTimeout, cfg.GracefulShutdownTimeout)
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9100")
	t.Setenv("MEDPLUM_BASE_URL", "http://localhost:8103")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("MEDPLUM_MCP_SSE_KEEPALIVE", "5s")

	cfg, err := Load(NewViper())
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "http://localhost:8103", cfg.BaseURL.String())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.SSEKeepAlive)
}

func TestEnvFileAndPrecedence(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PORT=9200\nMEDPLUM_BASE_URL=http://dotenv.local\n"), 0o600))

	// the real environment wins over the dotenv file
	t.Setenv("MEDPLUM_BASE_URL", "http://env.local")

	v := NewViper()
	require.NoError(t, ReadEnvFile(v, envFile))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Port)
	assert.Equal(t, "http://env.local", cfg.BaseURL.String())

	// and a flag wins over both
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", DefaultPort, "")
	require.NoError(t, flags.Parse([]string{"--port=9300"}))
	BindFlag(v, KeyPort, flags.Lookup("port"))

	cfg, err = Load(v)
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.Port)
}

func TestReadEnvFileMissingIsIgnored(t *testing.T) {
	v := NewViper()
	assert.NoError(t, ReadEnvFile(v, filepath.Join(t.TempDir(), "nope.env")))
	assert.NoError(t, ReadEnvFile(v, ""))
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"relative base url", map[string]string{"MEDPLUM_BASE_URL": "api.medplum.com"}},
		{"non http base url", map[string]string{"MEDPLUM_BASE_URL": "ftp://api.medplum.com"}},
		{"port out of range", map[string]string{"PORT": "70000"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}},
		{"negative timeout", map[string]string{"MEDPLUM_MCP_SHUTDOWN_TIMEOUT": "-1s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(NewViper())
			assert.Error(t, err)
		})
	}
}

func TestBindFlagPanicsOnMissingFlag(t *testing.T) {
	assert.Panics(t, func() { BindFlag(NewViper(), KeyPort, nil) })
}
