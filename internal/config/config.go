// Package config resolves runtime settings from flags, the environment and an
// optional dotenv file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys double as the lower-cased dotenv names so PORT=... in a .env file lands
// on the same setting as the PORT environment variable.
const (
	KeyPort              = "port"
	KeyBaseURL           = "medplum_base_url"
	KeyLogLevel          = "log_level"
	KeySSEKeepAlive      = "medplum_mcp_sse_keepalive"
	KeyReadHeaderTimeout = "medplum_mcp_read_header_timeout"
	KeyIdleTimeout       = "medplum_mcp_idle_timeout"
	KeyShutdownTimeout   = "medplum_mcp_shutdown_timeout"
)

const (
	envPort              = "PORT"
	envBaseURL           = "MEDPLUM_BASE_URL"
	envLogLevel          = "LOG_LEVEL"
	envSSEKeepAlive      = "MEDPLUM_MCP_SSE_KEEPALIVE"
	envReadHeaderTimeout = "MEDPLUM_MCP_READ_HEADER_TIMEOUT"
	envIdleTimeout       = "MEDPLUM_MCP_IDLE_TIMEOUT"
	envShutdownTimeout   = "MEDPLUM_MCP_SHUTDOWN_TIMEOUT"

	DefaultPort              = 8104
	DefaultBaseURL           = "https://api.medplum.com"
	DefaultLogLevel          = "info"
	DefaultSSEKeepAlive      = 30 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
)

// Config captures runtime settings for the MCP server.
type Config struct {
	Port                    int
	BaseURL                 *url.URL
	LogLevel                string
	SSEKeepAlive            time.Duration
	ReadHeaderTimeout       time.Duration
	IdleTimeout             time.Duration
	GracefulShutdownTimeout time.Duration
}

// ListenAddr is the address handed to net.Listen.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// NewViper returns a viper instance with defaults and environment bindings set.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyPort, DefaultPort)
	v.SetDefault(KeyBaseURL, DefaultBaseURL)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeySSEKeepAlive, DefaultSSEKeepAlive)
	v.SetDefault(KeyReadHeaderTimeout, DefaultReadHeaderTimeout)
	v.SetDefault(KeyIdleTimeout, DefaultIdleTimeout)
	v.SetDefault(KeyShutdownTimeout, DefaultShutdownTimeout)

	for key, env := range map[string]string{
		KeyPort:              envPort,
		KeyBaseURL:           envBaseURL,
		KeyLogLevel:          envLogLevel,
		KeySSEKeepAlive:      envSSEKeepAlive,
		KeyReadHeaderTimeout: envReadHeaderTimeout,
		KeyIdleTimeout:       envIdleTimeout,
		KeyShutdownTimeout:   envShutdownTimeout,
	} {
		// BindEnv only errors without a key
		_ = v.BindEnv(key, env)
	}
	return v
}

// BindFlag ties a command line flag to a config key. Flags win over env.
func BindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for key %s not found", key))
	}
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

// ReadEnvFile merges a dotenv file into v. A missing file is not an error.
func ReadEnvFile(v *viper.Viper, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file %s: %w", path, err)
	}
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read env file %s: %w", path, err)
	}
	return nil
}

// Load reads configuration out of v and validates it.
func Load(v *viper.Viper) (Config, error) {
	port := v.GetInt(KeyPort)
	if port < 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid %s: %d", envPort, port)
	}

	baseRaw := strings.TrimSpace(v.GetString(KeyBaseURL))
	if baseRaw == "" {
		return Config{}, fmt.Errorf("%s is required", envBaseURL)
	}
	baseURL, err := url.Parse(baseRaw)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envBaseURL, err)
	}
	if !baseURL.IsAbs() || (baseURL.Scheme != "http" && baseURL.Scheme != "https") || baseURL.Host == "" {
		return Config{}, fmt.Errorf("%s must be an absolute http(s) URL", envBaseURL)
	}

	logLevel := strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel)))
	if _, err := zerolog.ParseLevel(logLevel); err != nil {
		return Config{}, fmt.Errorf("invalid %s %q: %w", envLogLevel, logLevel, err)
	}

	cfg := Config{
		Port:                    port,
		BaseURL:                 baseURL,
		LogLevel:                logLevel,
		SSEKeepAlive:            v.GetDuration(KeySSEKeepAlive),
		ReadHeaderTimeout:       v.GetDuration(KeyReadHeaderTimeout),
		IdleTimeout:             v.GetDuration(KeyIdleTimeout),
		GracefulShutdownTimeout: v.GetDuration(KeyShutdownTimeout),
	}

	for name, d := range map[string]time.Duration{
		envSSEKeepAlive:      cfg.SSEKeepAlive,
		envReadHeaderTimeout: cfg.ReadHeaderTimeout,
		envIdleTimeout:       cfg.IdleTimeout,
		envShutdownTimeout:   cfg.GracefulShutdownTimeout,
	} {
		if d < 0 {
			return Config{}, fmt.Errorf("%s must not be negative", name)
		}
	}

	return cfg, nil
}
