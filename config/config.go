// Package config loads settings for the rpcserve programs from a YAML file,
// an optional .env file and RPCSERVE_* environment variables, in increasing
// order of precedence.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mnehpets/rpcserve/auth"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RPCSERVE_"

// Auth modes.
const (
	AuthNone   = "none"
	AuthJWT    = "jwt"
	AuthOIDC   = "oidc"
	AuthSealed = "sealed"
)

type Config struct {
	LogLevel string       `yaml:"log_level"`
	Server   ServerConfig `yaml:"server"`
	Auth     AuthConfig   `yaml:"auth"`
	Client   ClientConfig `yaml:"client"`
}

type ServerConfig struct {
	Addr           string `yaml:"addr"`
	Path           string `yaml:"path"`
	MaxConcurrency int    `yaml:"max_concurrency"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
	// HSTS enables Strict-Transport-Security; only useful behind TLS.
	HSTS bool `yaml:"hsts"`
}

type AuthConfig struct {
	Mode string `yaml:"mode"`
	// Secret is the HS256 secret for jwt, or a base64 key for sealed.
	Secret   string `yaml:"secret"`
	KeyID    string `yaml:"key_id"`
	Issuer   string `yaml:"issuer"`
	ClientID string `yaml:"client_id"`
}

type ClientConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Token   string        `yaml:"token"`
}

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:         ":8080",
			Path:         "/rpc",
			MaxBodyBytes: 8 << 20,
		},
		Auth: AuthConfig{
			Mode:  AuthNone,
			KeyID: "k1",
		},
		Client: ClientConfig{
			URL:     "http://localhost:8080/rpc",
			Timeout: 10 * time.Second,
		},
	}
}

// Load reads path (skipped when empty), then .env in the working directory,
// then the process environment.
func Load(path string) (*Config, error) {
	return LoadFiles(path, ".env")
}

// LoadFiles is Load with an explicit dotenv file. A missing dotenv file is
// not an error. Variables in the process environment win over the dotenv
// file.
func LoadFiles(path, dotenv string) (*Config, error) {
	vars := map[string]string{}
	if dotenv != "" {
		m, err := godotenv.Read(dotenv)
		switch {
		case err == nil:
			vars = m
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("config: %s: %w", dotenv, err)
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}

	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"LOG_LEVEL":      &c.LogLevel,
		"ADDR":           &c.Server.Addr,
		"PATH":           &c.Server.Path,
		"AUTH_MODE":      &c.Auth.Mode,
		"AUTH_SECRET":    &c.Auth.Secret,
		"AUTH_KEY_ID":    &c.Auth.KeyID,
		"AUTH_ISSUER":    &c.Auth.Issuer,
		"AUTH_CLIENT_ID": &c.Auth.ClientID,
		"CLIENT_URL":     &c.Client.URL,
		"CLIENT_TOKEN":   &c.Client.Token,
	}
	for name, dst := range str {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	if v, ok := lookup(EnvPrefix + "MAX_CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sMAX_CONCURRENCY: %w", EnvPrefix, err)
		}
		c.Server.MaxConcurrency = n
	}
	if v, ok := lookup(EnvPrefix + "MAX_BODY_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: %sMAX_BODY_BYTES: %w", EnvPrefix, err)
		}
		c.Server.MaxBodyBytes = n
	}
	if v, ok := lookup(EnvPrefix + "HSTS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %sHSTS: %w", EnvPrefix, err)
		}
		c.Server.HSTS = b
	}
	if v, ok := lookup(EnvPrefix + "CLIENT_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %sCLIENT_TIMEOUT: %w", EnvPrefix, err)
		}
		c.Client.Timeout = d
	}
	return nil
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: log_level: %w", err)
	}
	if c.Server.Addr == "" {
		return errors.New("config: server.addr must be set")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("config: server.path %q must start with /", c.Server.Path)
	}
	if c.Server.MaxConcurrency < 0 {
		return errors.New("config: server.max_concurrency must be >= 0")
	}
	if c.Server.MaxBodyBytes < 0 {
		return errors.New("config: server.max_body_bytes must be >= 0")
	}
	if err := c.Auth.validate(); err != nil {
		return err
	}
	if c.Client.URL != "" {
		u, err := url.Parse(c.Client.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config: client.url %q must be an http(s) URL", c.Client.URL)
		}
	}
	if c.Client.Timeout < 0 {
		return errors.New("config: client.timeout must be >= 0")
	}
	return nil
}

func (a *AuthConfig) validate() error {
	switch a.Mode {
	case "", AuthNone:
	case AuthJWT:
		if len(a.Secret) < auth.MinJWTSecret {
			return fmt.Errorf("config: auth.secret must be at least %d bytes for jwt", auth.MinJWTSecret)
		}
	case AuthSealed:
		if _, err := a.sealedKey(); err != nil {
			return err
		}
		if a.KeyID == "" {
			return errors.New("config: auth.key_id must be set for sealed")
		}
	case AuthOIDC:
		if a.Issuer == "" || a.ClientID == "" {
			return errors.New("config: auth.issuer and auth.client_id must be set for oidc")
		}
	default:
		return fmt.Errorf("config: unknown auth.mode %q", a.Mode)
	}
	return nil
}

func (a *AuthConfig) sealedKey() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(a.Secret)
	if err != nil {
		return nil, fmt.Errorf("config: auth.secret must be base64 for sealed: %w", err)
	}
	if len(key) != auth.KeySize {
		return nil, fmt.Errorf("config: auth.secret must decode to %d bytes for sealed", auth.KeySize)
	}
	return key, nil
}

// Logger returns a console logger writing to w at the configured level.
func (c *Config) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}
