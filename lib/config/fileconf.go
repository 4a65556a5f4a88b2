/*
 * Authen Gateway
 * Copyright (C) 2026  Authen Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package config loads gateway configuration from a YAML file with
// environment-variable overrides for the values that differ between
// deployments and must not land in a file, such as keys.
package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	gateway "github.com/Johnie198946/Authen-sub000"
	"github.com/Johnie198946/Authen-sub000/lib/defaults"
	"github.com/Johnie198946/Authen-sub000/lib/secret"
)

// Environment override variables. Each one, when set, wins over the
// corresponding file value.
const (
	EnvListenAddr   = "GATEWAY_LISTEN_ADDR"
	EnvDatabaseURL  = "GATEWAY_DATABASE_URL"
	EnvRedisAddr    = "GATEWAY_REDIS_ADDR"
	EnvRedisPass    = "GATEWAY_REDIS_PASSWORD"
	EnvSigningKey   = "GATEWAY_SIGNING_KEY"
	EnvOAuthKey     = "GATEWAY_OAUTH_ENCRYPTION_KEY"
	EnvLogLevel     = "GATEWAY_LOG_LEVEL"
)

// FileConfig mirrors the YAML configuration file.
type FileConfig struct {
	// ListenAddr is the bind address of the public API.
	ListenAddr string `yaml:"listen_addr"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Database struct {
		// URL is the Postgres connection string.
		URL string `yaml:"url"`
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Auth struct {
		// SigningKey is the HMAC key gateway tokens are signed with.
		SigningKey string `yaml:"signing_key"`
		// OAuthEncryptionKey is the hex-encoded 32-byte AES key that
		// opens stored OAuth client configuration.
		OAuthEncryptionKey string        `yaml:"oauth_encryption_key"`
		AccessTokenTTL     time.Duration `yaml:"access_token_ttl"`
		RefreshTokenTTL    time.Duration `yaml:"refresh_token_ttl"`
		Issuer             string        `yaml:"issuer"`
	} `yaml:"auth"`

	// Services maps downstream service names to base URLs.
	Services map[string]string `yaml:"services"`

	Audit struct {
		QueueSize int `yaml:"queue_size"`
	} `yaml:"audit"`
}

// ReadFromFile loads and parses the YAML configuration file, then
// applies environment overrides.
func ReadFromFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, trace.BadParameter("failed to parse %v: %v", path, err)
	}
	fc.applyEnv()
	return &fc, nil
}

// FromEnv returns a configuration built from environment variables
// alone, for deployments without a config file.
func FromEnv() *FileConfig {
	var fc FileConfig
	fc.applyEnv()
	return &fc
}

func (fc *FileConfig) applyEnv() {
	setIfPresent(EnvListenAddr, &fc.ListenAddr)
	setIfPresent(EnvDatabaseURL, &fc.Database.URL)
	setIfPresent(EnvRedisAddr, &fc.Redis.Addr)
	setIfPresent(EnvRedisPass, &fc.Redis.Password)
	setIfPresent(EnvSigningKey, &fc.Auth.SigningKey)
	setIfPresent(EnvOAuthKey, &fc.Auth.OAuthEncryptionKey)
	setIfPresent(EnvLogLevel, &fc.LogLevel)
}

func setIfPresent(env string, target *string) {
	if value := os.Getenv(env); value != "" {
		*target = value
	}
}

// CheckAndSetDefaults validates the configuration and fills in
// defaults. Secrets are only checked for presence, never logged.
func (fc *FileConfig) CheckAndSetDefaults() error {
	if fc.ListenAddr == "" {
		fc.ListenAddr = defaults.HTTPListenAddr
	}
	if fc.LogLevel == "" {
		fc.LogLevel = "info"
	}
	if _, err := fc.SlogLevel(); err != nil {
		return trace.Wrap(err)
	}
	if fc.Database.URL == "" {
		return trace.BadParameter("missing database url")
	}
	if fc.Redis.Addr == "" {
		return trace.BadParameter("missing redis address")
	}
	if fc.Auth.SigningKey == "" {
		return trace.BadParameter("missing token signing key")
	}
	if _, err := fc.OAuthKey(); err != nil {
		return trace.Wrap(err)
	}
	if fc.Auth.AccessTokenTTL <= 0 {
		fc.Auth.AccessTokenTTL = defaults.AccessTokenTTL
	}
	if fc.Auth.RefreshTokenTTL <= 0 {
		fc.Auth.RefreshTokenTTL = defaults.RefreshTokenTTL
	}
	if fc.Auth.Issuer == "" {
		fc.Auth.Issuer = defaults.TokenIssuer
	}
	if len(fc.Services) == 0 {
		return trace.BadParameter("missing downstream services map")
	}
	for _, required := range []string{gateway.ServiceAuth, gateway.ServiceUser, gateway.ServicePermission} {
		if fc.Services[required] == "" {
			return trace.BadParameter("missing base url for %q service", required)
		}
	}
	if fc.Audit.QueueSize <= 0 {
		fc.Audit.QueueSize = defaults.AuditQueueSize
	}
	return nil
}

// OAuthKey parses the configured OAuth encryption key.
func (fc *FileConfig) OAuthKey() (secret.Key, error) {
	key, err := secret.ParseKey([]byte(fc.Auth.OAuthEncryptionKey))
	if err != nil {
		return nil, trace.BadParameter("invalid oauth encryption key: %v", err)
	}
	return key, nil
}

// SlogLevel maps the configured log level string to a slog level.
func (fc *FileConfig) SlogLevel() (slog.Level, error) {
	switch fc.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, trace.BadParameter("unsupported log level %q", fc.LogLevel)
	}
}
