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

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Johnie198946/Authen-sub000/lib/defaults"
	"github.com/Johnie198946/Authen-sub000/lib/secret"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validConfig(t *testing.T) string {
	t.Helper()
	key, err := secret.NewKey()
	require.NoError(t, err)
	return `
listen_addr: 127.0.0.1:9090
log_level: debug
database:
  url: postgres://gateway@localhost:5432/gateway
redis:
  addr: localhost:6379
auth:
  signing_key: test-signing-key
  oauth_encryption_key: ` + key.String() + `
  access_token_ttl: 15m
services:
  auth: http://localhost:8001
  sso: http://localhost:8002
  user: http://localhost:8003
  permission: http://localhost:8004
`
}

func TestReadFromFile(t *testing.T) {
	path := writeConfig(t, validConfig(t))

	fc, err := ReadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, fc.CheckAndSetDefaults())

	require.Equal(t, "127.0.0.1:9090", fc.ListenAddr)
	require.Equal(t, 15*time.Minute, fc.Auth.AccessTokenTTL)
	// Unset values pick up defaults.
	require.Equal(t, defaults.RefreshTokenTTL, fc.Auth.RefreshTokenTTL)
	require.Equal(t, defaults.TokenIssuer, fc.Auth.Issuer)
	require.Equal(t, defaults.AuditQueueSize, fc.Audit.QueueSize)

	level, err := fc.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)

	key, err := fc.OAuthKey()
	require.NoError(t, err)
	require.Len(t, []byte(key), secret.KeyLength)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, validConfig(t))
	t.Setenv(EnvListenAddr, "0.0.0.0:7070")
	t.Setenv(EnvDatabaseURL, "postgres://override@db:5432/gateway")

	fc, err := ReadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, fc.CheckAndSetDefaults())
	require.Equal(t, "0.0.0.0:7070", fc.ListenAddr)
	require.Equal(t, "postgres://override@db:5432/gateway", fc.Database.URL)
}

func TestCheckAndSetDefaultsRejections(t *testing.T) {
	key, err := secret.NewKey()
	require.NoError(t, err)

	tts := []struct {
		name   string
		mutate func(fc *FileConfig)
	}{
		{
			name:   "missing database url",
			mutate: func(fc *FileConfig) { fc.Database.URL = "" },
		},
		{
			name:   "missing redis address",
			mutate: func(fc *FileConfig) { fc.Redis.Addr = "" },
		},
		{
			name:   "missing signing key",
			mutate: func(fc *FileConfig) { fc.Auth.SigningKey = "" },
		},
		{
			name:   "bad oauth key",
			mutate: func(fc *FileConfig) { fc.Auth.OAuthEncryptionKey = "not-hex" },
		},
		{
			name:   "missing auth service",
			mutate: func(fc *FileConfig) { delete(fc.Services, "auth") },
		},
		{
			name:   "unknown log level",
			mutate: func(fc *FileConfig) { fc.LogLevel = "verbose" },
		},
	}

	for _, tt := range tts {
		t.Run(tt.name, func(t *testing.T) {
			fc := &FileConfig{}
			fc.Database.URL = "postgres://gateway@localhost/gateway"
			fc.Redis.Addr = "localhost:6379"
			fc.Auth.SigningKey = "k"
			fc.Auth.OAuthEncryptionKey = key.String()
			fc.Services = map[string]string{
				"auth": "http://a", "user": "http://u", "permission": "http://p",
			}
			require.NoError(t, fc.CheckAndSetDefaults())

			tt.mutate(fc)
			require.Error(t, fc.CheckAndSetDefaults())
		})
	}
}
