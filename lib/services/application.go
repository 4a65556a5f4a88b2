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

package services

import (
	"time"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/Johnie198946/Authen-sub000/lib/defaults"
)

// Application status values.
const (
	// AppStatusActive marks an application whose credentials are accepted.
	AppStatusActive = "active"
	// AppStatusDisabled marks an application whose requests are rejected
	// regardless of credential validity.
	AppStatusDisabled = "disabled"
)

// Application is a third-party caller of the gateway. The plaintext secret
// exists only in the creation or rotation response; everything else sees
// the one-way hash.
type Application struct {
	// ID is the externally visible, UUID-shaped application identifier.
	ID string `json:"app_id"`
	// Name is the admin-assigned display name.
	Name string `json:"name"`
	// Description is free-form admin text.
	Description string `json:"description,omitempty"`
	// SecretHash is the bcrypt hash of the application shared secret.
	// It never leaves the process and is omitted from cache snapshots.
	SecretHash string `json:"-"`
	// Status is either AppStatusActive or AppStatusDisabled.
	Status string `json:"status"`
	// RateLimit is the admitted request count per sliding window.
	RateLimit int `json:"rate_limit"`
	// WebhookSecret, when set, signs webhook deliveries to this application.
	WebhookSecret string `json:"-"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last mutation timestamp.
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckAndSetDefaults validates the application record and fills in
// defaulted fields.
func (a *Application) CheckAndSetDefaults() error {
	if a.ID == "" {
		return trace.BadParameter("missing application id")
	}
	if a.Status == "" {
		a.Status = AppStatusActive
	}
	if a.Status != AppStatusActive && a.Status != AppStatusDisabled {
		return trace.BadParameter("unsupported application status %q", a.Status)
	}
	if a.RateLimit <= 0 {
		a.RateLimit = defaults.DefaultRateLimit
	}
	return nil
}

// IsActive reports whether the application may be served.
func (a *Application) IsActive() bool {
	return a.Status == AppStatusActive
}

// CheckSecret compares the presented plaintext secret against the stored
// hash. The comparison runs regardless of application status so that a
// disabled application is indistinguishable from an unknown one until the
// secret matches.
func (a *Application) CheckSecret(secret string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(a.SecretHash), []byte(secret)); err != nil {
		return trace.AccessDenied("invalid application credentials")
	}
	return nil
}

// HashSecret produces the storable one-way hash of a plaintext secret.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return string(hash), nil
}

// LoginMethod is one (application, method) row. OAuth methods carry an
// encrypted client configuration blob.
type LoginMethod struct {
	// AppID is the owning application.
	AppID string `json:"app_id"`
	// Method is one of the closed login method set.
	Method string `json:"method"`
	// Enabled gates the method for this application.
	Enabled bool `json:"is_enabled"`
	// OAuthConfig is the encrypted {client_id, client_secret} blob for
	// OAuth methods, empty otherwise. It is stored and cached as
	// ciphertext; decryption happens only at the point of use.
	OAuthConfig []byte `json:"-"`
}

// OAuthClientConfig is the decrypted per-provider OAuth client credential
// pair. Instances live only in process memory.
type OAuthClientConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Check validates the decrypted configuration.
func (c *OAuthClientConfig) Check() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return trace.BadParameter("incomplete oauth client configuration")
	}
	return nil
}
