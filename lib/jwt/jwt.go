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

// Package jwt signs and verifies the bearer tokens the gateway hands out.
// The gateway reads a small closed claim subset (subject, app_id, expiry);
// everything else an upstream token carried is preserved opaquely through
// a rewrite.
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/Johnie198946/Authen-sub000/lib/defaults"
)

// Claims is the typed view of a gateway token.
type Claims struct {
	// AppID binds the token to the application the user authenticated
	// through. Injected by the gateway at issuance; required on every
	// bearer-gated call.
	AppID string `json:"app_id,omitempty"`

	jwt.RegisteredClaims
}

// Config holds the token service configuration.
type Config struct {
	// SigningKey is the process-wide HMAC key.
	SigningKey []byte
	// Issuer is stamped into the iss claim of every signed token.
	Issuer string
	// AccessTTL is the lifetime of access tokens.
	AccessTTL time.Duration
	// RefreshTTL is the lifetime of refresh tokens.
	RefreshTTL time.Duration
	// Clock is used for iat/exp stamping and verification.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if len(c.SigningKey) == 0 {
		return trace.BadParameter("missing token signing key")
	}
	if c.Issuer == "" {
		c.Issuer = defaults.TokenIssuer
	}
	if c.AccessTTL <= 0 {
		c.AccessTTL = defaults.AccessTokenTTL
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = defaults.RefreshTokenTTL
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Service encodes, decodes and rewrites bearer tokens.
type Service struct {
	cfg Config
}

// New returns a token service for the given configuration.
func New(cfg Config) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{cfg: cfg}, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.cfg.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.cfg.RefreshTTL }

// SignAccess issues an access token for the subject bound to the
// application.
func (s *Service) SignAccess(subject, appID string) (string, error) {
	return s.sign(subject, appID, s.cfg.AccessTTL)
}

// SignRefresh issues a refresh token carrying subject and application
// binding only.
func (s *Service) SignRefresh(subject, appID string) (string, error) {
	return s.sign(subject, appID, s.cfg.RefreshTTL)
}

func (s *Service) sign(subject, appID string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", trace.BadParameter("missing token subject")
	}
	now := s.cfg.Clock.Now()
	claims := Claims{
		AppID: appID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SigningKey)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return signed, nil
}

// Verify checks the signature and lifetime of a gateway-signed token and
// returns its typed claims. Use IsExpired on the returned error to tell a
// token whose only defect is age apart from one that is malformed or
// forged.
func (s *Service) Verify(raw string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.cfg.Clock.Now),
	)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &claims, nil
}

// Rewrite decodes a token issued by a downstream service, strips the
// registered exp/iat/iss/nbf claims, injects the calling application's id,
// and re-signs the result under the gateway key with gateway-issued
// lifetime claims. All other upstream claims pass through untouched.
func (s *Service) Rewrite(raw, appID string, ttl time.Duration) (string, error) {
	if appID == "" {
		return "", trace.BadParameter("missing application id")
	}
	// The upstream signing key is not known to the gateway; the token is
	// decoded unverified and trust is re-established by re-signing.
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return "", trace.BadParameter("malformed upstream token: %v", err)
	}
	delete(claims, "exp")
	delete(claims, "iat")
	delete(claims, "iss")
	delete(claims, "nbf")
	claims["app_id"] = appID

	now := s.cfg.Clock.Now()
	claims["iss"] = s.cfg.Issuer
	claims["iat"] = jwt.NewNumericDate(now)
	claims["exp"] = jwt.NewNumericDate(now.Add(ttl))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SigningKey)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return signed, nil
}

func (s *Service) keyFunc(token *jwt.Token) (any, error) {
	return s.cfg.SigningKey, nil
}

// IsExpired reports whether a Verify failure means the token was well
// formed and correctly signed but past its lifetime.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}
