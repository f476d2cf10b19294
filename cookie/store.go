// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package cookie reads, writes and deletes the access token and refresh token
// cookies that carry a session.
package cookie

import (
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/capsession/identity"
	"github.com/jonboulle/clockwork"
)

// Store reads and writes the session cookie pair.  A Store never fails: an
// absent cookie is reported as ("", false) and writes only touch response
// headers.
type Store struct {
	cfg   Config
	clock clockwork.Clock
}

// NewStore creates a Store.  A nil cfg uses DefaultConfig().  Supported
// options: WithClock
func NewStore(cfg *Config, opt ...Option) (*Store, error) {
	const op = "cookie.NewStore"
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c := *cfg
	if c.Path == "" {
		c.Path = DefaultPath
	}
	opts := getStoreOpts(opt...)
	return &Store{cfg: c, clock: opts.withClock}, nil
}

// Config returns a copy of the store's configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// Get returns the named cookie's value.
func (s *Store) Get(r *http.Request, name string) (string, bool) {
	if r == nil {
		return "", false
	}
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// Set writes the named cookie.  A zero expires writes a session cookie.
func (s *Store) Set(w http.ResponseWriter, r *http.Request, name, value string, expires time.Time) {
	c := s.base(r, name)
	c.Value = value
	if !expires.IsZero() {
		maxAge := int(math.Ceil(expires.Sub(s.clock.Now()).Seconds()))
		if maxAge < 1 {
			maxAge = 1
		}
		c.Expires = expires.UTC()
		c.MaxAge = maxAge
	}
	http.SetCookie(w, c)
}

// Delete clears the named cookie.  The empty cookie carries the configured
// Domain and Path so the browser drops the original.
func (s *Store) Delete(w http.ResponseWriter, r *http.Request, name string) {
	c := s.base(r, name)
	c.Expires = time.Unix(0, 0).UTC()
	c.MaxAge = -1
	http.SetCookie(w, c)
}

// AccessToken returns the access token cookie's value.
func (s *Store) AccessToken(r *http.Request) (identity.AccessToken, bool) {
	v, ok := s.Get(r, s.cfg.AccessTokenName)
	return identity.AccessToken(v), ok
}

// RefreshToken returns the refresh token cookie's value.
func (s *Store) RefreshToken(r *http.Request) (identity.RefreshToken, bool) {
	v, ok := s.Get(r, s.cfg.RefreshTokenName)
	return identity.RefreshToken(v), ok
}

// HasSession reports whether either session cookie is present.
func (s *Store) HasSession(r *http.Request) bool {
	_, a := s.AccessToken(r)
	_, rt := s.RefreshToken(r)
	return a || rt
}

// SetAccessToken writes the access token cookie, expiring expiresIn seconds
// from now.  A non-positive expiresIn writes a session cookie.
func (s *Store) SetAccessToken(w http.ResponseWriter, r *http.Request, t identity.AccessToken, expiresIn int) {
	var expires time.Time
	if expiresIn > 0 {
		expires = s.clock.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	s.Set(w, r, s.cfg.AccessTokenName, string(t), expires)
}

// SetRefreshToken writes the refresh token cookie using the configured
// RefreshMaxAge.
func (s *Store) SetRefreshToken(w http.ResponseWriter, r *http.Request, t identity.RefreshToken) {
	var expires time.Time
	if s.cfg.RefreshMaxAge > 0 {
		expires = s.clock.Now().Add(s.cfg.RefreshMaxAge)
	}
	s.Set(w, r, s.cfg.RefreshTokenName, string(t), expires)
}

// DeleteAll clears both session cookies whether or not they are present.
func (s *Store) DeleteAll(w http.ResponseWriter, r *http.Request) {
	s.Delete(w, r, s.cfg.AccessTokenName)
	s.Delete(w, r, s.cfg.RefreshTokenName)
}

// Secure reports the secure flag cookies written for r will carry.
func (s *Store) Secure(r *http.Request) bool {
	if s.cfg.Secure != nil {
		return *s.cfg.Secure
	}
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	if s.cfg.TrustForwardedProto {
		proto := strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-Proto"), ",")[0])
		return strings.EqualFold(proto, "https")
	}
	return false
}

func (s *Store) base(r *http.Request, name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Path:     s.cfg.Path,
		Domain:   s.cfg.Domain,
		Secure:   s.Secure(r),
		HttpOnly: true,
		SameSite: s.cfg.SameSite,
	}
}
