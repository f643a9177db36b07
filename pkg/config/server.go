package config

import (
	"fmt"
	"strings"
)

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting. Review submissions hit
// the warehouse with the full report battery, so they get their own tier.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Review  RateLimitTier `yaml:"review,omitempty" mapstructure:"review"`
	API     RateLimitTier `yaml:"api,omitempty" mapstructure:"api"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// AuthConfig contains authentication settings for the dashboard.
type AuthConfig struct {
	Basic BasicAuthConfig `yaml:"basic,omitempty" mapstructure:"basic"`
}

// BasicAuthConfig configures HTTP basic authentication.
type BasicAuthConfig struct {
	Enabled bool            `yaml:"enabled" mapstructure:"enabled"`
	Realm   string          `yaml:"realm,omitempty" mapstructure:"realm"`
	Users   []BasicAuthUser `yaml:"users,omitempty" mapstructure:"users"`
}

// BasicAuthUser defines a basic auth user. PasswordHash is a bcrypt hash.
type BasicAuthUser struct {
	Username     string `yaml:"username" mapstructure:"username"`
	PasswordHash string `yaml:"password_hash" mapstructure:"password_hash"`
}

func (s *ServerConfig) validate() error {
	if s.RateLimit.Enabled {
		if s.RateLimit.Review.RequestsPerMinute <= 0 {
			return fmt.Errorf(
				"server.rate_limit.review.requests_per_minute must be positive",
			)
		}

		if s.RateLimit.API.RequestsPerMinute <= 0 {
			return fmt.Errorf(
				"server.rate_limit.api.requests_per_minute must be positive",
			)
		}
	}

	return nil
}

func (a *AuthConfig) validate() error {
	if !a.Basic.Enabled {
		return nil
	}

	if len(a.Basic.Users) == 0 {
		return fmt.Errorf("auth.basic.users must not be empty when basic auth is enabled")
	}

	seen := make(map[string]struct{}, len(a.Basic.Users))

	for i, u := range a.Basic.Users {
		if strings.TrimSpace(u.Username) == "" {
			return fmt.Errorf("auth.basic.users[%d]: username is required", i)
		}

		if _, dup := seen[u.Username]; dup {
			return fmt.Errorf("auth.basic.users[%d]: duplicate username %q", i, u.Username)
		}

		seen[u.Username] = struct{}{}

		if !strings.HasPrefix(u.PasswordHash, "$2") {
			return fmt.Errorf(
				"auth.basic.users[%d]: password_hash must be a bcrypt hash", i,
			)
		}
	}

	return nil
}
