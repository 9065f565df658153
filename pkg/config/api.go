package config

import "fmt"

// APIConfig contains all results API server configuration.
type APIConfig struct {
	Server APIServerConfig `yaml:"server" mapstructure:"server"`
	Auth   APIAuthConfig   `yaml:"auth" mapstructure:"auth"`
}

// APIServerConfig contains HTTP server settings.
type APIServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// APIAuthConfig contains authentication settings.
type APIAuthConfig struct {
	AnonymousRead bool            `yaml:"anonymous_read" mapstructure:"anonymous_read"`
	Basic         BasicAuthConfig `yaml:"basic,omitempty" mapstructure:"basic"`
}

// BasicAuthConfig configures username/password authentication.
type BasicAuthConfig struct {
	Enabled bool            `yaml:"enabled" mapstructure:"enabled"`
	Users   []BasicAuthUser `yaml:"users,omitempty" mapstructure:"users"`
}

// BasicAuthUser defines a basic auth user. PasswordHash is a bcrypt hash.
type BasicAuthUser struct {
	Username     string `yaml:"username" mapstructure:"username"`
	PasswordHash string `yaml:"password_hash" mapstructure:"password_hash"`
}

func (a *APIConfig) validate() error {
	if a.Server.RateLimit.Enabled && a.Server.RateLimit.RequestsPerMinute < 1 {
		return fmt.Errorf("api.server.rate_limit.requests_per_minute must be positive")
	}

	if !a.Auth.AnonymousRead && (!a.Auth.Basic.Enabled || len(a.Auth.Basic.Users) == 0) {
		return fmt.Errorf("api.auth: anonymous_read is disabled but no basic auth users are configured")
	}

	seen := make(map[string]struct{}, len(a.Auth.Basic.Users))

	for i, u := range a.Auth.Basic.Users {
		if u.Username == "" {
			return fmt.Errorf("api.auth.basic.users[%d]: username is required", i)
		}

		if _, ok := seen[u.Username]; ok {
			return fmt.Errorf("api.auth.basic.users[%d]: duplicate username %q", i, u.Username)
		}

		seen[u.Username] = struct{}{}

		if u.PasswordHash == "" {
			return fmt.Errorf("api.auth.basic.users[%d]: password_hash is required", i)
		}
	}

	return nil
}
