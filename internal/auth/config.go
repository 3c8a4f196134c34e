package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	ModeToken = "token"
	ModeDev   = "dev"

	defaultIssuerPrefix = "https://securetoken.google.com/"
)

// authEnv holds raw env values before post-parse validation.
type authEnv struct {
	Mode          string        `env:"AUTH_MODE" envDefault:"token"`
	Audience      string        `env:"AUTH_AUDIENCE"`
	Issuer        string        `env:"AUTH_ISSUER"`
	Algorithm     string        `env:"AUTH_ALGORITHM" envDefault:"RS256"`
	KeysURL       string        `env:"AUTH_KEYS_URL" envDefault:"https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"`
	MinRefresh    time.Duration `env:"AUTH_KEYS_MIN_REFRESH" envDefault:"1m"`
	DefaultMaxAge time.Duration `env:"AUTH_KEYS_DEFAULT_MAX_AGE" envDefault:"1h"`
}

// Config defines how bearer tokens are verified.
type Config struct {
	Mode          string
	Issuer        string
	Audience      string
	Algorithm     string
	KeysURL       string
	MinRefresh    time.Duration
	DefaultMaxAge time.Duration
	Now           func() time.Time
}

// LoadConfigFromEnv reads token verification settings. The issuer defaults to
// the secure token issuer of the configured audience (project id).
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw authEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse auth env: %w", err)
	}
	mode := strings.ToLower(strings.TrimSpace(raw.Mode))
	if mode == "" {
		mode = ModeToken
	}
	if mode != ModeToken && mode != ModeDev {
		return Config{}, fmt.Errorf("AUTH_MODE must be %q or %q, got %q", ModeToken, ModeDev, raw.Mode)
	}
	audience := strings.TrimSpace(raw.Audience)
	issuer := strings.TrimSpace(raw.Issuer)
	if mode == ModeToken {
		if audience == "" {
			return Config{}, fmt.Errorf("AUTH_AUDIENCE is required")
		}
		if issuer == "" {
			issuer = defaultIssuerPrefix + audience
		}
	}
	algorithm := strings.TrimSpace(raw.Algorithm)
	if algorithm == "" {
		algorithm = "RS256"
	}
	if strings.EqualFold(algorithm, "none") {
		return Config{}, fmt.Errorf("AUTH_ALGORITHM must name a signing algorithm")
	}
	if now == nil {
		now = time.Now
	}
	return Config{
		Mode:          mode,
		Issuer:        issuer,
		Audience:      audience,
		Algorithm:     algorithm,
		KeysURL:       strings.TrimSpace(raw.KeysURL),
		MinRefresh:    raw.MinRefresh,
		DefaultMaxAge: raw.DefaultMaxAge,
		Now:           now,
	}, nil
}
