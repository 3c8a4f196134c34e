package auth

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const maxSubjectLength = 128

var requiredClaims = []string{"exp", "iat", "aud", "iss", "sub", "auth_time"}

// Verifier resolves a bearer token to a player identity.
type Verifier interface {
	Validate(ctx context.Context, token string) (string, error)
}

// KeyLookup resolves a verification key by kid.
type KeyLookup interface {
	Lookup(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// Validator checks signature and claims of issuer-signed ID tokens without an
// admin SDK. Failures wrap one of the Err* sentinels.
type Validator struct {
	cfg    Config
	keys   KeyLookup
	parser *jwt.Parser
}

func NewValidator(cfg Config, keys KeyLookup) *Validator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Validator{cfg: cfg, keys: keys, parser: jwt.NewParser()}
}

func (v *Validator) Validate(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: token is required", ErrMalformedToken)
	}

	claims := jwt.MapClaims{}
	token, parts, err := v.parser.ParseUnverified(raw, claims)
	if err != nil {
		// An alg the library does not know is an algorithm problem, not a
		// structural one.
		if errors.Is(err, jwt.ErrTokenUnverifiable) && token != nil {
			if alg, _ := token.Header["alg"].(string); alg != "" {
				return "", fmt.Errorf("%w: unexpected alg %q", ErrBadSignature, alg)
			}
		}
		return "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	alg, _ := token.Header["alg"].(string)
	kid, _ := token.Header["kid"].(string)
	if alg == "" || kid == "" {
		return "", fmt.Errorf("%w: alg and kid headers are required", ErrMalformedToken)
	}
	parsed, err := readClaims(claims)
	if err != nil {
		return "", err
	}

	if alg != v.cfg.Algorithm {
		return "", fmt.Errorf("%w: unexpected alg %q", ErrBadSignature, alg)
	}

	key, err := v.keys.Lookup(ctx, kid)
	if err != nil {
		if errors.Is(err, ErrUnknownKey) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrUnknownKey, err)
	}

	sig, err := v.parser.DecodeSegment(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: decode signature: %v", ErrBadSignature, err)
	}
	if err := token.Method.Verify(parts[0]+"."+parts[1], sig, key); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	now := v.cfg.Now()
	switch {
	case !parsed.expiresAt.After(now):
		return "", fmt.Errorf("%w: exp %s", ErrExpired, parsed.expiresAt.UTC().Format(time.RFC3339))
	case parsed.issuedAt.After(now):
		return "", fmt.Errorf("%w: iat %s", ErrNotYetValid, parsed.issuedAt.UTC().Format(time.RFC3339))
	case parsed.authTime.After(now):
		return "", fmt.Errorf("%w: auth_time %s", ErrInvalidAuthTime, parsed.authTime.UTC().Format(time.RFC3339))
	case len(parsed.audience) != 1 || parsed.audience[0] != v.cfg.Audience:
		return "", fmt.Errorf("%w: got %v", ErrWrongAudience, parsed.audience)
	case parsed.issuer != v.cfg.Issuer:
		return "", fmt.Errorf("%w: got %q", ErrWrongIssuer, parsed.issuer)
	case strings.TrimSpace(parsed.subject) == "" || len(parsed.subject) > maxSubjectLength:
		return "", fmt.Errorf("%w: subject must be 1-%d characters", ErrInvalidSubject, maxSubjectLength)
	}
	return parsed.subject, nil
}

type idTokenClaims struct {
	expiresAt time.Time
	issuedAt  time.Time
	authTime  time.Time
	audience  []string
	issuer    string
	subject   string
}

func readClaims(claims jwt.MapClaims) (idTokenClaims, error) {
	for _, name := range requiredClaims {
		if _, ok := claims[name]; !ok {
			return idTokenClaims{}, fmt.Errorf("%w: missing %s claim", ErrMalformedToken, name)
		}
	}

	var out idTokenClaims
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return idTokenClaims{}, fmt.Errorf("%w: exp: %v", ErrMalformedToken, err)
	}
	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return idTokenClaims{}, fmt.Errorf("%w: iat: %v", ErrMalformedToken, err)
	}
	authTime, err := numericClaim(claims["auth_time"])
	if err != nil {
		return idTokenClaims{}, fmt.Errorf("%w: auth_time: %v", ErrMalformedToken, err)
	}
	aud, err := claims.GetAudience()
	if err != nil {
		return idTokenClaims{}, fmt.Errorf("%w: aud: %v", ErrMalformedToken, err)
	}
	iss, err := claims.GetIssuer()
	if err != nil {
		return idTokenClaims{}, fmt.Errorf("%w: iss: %v", ErrMalformedToken, err)
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return idTokenClaims{}, fmt.Errorf("%w: sub: %v", ErrMalformedToken, err)
	}

	out.expiresAt = exp.Time
	out.issuedAt = iat.Time
	out.authTime = authTime
	out.audience = aud
	out.issuer = iss
	out.subject = sub
	return out, nil
}

func numericClaim(v any) (time.Time, error) {
	switch n := v.(type) {
	case float64:
		return time.Unix(0, int64(n*float64(time.Second))), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, int64(f*float64(time.Second))), nil
	case int64:
		return time.Unix(n, 0), nil
	case int:
		return time.Unix(int64(n), 0), nil
	default:
		return time.Time{}, fmt.Errorf("expected a number, got %T", v)
	}
}
