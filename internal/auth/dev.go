package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// DevVerifier accepts any structurally valid token and trusts its subject.
// It exists for local play against an auth emulator and must not run in
// production.
type DevVerifier struct{}

func (DevVerifier) Validate(_ context.Context, raw string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(raw), claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", fmt.Errorf("%w: sub is required", ErrInvalidSubject)
	}
	return sub, nil
}
