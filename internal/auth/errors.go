package auth

import (
	"errors"

	constants "github.com/CodeAndHammer/duelqueue/internal/constants"
)

var (
	ErrMalformedToken  = errors.New("malformed token")
	ErrUnknownKey      = errors.New("unknown signing key")
	ErrBadSignature    = errors.New("bad token signature")
	ErrExpired         = errors.New("token expired")
	ErrNotYetValid     = errors.New("token not yet valid")
	ErrWrongAudience   = errors.New("token audience mismatch")
	ErrWrongIssuer     = errors.New("token issuer mismatch")
	ErrInvalidSubject  = errors.New("token subject invalid")
	ErrInvalidAuthTime = errors.New("token auth_time in the future")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrMalformedToken, constants.ErrorCodeMalformedToken},
	{ErrUnknownKey, constants.ErrorCodeUnknownKey},
	{ErrBadSignature, constants.ErrorCodeBadSignature},
	{ErrExpired, constants.ErrorCodeExpired},
	{ErrNotYetValid, constants.ErrorCodeNotYetValid},
	{ErrWrongAudience, constants.ErrorCodeWrongAudience},
	{ErrWrongIssuer, constants.ErrorCodeWrongIssuer},
	{ErrInvalidSubject, constants.ErrorCodeInvalidSubject},
	{ErrInvalidAuthTime, constants.ErrorCodeInvalidAuthTime},
}

// Code maps a validation error to the code sent to the client.
func Code(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return constants.ErrorCodeMalformedToken
}

// RequiresReauth reports whether the client should obtain a fresh token rather
// than treat the rejection as a broken client.
func RequiresReauth(err error) bool {
	return errors.Is(err, ErrExpired) || errors.Is(err, ErrUnknownKey)
}
