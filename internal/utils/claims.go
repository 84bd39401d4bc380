package utils

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prperemyshlev/session-service/internal/domain"
)

var (
	// ErrMalformedToken is returned when a token is not a decodable JWT
	ErrMalformedToken = errors.New("malformed token")

	// ErrMissingExpiry is returned when a token carries no exp claim
	ErrMissingExpiry = errors.New("token has no exp claim")
)

var unverifiedParser = jwt.NewParser(jwt.WithPaddingAllowed())

// DecodeUnverifiedClaims reads the claims segment of a JWT without checking
// its signature. Only use it for tokens this device already holds, never to
// authenticate a caller.
func DecodeUnverifiedClaims(token string) (*domain.TokenClaims, error) {
	if token == "" {
		return nil, ErrMalformedToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := unverifiedParser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if exp == nil {
		return nil, ErrMissingExpiry
	}

	tc := &domain.TokenClaims{Exp: exp.Unix()}

	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		tc.Iat = iat.Unix()
	}
	if sub, err := claims.GetSubject(); err == nil {
		tc.Subject = sub
	}
	tc.Email, _ = claims["email"].(string)

	for _, key := range []string{"cognito:username", "username", "preferred_username"} {
		if username, ok := claims[key].(string); ok && username != "" {
			tc.Username = username
			break
		}
	}

	return tc, nil
}

// TokenExpiryMillis returns the exp claim of a token in epoch milliseconds
func TokenExpiryMillis(token string) (int64, error) {
	claims, err := DecodeUnverifiedClaims(token)
	if err != nil {
		return 0, err
	}
	return claims.ExpiresAtMillis(), nil
}
