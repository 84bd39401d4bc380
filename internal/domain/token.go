package domain

import "time"

// Provider identifies which identity provider issued a token set
type Provider string

const (
	ProviderAmplify  Provider = "amplify"
	ProviderFirebase Provider = "firebase"
)

// AuthTokens is a provider-issued credential set. ExpiresAt is in epoch
// milliseconds; zero means unknown.
type AuthTokens struct {
	IDToken      string   `json:"idToken"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken,omitempty"`
	ExpiresAt    int64    `json:"expiresAt,omitempty"`
	UserID       string   `json:"userId"`
	Provider     Provider `json:"provider"`
}

// Expiry returns ExpiresAt as a time, zero if unknown
func (t AuthTokens) Expiry() time.Time {
	if t.ExpiresAt <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(t.ExpiresAt)
}

// IsExpired reports whether the tokens have a known expiry at or before now
func (t AuthTokens) IsExpired(now time.Time) bool {
	if t.ExpiresAt <= 0 {
		return false
	}
	return now.UnixMilli() >= t.ExpiresAt
}

// TokenClaims is the subset of JWT claims the session layer reads
type TokenClaims struct {
	Subject  string
	Email    string
	Username string
	Exp      int64
	Iat      int64
}

// ExpiresAtMillis converts the exp claim (seconds) to epoch milliseconds
func (tc TokenClaims) ExpiresAtMillis() int64 {
	return tc.Exp * 1000
}

// IsExpired checks if the exp claim is at or before now
func (tc TokenClaims) IsExpired(now time.Time) bool {
	return now.Unix() >= tc.Exp
}
