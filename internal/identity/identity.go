// Package identity holds the clients for the external identity collaborators
// of the session layer: the hosted-auth provider, the federated-identity
// provider and the profile status endpoint of the veterinary backend.
package identity

import (
	"context"
	"errors"
	"time"
)

// ErrNoSession is returned when a provider has no signed-in user cached
var ErrNoSession = errors.New("no identity session")

// HostedSession is the hosted-auth provider's current token set.
// AccessTokenExpiresAt is known even when the access token is opaque; zero
// means the expiry is unknown.
type HostedSession struct {
	IDToken              string
	AccessToken          string
	RefreshToken         string
	AccessTokenExpiresAt time.Time
}

// HostedUser identifies the hosted-auth user
type HostedUser struct {
	UserID   string
	Username string
}

// HostedAuthClient mirrors the hosted-auth SDK calls used for recovery
type HostedAuthClient interface {
	FetchCurrentSession(ctx context.Context) (*HostedSession, error)
	FetchCurrentUser(ctx context.Context) (*HostedUser, error)
	FetchUserAttributes(ctx context.Context) (map[string]string, error)
}

// IDTokenResult is a federated ID token with its expiry
type IDTokenResult struct {
	Token          string
	ExpirationTime time.Time
}

// FederatedUser is the federated SDK's current-user object
type FederatedUser interface {
	UID() string
	Email() string
	PhotoURL() string
	RefreshToken() string
	Reload(ctx context.Context) error
	GetIDToken(ctx context.Context, forceRefresh bool) (string, error)
	GetIDTokenResult(ctx context.Context) (*IDTokenResult, error)
}

// FederatedAuthClient mirrors the federated SDK's auth object. CurrentUser
// returns nil, nil when nobody is signed in.
type FederatedAuthClient interface {
	CurrentUser(ctx context.Context) (FederatedUser, error)
}

// ProfileStatusRequest identifies whose profile to look up
type ProfileStatusRequest struct {
	AccessToken string
	UserID      string
	Email       string
}

// ProfileStatus reports whether the domain profile exists
type ProfileStatus struct {
	Exists       bool   `json:"exists"`
	ProfileToken string `json:"profileToken"`
	Source       string `json:"source"`
}

// ProfileStatusResolver looks up the domain profile of an identity
type ProfileStatusResolver interface {
	FetchProfileStatus(ctx context.Context, req ProfileStatusRequest) (*ProfileStatus, error)
}
