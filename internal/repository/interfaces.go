package repository

import (
	"context"

	"github.com/prperemyshlev/session-service/internal/domain"
)

// Keys of the plaintext key/value store
const (
	KeyUserData              = "@user_data"
	KeyLegacyAuthTokens      = "@auth_tokens"
	KeyPendingProfilePayload = "@pending_profile_payload"
)

// KeyValueRepository is the device's durable key/value store
type KeyValueRepository interface {
	// Get returns ErrNotFound when the key is absent
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	RemoveMany(ctx context.Context, keys ...string) error
}

// TokenRepository is the secure store for the device's current token set
type TokenRepository interface {
	Store(ctx context.Context, tokens *domain.AuthTokens) (*domain.AuthTokens, error)
	// Load returns ErrNotFound when no tokens are stored
	Load(ctx context.Context) (*domain.AuthTokens, error)
	Clear(ctx context.Context) error
}
