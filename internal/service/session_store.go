package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prperemyshlev/session-service/internal/domain"
	"github.com/prperemyshlev/session-service/internal/repository"
	"go.uber.org/zap"
)

// SessionStore persists the plaintext session keys next to the sealed
// Token Store
type SessionStore struct {
	kv     repository.KeyValueRepository
	tokens repository.TokenRepository
	logger *zap.Logger
}

// NewSessionStore creates a session store over the key/value and token stores
func NewSessionStore(kv repository.KeyValueRepository, tokens repository.TokenRepository, logger *zap.Logger) *SessionStore {
	return &SessionStore{kv: kv, tokens: tokens, logger: logger}
}

// PersistUserData overwrites @user_data
func (s *SessionStore) PersistUserData(ctx context.Context, user *domain.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user data: %w", err)
	}

	if err := s.kv.Set(ctx, repository.KeyUserData, string(raw)); err != nil {
		return fmt.Errorf("failed to persist user data: %w", err)
	}

	return nil
}

// PersistSessionData writes the user blob and then the token set. The stored
// tokens always carry the owning user and provider.
func (s *SessionStore) PersistSessionData(ctx context.Context, user *domain.User, tokens *domain.AuthTokens) (*domain.AuthTokens, error) {
	if tokens == nil {
		return nil, fmt.Errorf("failed to persist session: no tokens")
	}
	if tokens.Provider == "" {
		return nil, repository.ErrMissingProvider
	}

	augmented := *tokens
	if augmented.UserID == "" && user != nil {
		augmented.UserID = user.ID
	}
	if augmented.UserID == "" {
		return nil, repository.ErrMissingUserID
	}

	if user != nil {
		if err := s.PersistUserData(ctx, user); err != nil {
			return nil, err
		}
	}

	stored, err := s.tokens.Store(ctx, &augmented)
	if err != nil {
		return nil, fmt.Errorf("failed to store tokens: %w", err)
	}

	return stored, nil
}

// ClearSessionData removes the plaintext session keys in one batch and then
// the sealed tokens. Failures are logged, never returned.
func (s *SessionStore) ClearSessionData(ctx context.Context, opts ClearOptions) {
	keys := []string{repository.KeyUserData, repository.KeyLegacyAuthTokens}
	if opts.ClearPendingProfile {
		keys = append(keys, repository.KeyPendingProfilePayload)
	}

	if err := s.kv.RemoveMany(ctx, keys...); err != nil {
		s.logger.Warn("Failed to remove session keys",
			zap.Strings("keys", keys),
			zap.Error(err),
		)
	}

	if err := s.tokens.Clear(ctx); err != nil {
		s.logger.Warn("Failed to clear stored tokens", zap.Error(err))
	}
}

// LoadUser reads @user_data; it returns ErrNotFound when absent
func (s *SessionStore) LoadUser(ctx context.Context) (*domain.User, error) {
	raw, err := s.kv.Get(ctx, repository.KeyUserData)
	if err != nil {
		return nil, err
	}

	var user domain.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("failed to decode user data: %w", err)
	}

	return &user, nil
}

// LoadStoredTokens reads the Token Store; it returns ErrNotFound when empty
func (s *SessionStore) LoadStoredTokens(ctx context.Context) (*domain.AuthTokens, error) {
	return s.tokens.Load(ctx)
}

// StoreTokens writes a token set to the Token Store
func (s *SessionStore) StoreTokens(ctx context.Context, tokens *domain.AuthTokens) (*domain.AuthTokens, error) {
	if tokens.Provider == "" {
		return nil, repository.ErrMissingProvider
	}
	return s.tokens.Store(ctx, tokens)
}

// LoadLegacyTokens reads the pre-migration @auth_tokens blob
func (s *SessionStore) LoadLegacyTokens(ctx context.Context) (*domain.AuthTokens, error) {
	raw, err := s.kv.Get(ctx, repository.KeyLegacyAuthTokens)
	if err != nil {
		return nil, err
	}

	var tokens domain.AuthTokens
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		return nil, fmt.Errorf("failed to decode legacy tokens: %w", err)
	}

	return &tokens, nil
}

// SavePendingProfile records the in-flight profile creation payload
func (s *SessionStore) SavePendingProfile(ctx context.Context, pending *domain.PendingProfile) error {
	raw, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to encode pending profile: %w", err)
	}

	if err := s.kv.Set(ctx, repository.KeyPendingProfilePayload, string(raw)); err != nil {
		return fmt.Errorf("failed to save pending profile: %w", err)
	}

	return nil
}

// LoadPendingProfile returns ErrNotFound when no profile creation is in flight
func (s *SessionStore) LoadPendingProfile(ctx context.Context) (*domain.PendingProfile, error) {
	raw, err := s.kv.Get(ctx, repository.KeyPendingProfilePayload)
	if err != nil {
		return nil, err
	}

	var pending domain.PendingProfile
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		return nil, fmt.Errorf("failed to decode pending profile: %w", err)
	}

	return &pending, nil
}

// RemovePendingProfile drops the pending profile payload
func (s *SessionStore) RemovePendingProfile(ctx context.Context) error {
	if err := s.kv.RemoveMany(ctx, repository.KeyPendingProfilePayload); err != nil {
		return fmt.Errorf("failed to remove pending profile: %w", err)
	}
	return nil
}

// loadUserOrEmpty is used where a missing or corrupt user blob only means
// there are no display fields to reuse
func (s *SessionStore) loadUserOrEmpty(ctx context.Context) *domain.User {
	user, err := s.LoadUser(ctx)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Debug("Ignoring unreadable user data", zap.Error(err))
		}
		return &domain.User{}
	}
	return user
}
