package service

import (
	"context"
	"errors"
	"testing"

	"github.com/prperemyshlev/session-service/internal/domain"
	"github.com/prperemyshlev/session-service/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore() (*SessionStore, *fakeKV, *fakeTokenRepo) {
	kv := newFakeKV()
	tokens := &fakeTokenRepo{}
	return NewSessionStore(kv, tokens, zap.NewNop()), kv, tokens
}

func TestPersistSessionData(t *testing.T) {
	store, kv, tokens := newTestStore()
	user := &domain.User{ID: "user-1", Email: "owner@example.com", FirstName: "Ada"}

	stored, err := store.PersistSessionData(context.Background(), user, &domain.AuthTokens{
		IDToken:  "id",
		Provider: domain.ProviderFirebase,
	})
	require.NoError(t, err)

	assert.Equal(t, "user-1", stored.UserID)
	assert.Equal(t, "user-1", tokens.tokens.UserID)
	assert.JSONEq(t, `{"id":"user-1","email":"owner@example.com","firstName":"Ada"}`, kv.data[repository.KeyUserData])
}

func TestPersistSessionData_RequiresProvider(t *testing.T) {
	store, kv, tokens := newTestStore()

	_, err := store.PersistSessionData(context.Background(), &domain.User{ID: "user-1"}, &domain.AuthTokens{IDToken: "id"})

	assert.ErrorIs(t, err, repository.ErrMissingProvider)
	assert.Zero(t, tokens.stores())
	assert.False(t, kv.has(repository.KeyUserData))
}

func TestClearSessionData(t *testing.T) {
	seed := func(kv *fakeKV) {
		kv.data[repository.KeyUserData] = "u"
		kv.data[repository.KeyLegacyAuthTokens] = "t"
		kv.data[repository.KeyPendingProfilePayload] = "p"
	}

	t.Run("keeps pending profile by default", func(t *testing.T) {
		store, kv, tokens := newTestStore()
		seed(kv)

		store.ClearSessionData(context.Background(), ClearOptions{})

		assert.False(t, kv.has(repository.KeyUserData))
		assert.False(t, kv.has(repository.KeyLegacyAuthTokens))
		assert.True(t, kv.has(repository.KeyPendingProfilePayload))
		assert.Len(t, kv.removed, 1, "plaintext keys are removed in one batch")
		assert.Equal(t, 1, tokens.clearCalls)
	})

	t.Run("clears pending profile on request", func(t *testing.T) {
		store, kv, _ := newTestStore()
		seed(kv)

		store.ClearSessionData(context.Background(), ClearOptions{ClearPendingProfile: true})

		assert.False(t, kv.has(repository.KeyPendingProfilePayload))
		assert.Len(t, kv.removed, 1)
	})

	t.Run("token store failure is swallowed", func(t *testing.T) {
		store, kv, tokens := newTestStore()
		seed(kv)
		tokens.clearErr = errors.New("keychain locked")

		assert.NotPanics(t, func() {
			store.ClearSessionData(context.Background(), ClearOptions{})
		})
		assert.False(t, kv.has(repository.KeyUserData))
	})
}

func TestLoadLegacyTokens(t *testing.T) {
	store, kv, _ := newTestStore()

	_, err := store.LoadLegacyTokens(context.Background())
	assert.ErrorIs(t, err, repository.ErrNotFound)

	kv.data[repository.KeyLegacyAuthTokens] = `{"idToken":"id","accessToken":"a","userId":"u","provider":"firebase","expiresAt":1700000000000}`
	tokens, err := store.LoadLegacyTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderFirebase, tokens.Provider)
	assert.Equal(t, int64(1700000000000), tokens.ExpiresAt)

	kv.data[repository.KeyLegacyAuthTokens] = `[]`
	_, err = store.LoadLegacyTokens(context.Background())
	assert.Error(t, err)
}

func TestPendingProfileRoundTrip(t *testing.T) {
	store, _, _ := newTestStore()
	ctx := context.Background()

	pending := &domain.PendingProfile{UserID: "user-1", Provider: domain.ProviderAmplify, ProfileToken: "pt", CreatedAt: 42}
	require.NoError(t, store.SavePendingProfile(ctx, pending))

	loaded, err := store.LoadPendingProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, pending, loaded)

	require.NoError(t, store.RemovePendingProfile(ctx))
	_, err = store.LoadPendingProfile(ctx)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
