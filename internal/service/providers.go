package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prperemyshlev/session-service/internal/domain"
	"github.com/prperemyshlev/session-service/internal/identity"
	"github.com/prperemyshlev/session-service/internal/repository"
	"github.com/prperemyshlev/session-service/internal/utils"
	"go.uber.org/zap"
)

// resolveProfile turns a verified identity into authenticated or
// pendingProfile depending on whether the domain profile exists
func resolveProfile(ctx context.Context, resolver identity.ProfileStatusResolver, user *domain.User, tokens *domain.AuthTokens) (*domain.SessionOutcome, error) {
	status, err := resolver.FetchProfileStatus(ctx, identity.ProfileStatusRequest{
		AccessToken: tokens.AccessToken,
		UserID:      user.ID,
		Email:       user.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve profile status: %w", err)
	}

	if !status.Exists {
		return domain.PendingProfileOutcome(tokens, tokens.Provider, status.ProfileToken), nil
	}

	user.ProfileToken = status.ProfileToken
	return domain.Authenticated(user, tokens, tokens.Provider), nil
}

type hostedSessionProvider struct {
	client   identity.HostedAuthClient
	profiles identity.ProfileStatusResolver
}

// NewHostedSessionProvider recovers the hosted-auth session
func NewHostedSessionProvider(client identity.HostedAuthClient, profiles identity.ProfileStatusResolver) SessionProvider {
	return &hostedSessionProvider{client: client, profiles: profiles}
}

func (p *hostedSessionProvider) Name() string {
	return string(domain.ProviderAmplify)
}

// TryRecover refreshes the hosted session and resolves the profile behind it
func (p *hostedSessionProvider) TryRecover(ctx context.Context) (*domain.SessionOutcome, error) {
	session, err := p.client.FetchCurrentSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch hosted session: %w", err)
	}
	if session == nil || session.IDToken == "" || session.AccessToken == "" {
		return nil, nil
	}

	current, err := p.client.FetchCurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch hosted user: %w", err)
	}

	attrs, err := p.client.FetchUserAttributes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch hosted user attributes: %w", err)
	}

	idExp, err := utils.TokenExpiryMillis(session.IDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hosted id token: %w", err)
	}
	// opaque access tokens carry no exp claim; use the reported expiry,
	// else let the id token decide
	accessExp := idExp
	if exp, err := utils.TokenExpiryMillis(session.AccessToken); err == nil {
		accessExp = exp
	} else if !session.AccessTokenExpiresAt.IsZero() {
		accessExp = session.AccessTokenExpiresAt.UnixMilli()
	}

	userID := current.UserID
	if userID == "" {
		userID = attrs["sub"]
	}

	user := &domain.User{
		ID:        userID,
		Email:     utils.ResolveEmail(attrs["email"], current.Username),
		FirstName: attrs["given_name"],
		LastName:  attrs["family_name"],
		PhotoURL:  attrs["picture"],
	}

	tokens := &domain.AuthTokens{
		IDToken:      session.IDToken,
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		ExpiresAt:    min(idExp, accessExp),
		UserID:       userID,
		Provider:     domain.ProviderAmplify,
	}

	return resolveProfile(ctx, p.profiles, user, tokens)
}

type federatedSessionProvider struct {
	client   identity.FederatedAuthClient
	profiles identity.ProfileStatusResolver
	store    *SessionStore
}

// NewFederatedSessionProvider recovers social sign-in sessions known only to
// the federated identity provider
func NewFederatedSessionProvider(client identity.FederatedAuthClient, profiles identity.ProfileStatusResolver, store *SessionStore) SessionProvider {
	return &federatedSessionProvider{client: client, profiles: profiles, store: store}
}

func (p *federatedSessionProvider) Name() string {
	return string(domain.ProviderFirebase)
}

// TryRecover reloads the federated user and forces a fresh id token
func (p *federatedSessionProvider) TryRecover(ctx context.Context) (*domain.SessionOutcome, error) {
	current, err := p.client.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get federated user: %w", err)
	}
	if current == nil {
		return nil, nil
	}

	if err := current.Reload(ctx); err != nil {
		return nil, fmt.Errorf("failed to reload federated user: %w", err)
	}

	idToken, err := current.GetIDToken(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get federated id token: %w", err)
	}

	result, err := current.GetIDTokenResult(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get federated id token result: %w", err)
	}

	// the federated provider does not reliably carry given/family names
	user := p.store.loadUserOrEmpty(ctx)
	user.ID = current.UID()
	user.Email = utils.ResolveEmail(current.Email(), user.Email)
	if photo := current.PhotoURL(); photo != "" {
		user.PhotoURL = photo
	}

	var expiresAt int64
	if !result.ExpirationTime.IsZero() {
		expiresAt = result.ExpirationTime.UnixMilli()
	}

	tokens := &domain.AuthTokens{
		IDToken:      idToken,
		AccessToken:  idToken,
		RefreshToken: current.RefreshToken(),
		ExpiresAt:    expiresAt,
		UserID:       user.ID,
		Provider:     domain.ProviderFirebase,
	}

	return resolveProfile(ctx, p.profiles, user, tokens)
}

type storedSessionProvider struct {
	store  *SessionStore
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewStoredSessionProvider recovers a previously persisted token set,
// migrating the legacy @auth_tokens blob into the Token Store on the way.
// Profile status is not re-resolved here.
func NewStoredSessionProvider(store *SessionStore, clock clockwork.Clock, logger *zap.Logger) SessionProvider {
	return &storedSessionProvider{store: store, clock: clock, logger: logger}
}

func (p *storedSessionProvider) Name() string {
	return "stored"
}

// TryRecover uses the stored tokens, migrating the legacy blob when they are missing or expired
func (p *storedSessionProvider) TryRecover(ctx context.Context) (*domain.SessionOutcome, error) {
	now := p.clock.Now()

	tokens, err := p.store.LoadStoredTokens(ctx)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		p.logger.Debug("Stored tokens unreadable, trying legacy blob", zap.Error(err))
	}

	if err != nil || tokens.IsExpired(now) {
		tokens, err = p.migrateLegacyTokens(ctx, now)
		if err != nil || tokens == nil {
			return nil, err
		}
	}

	user := p.store.loadUserOrEmpty(ctx)
	user.ID = tokens.UserID
	if user.Email == "" {
		if claims, err := utils.DecodeUnverifiedClaims(tokens.IDToken); err == nil {
			user.Email = utils.ResolveEmail(claims.Email, claims.Username)
		}
	}

	return domain.Authenticated(user, tokens, tokens.Provider), nil
}

// migrateLegacyTokens moves a still-valid @auth_tokens blob into the Token
// Store. A missing, unparseable or expired blob is no session, not an error
// for the caller.
func (p *storedSessionProvider) migrateLegacyTokens(ctx context.Context, now time.Time) (*domain.AuthTokens, error) {
	legacy, err := p.store.LoadLegacyTokens(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	claims, err := utils.DecodeUnverifiedClaims(legacy.IDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decode legacy id token: %w", err)
	}
	if claims.IsExpired(now) {
		return nil, nil
	}

	if legacy.Provider == "" {
		legacy.Provider = domain.ProviderAmplify
	}
	if legacy.UserID == "" {
		legacy.UserID = claims.Subject
	}
	if legacy.ExpiresAt == 0 {
		legacy.ExpiresAt = claims.ExpiresAtMillis()
	}

	stored, err := p.store.StoreTokens(ctx, legacy)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate legacy tokens: %w", err)
	}

	p.logger.Info("Migrated legacy tokens into token store",
		zap.String("user_id", stored.UserID),
		zap.String("provider", string(stored.Provider)),
	)

	return stored, nil
}
