package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prperemyshlev/session-service/internal/repository"
	"github.com/prperemyshlev/session-service/internal/utils"
	"golang.org/x/oauth2"
)

// KeyHostedCredentials is where the hosted-auth sign-in flow caches its tokens
const KeyHostedCredentials = "@hosted_auth_credentials"

// tokens this close to expiry are refreshed before being handed out
const expirySkew = time.Minute

type HostedAuthConfig struct {
	TokenURL     string
	UserInfoURL  string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// hostedCredentials is the cached token set. AccessTokenExpiresAt (epoch ms)
// is the expiry the token endpoint reported, for access tokens that are not
// JWTs.
type hostedCredentials struct {
	IDToken              string `json:"idToken"`
	AccessToken          string `json:"accessToken"`
	RefreshToken         string `json:"refreshToken"`
	AccessTokenExpiresAt int64  `json:"accessTokenExpiresAt,omitempty"`
	Username             string `json:"username,omitempty"`
	Sub                  string `json:"sub,omitempty"`
}

// HostedAuthHTTPClient recovers the hosted-auth session from the credential
// cache, refreshing it through the OAuth2 token endpoint when it has expired
type HostedAuthHTTPClient struct {
	oauth       *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
	cache       repository.KeyValueRepository
	now         func() time.Time

	mu sync.Mutex
}

var _ HostedAuthClient = (*HostedAuthHTTPClient)(nil)

// NewHostedAuthClient creates a hosted-auth client caching credentials in cache
func NewHostedAuthClient(cfg HostedAuthConfig, cache repository.KeyValueRepository) *HostedAuthHTTPClient {
	return &HostedAuthHTTPClient{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: cfg.UserInfoURL,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		cache:       cache,
		now:         time.Now,
	}
}

// FetchCurrentSession returns a fresh token set, refreshing it if needed
func (c *HostedAuthHTTPClient) FetchCurrentSession(ctx context.Context) (*HostedSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	creds, err := c.loadCredentials(ctx)
	if err != nil {
		return nil, err
	}

	if c.isFresh(creds.accessTokenExpiry()) && c.isFresh(tokenExpiry(creds.IDToken)) {
		return creds.session(), nil
	}

	if creds.RefreshToken == "" {
		return nil, fmt.Errorf("hosted session expired without refresh token: %w", ErrNoSession)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh hosted session: %w", err)
	}

	creds.AccessToken = tok.AccessToken
	creds.AccessTokenExpiresAt = 0
	if !tok.Expiry.IsZero() {
		creds.AccessTokenExpiresAt = tok.Expiry.UnixMilli()
	}
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		creds.IDToken = idToken
	}
	if tok.RefreshToken != "" {
		creds.RefreshToken = tok.RefreshToken
	}

	if err := c.saveCredentials(ctx, creds); err != nil {
		return nil, err
	}

	return creds.session(), nil
}

// FetchCurrentUser returns the subject and login name of the cached identity
func (c *HostedAuthHTTPClient) FetchCurrentUser(ctx context.Context) (*HostedUser, error) {
	creds, err := c.loadCredentials(ctx)
	if err != nil {
		return nil, err
	}

	user := &HostedUser{UserID: creds.Sub, Username: creds.Username}
	if claims, err := utils.DecodeUnverifiedClaims(creds.IDToken); err == nil {
		if claims.Subject != "" {
			user.UserID = claims.Subject
		}
		if claims.Username != "" {
			user.Username = claims.Username
		}
	}

	if user.UserID == "" {
		return nil, fmt.Errorf("hosted identity has no subject: %w", ErrNoSession)
	}

	return user, nil
}

// FetchUserAttributes calls the OIDC userinfo endpoint
func (c *HostedAuthHTTPClient) FetchUserAttributes(ctx context.Context) (map[string]string, error) {
	creds, err := c.loadCredentials(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user attributes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("userinfo returned status %d: %s", resp.StatusCode, string(body))
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode user attributes: %w", err)
	}

	attrs := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			attrs[k] = val
		case bool:
			attrs[k] = strconv.FormatBool(val)
		case float64:
			attrs[k] = strconv.FormatFloat(val, 'f', -1, 64)
		}
	}

	return attrs, nil
}

// isFresh reports whether a token expiring at exp can still be handed out.
// A zero expiry is unknown and never fresh.
func (c *HostedAuthHTTPClient) isFresh(exp time.Time) bool {
	return exp.After(c.now().Add(expirySkew))
}

// tokenExpiry reads the exp claim, zero when token is not a JWT with one
func tokenExpiry(token string) time.Time {
	claims, err := utils.DecodeUnverifiedClaims(token)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(claims.Exp, 0)
}

func (c *HostedAuthHTTPClient) loadCredentials(ctx context.Context) (*hostedCredentials, error) {
	raw, err := c.cache.Get(ctx, KeyHostedCredentials)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to read hosted credentials: %w", err)
	}

	var creds hostedCredentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return nil, fmt.Errorf("failed to decode hosted credentials: %w", err)
	}

	return &creds, nil
}

func (c *HostedAuthHTTPClient) saveCredentials(ctx context.Context, creds *hostedCredentials) error {
	raw, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode hosted credentials: %w", err)
	}
	if err := c.cache.Set(ctx, KeyHostedCredentials, string(raw)); err != nil {
		return fmt.Errorf("failed to save hosted credentials: %w", err)
	}
	return nil
}

// accessTokenExpiry prefers the exp claim and falls back to the expiry the
// token endpoint reported
func (h *hostedCredentials) accessTokenExpiry() time.Time {
	if exp := tokenExpiry(h.AccessToken); !exp.IsZero() {
		return exp
	}
	if h.AccessTokenExpiresAt > 0 {
		return time.UnixMilli(h.AccessTokenExpiresAt)
	}
	return time.Time{}
}

func (h *hostedCredentials) session() *HostedSession {
	return &HostedSession{
		IDToken:              h.IDToken,
		AccessToken:          h.AccessToken,
		RefreshToken:         h.RefreshToken,
		AccessTokenExpiresAt: h.accessTokenExpiry(),
	}
}
