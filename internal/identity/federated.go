package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prperemyshlev/session-service/internal/repository"
	"github.com/prperemyshlev/session-service/internal/utils"
	"golang.org/x/oauth2"
)

// KeyFederatedCredentials is where the social sign-in flow caches the federated user
const KeyFederatedCredentials = "@federated_credentials"

type FederatedAuthConfig struct {
	APIKey    string
	TokenURL  string
	LookupURL string
	Timeout   time.Duration
}

type federatedCredentials struct {
	UID          string `json:"uid"`
	Email        string `json:"email,omitempty"`
	PhotoURL     string `json:"photoURL,omitempty"`
	RefreshToken string `json:"refreshToken"`
	IDToken      string `json:"idToken,omitempty"`
}

type lookupResponse struct {
	Users []struct {
		LocalID  string `json:"localId"`
		Email    string `json:"email"`
		PhotoURL string `json:"photoUrl"`
	} `json:"users"`
}

// FederatedAuthHTTPClient talks to the federated identity REST endpoints on
// behalf of the user cached by the social sign-in flow
type FederatedAuthHTTPClient struct {
	cfg        FederatedAuthConfig
	oauth      *oauth2.Config
	httpClient *http.Client
	cache      repository.KeyValueRepository
	now        func() time.Time
}

var _ FederatedAuthClient = (*FederatedAuthHTTPClient)(nil)

// NewFederatedAuthClient creates a federated identity client caching the
// signed-in user in cache
func NewFederatedAuthClient(cfg FederatedAuthConfig, cache repository.KeyValueRepository) *FederatedAuthHTTPClient {
	c := &FederatedAuthHTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
		now:        time.Now,
	}
	// the secure-token endpoint is a plain refresh-token grant keyed by the
	// API key instead of client credentials
	c.oauth = &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.endpoint(cfg.TokenURL),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return c
}

// CurrentUser returns the cached federated user, or nil if nobody is signed in
func (c *FederatedAuthHTTPClient) CurrentUser(ctx context.Context) (FederatedUser, error) {
	raw, err := c.cache.Get(ctx, KeyFederatedCredentials)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read federated credentials: %w", err)
	}

	var creds federatedCredentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return nil, fmt.Errorf("failed to decode federated credentials: %w", err)
	}

	if creds.UID == "" || creds.RefreshToken == "" {
		return nil, nil
	}

	return &federatedUser{client: c, creds: creds}, nil
}

func (c *FederatedAuthHTTPClient) save(ctx context.Context, creds federatedCredentials) error {
	raw, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode federated credentials: %w", err)
	}
	if err := c.cache.Set(ctx, KeyFederatedCredentials, string(raw)); err != nil {
		return fmt.Errorf("failed to save federated credentials: %w", err)
	}
	return nil
}

func (c *FederatedAuthHTTPClient) endpoint(base string) string {
	if c.cfg.APIKey == "" {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "key=" + url.QueryEscape(c.cfg.APIKey)
}

func (c *FederatedAuthHTTPClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("federated endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

type federatedUser struct {
	client *FederatedAuthHTTPClient

	mu    sync.Mutex
	creds federatedCredentials
}

func (u *federatedUser) UID() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.creds.UID
}

func (u *federatedUser) Email() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.creds.Email
}

func (u *federatedUser) PhotoURL() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.creds.PhotoURL
}

func (u *federatedUser) RefreshToken() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.creds.RefreshToken
}

// Reload refreshes the profile fields from the account lookup endpoint
func (u *federatedUser) Reload(ctx context.Context) error {
	idToken, err := u.GetIDToken(ctx, false)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{"idToken": idToken})
	if err != nil {
		return fmt.Errorf("failed to encode lookup request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.client.endpoint(u.client.cfg.LookupURL), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var lookup lookupResponse
	if err := u.client.do(req, &lookup); err != nil {
		return fmt.Errorf("failed to reload federated user: %w", err)
	}
	if len(lookup.Users) == 0 {
		return fmt.Errorf("federated account no longer exists: %w", ErrNoSession)
	}

	u.mu.Lock()
	account := lookup.Users[0]
	if account.LocalID != "" {
		u.creds.UID = account.LocalID
	}
	u.creds.Email = account.Email
	u.creds.PhotoURL = account.PhotoURL
	creds := u.creds
	u.mu.Unlock()

	return u.client.save(ctx, creds)
}

// GetIDToken returns the cached ID token, exchanging the refresh token when
// forced or when the cached token is about to expire
func (u *federatedUser) GetIDToken(ctx context.Context, forceRefresh bool) (string, error) {
	u.mu.Lock()
	cached, refreshToken := u.creds.IDToken, u.creds.RefreshToken
	u.mu.Unlock()

	if !forceRefresh && cached != "" {
		if claims, err := utils.DecodeUnverifiedClaims(cached); err == nil &&
			claims.Exp > u.client.now().Add(expirySkew).Unix() {
			return cached, nil
		}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, u.client.httpClient)
	tok, err := u.client.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", fmt.Errorf("failed to refresh federated token: %w", err)
	}

	// the ID token comes back as id_token and again as access_token
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		idToken = tok.AccessToken
	}
	userID, _ := tok.Extra("user_id").(string)

	u.mu.Lock()
	u.creds.IDToken = idToken
	if tok.RefreshToken != "" {
		u.creds.RefreshToken = tok.RefreshToken
	}
	if userID != "" {
		u.creds.UID = userID
	}
	creds := u.creds
	u.mu.Unlock()

	if err := u.client.save(ctx, creds); err != nil {
		return "", err
	}

	return idToken, nil
}

// GetIDTokenResult returns the current ID token and its expiry
func (u *federatedUser) GetIDTokenResult(ctx context.Context) (*IDTokenResult, error) {
	token, err := u.GetIDToken(ctx, false)
	if err != nil {
		return nil, err
	}

	claims, err := utils.DecodeUnverifiedClaims(token)
	if err != nil {
		return nil, fmt.Errorf("failed to decode federated id token: %w", err)
	}

	return &IDTokenResult{
		Token:          token,
		ExpirationTime: time.Unix(claims.Exp, 0),
	}, nil
}
