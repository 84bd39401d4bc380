package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedHosted(t *testing.T, kv *memKV, creds hostedCredentials) {
	t.Helper()
	raw, err := json.Marshal(creds)
	require.NoError(t, err)
	kv.data[KeyHostedCredentials] = string(raw)
}

func TestHostedAuthClient_NoCredentials(t *testing.T) {
	client := NewHostedAuthClient(HostedAuthConfig{TokenURL: "http://127.0.0.1:0/token"}, newMemKV())

	_, err := client.FetchCurrentSession(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = client.FetchCurrentUser(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestHostedAuthClient_FreshSessionSkipsRefresh(t *testing.T) {
	var tokenCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	kv := newMemKV()
	seedHosted(t, kv, hostedCredentials{
		IDToken:      tokenFor(t, "user-1", time.Hour),
		AccessToken:  tokenFor(t, "user-1", time.Hour),
		RefreshToken: "r1",
	})
	client := NewHostedAuthClient(HostedAuthConfig{TokenURL: srv.URL, Timeout: time.Second}, kv)

	session, err := client.FetchCurrentSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r1", session.RefreshToken)
	assert.Zero(t, tokenCalls)

	user, err := client.FetchCurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.UserID)
	assert.Equal(t, "user-1-login", user.Username)
}

func TestHostedAuthClient_RefreshesExpiredSession(t *testing.T) {
	freshID := tokenFor(t, "user-1", time.Hour)
	freshAccess := tokenFor(t, "user-1", time.Hour)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "r1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "vetcare-mobile", r.PostForm.Get("client_id"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  freshAccess,
			"id_token":      freshID,
			"refresh_token": "r2",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	kv := newMemKV()
	seedHosted(t, kv, hostedCredentials{
		IDToken:      tokenFor(t, "user-1", -time.Minute),
		AccessToken:  tokenFor(t, "user-1", -time.Minute),
		RefreshToken: "r1",
	})
	client := NewHostedAuthClient(HostedAuthConfig{
		TokenURL: srv.URL,
		ClientID: "vetcare-mobile",
		Timeout:  time.Second,
	}, kv)

	session, err := client.FetchCurrentSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, freshID, session.IDToken)
	assert.Equal(t, freshAccess, session.AccessToken)
	assert.Equal(t, "r2", session.RefreshToken)

	var cached hostedCredentials
	require.NoError(t, json.Unmarshal([]byte(kv.data[KeyHostedCredentials]), &cached))
	assert.Equal(t, "r2", cached.RefreshToken)
}

func TestHostedAuthClient_OpaqueAccessTokenUsesReportedExpiry(t *testing.T) {
	freshID := tokenFor(t, "user-1", time.Hour)

	var tokenCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "opaque-access-2",
			"id_token":     freshID,
			"token_type":   "Bearer",
			"expires_in":   1800,
		})
	}))
	defer srv.Close()

	kv := newMemKV()
	seedHosted(t, kv, hostedCredentials{
		IDToken:      freshID,
		AccessToken:  "opaque-access-1",
		RefreshToken: "r1",
	})
	client := NewHostedAuthClient(HostedAuthConfig{TokenURL: srv.URL, Timeout: time.Second}, kv)

	session, err := client.FetchCurrentSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, tokenCalls, "an opaque token without a known expiry is refreshed")
	assert.Equal(t, "opaque-access-2", session.AccessToken)
	assert.Equal(t, "r1", session.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), session.AccessTokenExpiresAt, time.Minute)

	session, err = client.FetchCurrentSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, tokenCalls, "the reported expiry keeps the token fresh")
	assert.Equal(t, "opaque-access-2", session.AccessToken)
}

func TestHostedAuthClient_ExpiredWithoutRefreshToken(t *testing.T) {
	kv := newMemKV()
	seedHosted(t, kv, hostedCredentials{
		IDToken:     tokenFor(t, "user-1", -time.Minute),
		AccessToken: tokenFor(t, "user-1", -time.Minute),
	})
	client := NewHostedAuthClient(HostedAuthConfig{TokenURL: "http://127.0.0.1:0/token"}, kv)

	_, err := client.FetchCurrentSession(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestHostedAuthClient_FetchUserAttributes(t *testing.T) {
	access := tokenFor(t, "user-1", time.Hour)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+access {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sub":            "user-1",
			"email":          "owner@example.com",
			"email_verified": true,
			"given_name":     "Ada",
		})
	}))
	defer srv.Close()

	kv := newMemKV()
	seedHosted(t, kv, hostedCredentials{IDToken: access, AccessToken: access})
	client := NewHostedAuthClient(HostedAuthConfig{UserInfoURL: srv.URL, Timeout: time.Second}, kv)

	attrs, err := client.FetchUserAttributes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", attrs["email"])
	assert.Equal(t, "true", attrs["email_verified"])
	assert.Equal(t, "Ada", attrs["given_name"])

	seedHosted(t, kv, hostedCredentials{IDToken: access, AccessToken: "revoked"})
	_, err = client.FetchUserAttributes(context.Background())
	assert.Error(t, err)
}
