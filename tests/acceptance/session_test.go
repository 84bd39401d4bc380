package acceptance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prperemyshlev/session-service/internal/domain"
	"github.com/prperemyshlev/session-service/internal/dto"
	"github.com/prperemyshlev/session-service/internal/repository"
)

type sessionBody struct {
	Status          domain.SessionStatus `json:"status"`
	User            *domain.User         `json:"user"`
	Tokens          *domain.AuthTokens   `json:"tokens"`
	Provider        domain.Provider      `json:"provider"`
	LastRefreshedAt *int64               `json:"lastRefreshedAt"`
	NextRefreshAt   *int64               `json:"nextRefreshAt"`
}

func (s *Suite) mintToken(sub string, ttl time.Duration) string {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"email": sub + "@example.com",
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	})
	signed, err := token.SignedString([]byte("acceptance"))
	s.Require().NoError(err)
	return signed
}

func (s *Suite) do(method, path string, body any) (int, []byte) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.BaseURL+path, reader)
	s.Require().NoError(err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err, "Failed to make request")
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	return resp.StatusCode, raw
}

func (s *Suite) decodeSession(raw []byte) sessionBody {
	var body sessionBody
	s.Require().NoError(json.Unmarshal(raw, &body), string(raw))
	return body
}

func (s *Suite) establishRequest(userID string, ttl time.Duration) dto.EstablishSessionRequest {
	idToken := s.mintToken(userID, ttl)
	return dto.EstablishSessionRequest{
		User: dto.UserPayload{
			ID:        userID,
			Email:     userID + "@example.com",
			FirstName: "Ada",
		},
		Tokens: dto.TokensPayload{
			IDToken:      idToken,
			AccessToken:  idToken,
			RefreshToken: "refresh-" + userID,
			ExpiresAt:    time.Now().Add(ttl).UnixMilli(),
			Provider:     string(domain.ProviderAmplify),
		},
	}
}

func (s *Suite) storedTokenRows() int {
	var count int
	err := s.Postgres.DB.QueryRow(`SELECT COUNT(*) FROM stored_tokens WHERE device_id = $1`, deviceID).Scan(&count)
	s.Require().NoError(err)
	return count
}

func (s *Suite) TestRecoverWithNothingStored() {
	status, raw := s.do(http.MethodPost, "/api/v1/session/recover", nil)
	s.Require().Equal(http.StatusOK, status, string(raw))

	body := s.decodeSession(raw)
	s.Equal(domain.StatusUnauthenticated, body.Status)
	s.Nil(body.User)
	s.Nil(body.Tokens)
}

func (s *Suite) TestEstablishThenRecoverFromTokenStore() {
	status, raw := s.do(http.MethodPut, "/api/v1/session", s.establishRequest("owner-1", time.Hour))
	s.Require().Equal(http.StatusOK, status, string(raw))

	established := s.decodeSession(raw)
	s.Equal(domain.StatusAuthenticated, established.Status)
	s.Require().NotNil(established.Tokens)
	s.Equal("owner-1", established.Tokens.UserID, "userId is filled from the user")
	s.NotNil(established.LastRefreshedAt)
	s.NotNil(established.NextRefreshAt)
	s.Equal(1, s.storedTokenRows())

	status, raw = s.do(http.MethodPost, "/api/v1/session/recover", nil)
	s.Require().Equal(http.StatusOK, status, string(raw))

	recovered := s.decodeSession(raw)
	s.Equal(domain.StatusAuthenticated, recovered.Status)
	s.Equal(domain.ProviderAmplify, recovered.Provider)
	s.Require().NotNil(recovered.User)
	s.Equal("owner-1", recovered.User.ID)
	s.Equal("owner-1@example.com", recovered.User.Email)
	s.Equal("Ada", recovered.User.FirstName)

	status, raw = s.do(http.MethodGet, "/api/v1/session", nil)
	s.Require().Equal(http.StatusOK, status)
	s.Equal(domain.StatusAuthenticated, s.decodeSession(raw).Status)
}

func (s *Suite) TestEstablishRejectsUnknownProvider() {
	req := s.establishRequest("owner-2", time.Hour)
	req.Tokens.Provider = "cognito"

	status, raw := s.do(http.MethodPut, "/api/v1/session", req)
	s.Equal(http.StatusBadRequest, status, string(raw))
	s.Equal(0, s.storedTokenRows())
}

func (s *Suite) TestRecoverMigratesLegacyTokens() {
	idToken := s.mintToken("legacy-owner", time.Hour)
	legacy := fmt.Sprintf(`{"idToken":%q,"accessToken":%q,"refreshToken":"r1"}`, idToken, idToken)

	ctx := context.Background()
	key := fmt.Sprintf("device:%s:%s", deviceID, repository.KeyLegacyAuthTokens)
	s.Require().NoError(s.Redis.Client.Set(ctx, key, legacy, 0).Err())

	status, raw := s.do(http.MethodPost, "/api/v1/session/recover", nil)
	s.Require().Equal(http.StatusOK, status, string(raw))

	body := s.decodeSession(raw)
	s.Equal(domain.StatusAuthenticated, body.Status)
	s.Equal(domain.ProviderAmplify, body.Provider, "legacy blobs without a provider are hosted sessions")
	s.Require().NotNil(body.Tokens)
	s.Equal("legacy-owner", body.Tokens.UserID)
	s.Equal(1, s.storedTokenRows())
}

func (s *Suite) TestSignOutClearsEverything() {
	status, raw := s.do(http.MethodPut, "/api/v1/session", s.establishRequest("owner-3", time.Hour))
	s.Require().Equal(http.StatusOK, status, string(raw))

	ctx := context.Background()
	pendingKey := fmt.Sprintf("device:%s:%s", deviceID, repository.KeyPendingProfilePayload)
	s.Require().NoError(s.Redis.Client.Set(ctx, pendingKey, `{"userId":"owner-3"}`, 0).Err())

	status, raw = s.do(http.MethodDelete, "/api/v1/session?clearPendingProfile=true", nil)
	s.Require().Equal(http.StatusOK, status, string(raw))

	s.Equal(0, s.storedTokenRows())

	userKey := fmt.Sprintf("device:%s:%s", deviceID, repository.KeyUserData)
	exists, err := s.Redis.Client.Exists(ctx, userKey, pendingKey).Result()
	s.Require().NoError(err)
	s.Zero(exists)

	status, raw = s.do(http.MethodGet, "/api/v1/session", nil)
	s.Require().Equal(http.StatusOK, status)
	body := s.decodeSession(raw)
	s.Equal(domain.StatusUnauthenticated, body.Status)
	s.Nil(body.NextRefreshAt)

	status, _ = s.do(http.MethodGet, "/api/v1/session/pending-profile", nil)
	s.Equal(http.StatusNotFound, status)
}

func (s *Suite) TestLifecycleState() {
	status, raw := s.do(http.MethodPost, "/api/v1/lifecycle/state", map[string]string{"state": "background"})
	s.Equal(http.StatusAccepted, status, string(raw))

	status, raw = s.do(http.MethodPost, "/api/v1/lifecycle/state", map[string]string{"state": "asleep"})
	s.Equal(http.StatusBadRequest, status, string(raw))
}

func (s *Suite) TestMarkRefreshed() {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC).UnixMilli()

	status, raw := s.do(http.MethodPost, "/api/v1/session/refreshed", map[string]int64{"timestamp": at})
	s.Require().Equal(http.StatusOK, status, string(raw))

	body := s.decodeSession(raw)
	s.Require().NotNil(body.LastRefreshedAt)
	s.Equal(at, *body.LastRefreshedAt)
}
