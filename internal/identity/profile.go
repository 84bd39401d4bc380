package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ProfileStatusHTTPClient asks the backend whether a user has created a profile
type ProfileStatusHTTPClient struct {
	statusURL  string
	httpClient *http.Client
}

var _ ProfileStatusResolver = (*ProfileStatusHTTPClient)(nil)

// NewProfileStatusClient creates a profile status client for statusURL
func NewProfileStatusClient(statusURL string, timeout time.Duration) *ProfileStatusHTTPClient {
	return &ProfileStatusHTTPClient{
		statusURL:  statusURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchProfileStatus asks the backend whether a profile exists for the identity
func (c *ProfileStatusHTTPClient) FetchProfileStatus(ctx context.Context, r ProfileStatusRequest) (*ProfileStatus, error) {
	u, err := url.Parse(c.statusURL)
	if err != nil {
		return nil, fmt.Errorf("invalid profile status url: %w", err)
	}

	q := u.Query()
	q.Set("userId", r.UserID)
	if r.Email != "" {
		q.Set("email", r.Email)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("profile status returned status %d: %s", resp.StatusCode, string(body))
	}

	var status ProfileStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode profile status: %w", err)
	}

	return &status, nil
}
