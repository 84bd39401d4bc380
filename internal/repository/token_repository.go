package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prperemyshlev/session-service/internal/domain"
	"github.com/prperemyshlev/session-service/internal/utils"
	"github.com/prperemyshlev/session-service/pkg/database"
)

// tokenRepository implements TokenRepository on PostgreSQL. The token set is
// stored sealed; user id, provider and expiry are kept in clear columns for
// housekeeping queries.
type tokenRepository struct {
	db       *database.Postgres
	sealer   *utils.Sealer
	deviceID string
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db *database.Postgres, sealer *utils.Sealer, deviceID string) TokenRepository {
	return &tokenRepository{db: db, sealer: sealer, deviceID: deviceID}
}

// Store upserts the device's token set and returns what was stored
func (r *tokenRepository) Store(ctx context.Context, tokens *domain.AuthTokens) (*domain.AuthTokens, error) {
	if tokens.Provider == "" {
		return nil, ErrMissingProvider
	}
	if tokens.UserID == "" {
		return nil, ErrMissingUserID
	}

	payload, err := json.Marshal(tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tokens: %w", err)
	}

	sealed, err := r.sealer.Seal(payload, []byte(r.deviceID))
	if err != nil {
		return nil, fmt.Errorf("failed to seal tokens: %w", err)
	}

	var expiresAt sql.NullTime
	if exp := tokens.Expiry(); !exp.IsZero() {
		expiresAt = sql.NullTime{Time: exp, Valid: true}
	}

	query := `
		INSERT INTO stored_tokens (device_id, user_id, provider, sealed_tokens, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (device_id) DO UPDATE
		SET user_id = EXCLUDED.user_id,
			provider = EXCLUDED.provider,
			sealed_tokens = EXCLUDED.sealed_tokens,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.DB.ExecContext(ctx, query,
		r.deviceID,
		tokens.UserID,
		string(tokens.Provider),
		sealed,
		expiresAt,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store tokens: %w", err)
	}

	stored := *tokens
	return &stored, nil
}

// Load retrieves the device's token set
func (r *tokenRepository) Load(ctx context.Context) (*domain.AuthTokens, error) {
	query := `
		SELECT sealed_tokens
		FROM stored_tokens
		WHERE device_id = $1
	`

	var sealed []byte
	err := r.db.DB.QueryRowContext(ctx, query, r.deviceID).Scan(&sealed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tokens for device %s not found: %w", r.deviceID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}

	payload, err := r.sealer.Open(sealed, []byte(r.deviceID))
	if err != nil {
		return nil, fmt.Errorf("failed to open stored tokens: %w", err)
	}

	var tokens domain.AuthTokens
	if err := json.Unmarshal(payload, &tokens); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored tokens: %w", err)
	}

	return &tokens, nil
}

// Clear deletes the device's token set. Clearing an empty store is not an error.
func (r *tokenRepository) Clear(ctx context.Context) error {
	query := `DELETE FROM stored_tokens WHERE device_id = $1`

	if _, err := r.db.DB.ExecContext(ctx, query, r.deviceID); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}

	return nil
}
