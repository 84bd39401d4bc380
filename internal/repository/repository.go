package repository

import (
	"github.com/prperemyshlev/session-service/internal/utils"
	"github.com/prperemyshlev/session-service/pkg/database"
)

// Repositories holds all repositories of one device
type Repositories struct {
	KeyValue KeyValueRepository
	Token    TokenRepository
}

// NewRepositories creates all repositories scoped to deviceID
func NewRepositories(db *database.Postgres, redis *database.Redis, sealer *utils.Sealer, deviceID string) *Repositories {
	return &Repositories{
		KeyValue: NewKeyValueRepository(redis, deviceID),
		Token:    NewTokenRepository(db, sealer, deviceID),
	}
}
