package dto

import "github.com/prperemyshlev/session-service/internal/domain"

// EstablishSessionRequest carries a session produced by a sign-in flow
type EstablishSessionRequest struct {
	User   UserPayload   `json:"user"`
	Tokens TokensPayload `json:"tokens"`
}

type UserPayload struct {
	ID           string `json:"id"`
	Email        string `json:"email" binding:"omitempty,email"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	PhotoURL     string `json:"photoURL"`
	ProfileToken string `json:"profileToken"`
}

type TokensPayload struct {
	IDToken      string `json:"idToken" binding:"required"`
	AccessToken  string `json:"accessToken" binding:"required"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt" binding:"gte=0"`
	UserID       string `json:"userId"`
	Provider     string `json:"provider" binding:"required,oneof=amplify firebase"`
}

// ToDomain converts the request into the session's user and token set
func (r EstablishSessionRequest) ToDomain() (*domain.User, *domain.AuthTokens) {
	user := &domain.User{
		ID:           r.User.ID,
		Email:        r.User.Email,
		FirstName:    r.User.FirstName,
		LastName:     r.User.LastName,
		PhotoURL:     r.User.PhotoURL,
		ProfileToken: r.User.ProfileToken,
	}
	tokens := &domain.AuthTokens{
		IDToken:      r.Tokens.IDToken,
		AccessToken:  r.Tokens.AccessToken,
		RefreshToken: r.Tokens.RefreshToken,
		ExpiresAt:    r.Tokens.ExpiresAt,
		UserID:       r.Tokens.UserID,
		Provider:     domain.Provider(r.Tokens.Provider),
	}
	return user, tokens
}

// MarkRefreshedRequest optionally carries the refresh instant in epoch ms
type MarkRefreshedRequest struct {
	Timestamp int64 `json:"timestamp" binding:"gte=0"`
}

// AppStateRequest reports a mobile app lifecycle transition
type AppStateRequest struct {
	State string `json:"state" binding:"required,oneof=active background inactive"`
}

// SignOutQuery is bound from the DELETE /session query string
type SignOutQuery struct {
	ClearPendingProfile bool `form:"clearPendingProfile"`
}
