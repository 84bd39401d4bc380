package domain

// SessionStatus is the kind of a recovery outcome
type SessionStatus string

const (
	StatusAuthenticated   SessionStatus = "authenticated"
	StatusPendingProfile  SessionStatus = "pendingProfile"
	StatusUnauthenticated SessionStatus = "unauthenticated"
)

// SessionOutcome is the result of a session recovery. Which fields are set
// depends on Status:
//   - authenticated: User, Tokens, Provider
//   - pendingProfile: Tokens, Provider, ProfileToken
//   - unauthenticated: none
type SessionOutcome struct {
	Status       SessionStatus `json:"status"`
	User         *User         `json:"user,omitempty"`
	Tokens       *AuthTokens   `json:"tokens,omitempty"`
	Provider     Provider      `json:"provider,omitempty"`
	ProfileToken string        `json:"profileToken,omitempty"`
}

// Authenticated builds the outcome of a fully recovered session
func Authenticated(user *User, tokens *AuthTokens, provider Provider) *SessionOutcome {
	return &SessionOutcome{
		Status:   StatusAuthenticated,
		User:     user,
		Tokens:   tokens,
		Provider: provider,
	}
}

// PendingProfileOutcome builds the outcome of a signed-in user with no profile yet
func PendingProfileOutcome(tokens *AuthTokens, provider Provider, profileToken string) *SessionOutcome {
	return &SessionOutcome{
		Status:       StatusPendingProfile,
		Tokens:       tokens,
		Provider:     provider,
		ProfileToken: profileToken,
	}
}

// Unauthenticated builds the outcome of a device with no session
func Unauthenticated() *SessionOutcome {
	return &SessionOutcome{Status: StatusUnauthenticated}
}

// IsAuthenticated reports whether the device holds a usable session
func (o *SessionOutcome) IsAuthenticated() bool {
	return o != nil && o.Status == StatusAuthenticated
}
