package domain

// User is the display identity of the signed-in pet owner. It is rebuilt on
// every recovery and cached under @user_data in the same camelCase shape the
// mobile app has always written.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FirstName    string `json:"firstName,omitempty"`
	LastName     string `json:"lastName,omitempty"`
	PhotoURL     string `json:"photoURL,omitempty"`
	ProfileToken string `json:"profileToken,omitempty"`
}

// PendingProfile is the in-flight "create your profile" payload kept while an
// identity exists without a domain profile
type PendingProfile struct {
	UserID       string   `json:"userId"`
	Email        string   `json:"email,omitempty"`
	Provider     Provider `json:"provider"`
	ProfileToken string   `json:"profileToken,omitempty"`
	CreatedAt    int64    `json:"createdAt"`
}
