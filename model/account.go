package model

import "time"

// PlatformAccount links a user to their Spotify account. The refresh token
// is stored sealed; only the token manager ever sees the plaintext.
type PlatformAccount struct {
	UserID          int64      `json:"userId"`
	PlatformUserID  string     `json:"platformUserId"`
	RefreshTokenEnc []byte     `json:"-"`
	Scope           string     `json:"scope"`
	TokenRotatedAt  *time.Time `json:"tokenRotatedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}
