package domain

import "time"

// Session tracks the lifetime of one refresh token.
//
// Security notes:
// - RefreshTokenID is the token's jti claim, not the raw token.
// - A session with a non-nil LoggedOutAt is terminal: it never accepts
//   further activity and cannot be used for refresh.
type Session struct {
	ID int64 `json:"id" gorm:"primaryKey"`

	UserID int64 `json:"user_id" gorm:"index;not null"`
	User   User  `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`

	RefreshTokenID string `json:"-" gorm:"size:36;uniqueIndex;not null"`

	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt time.Time  `json:"last_active_at" gorm:"index;not null"`
	LoggedOutAt  *time.Time `json:"logged_out_at" gorm:"index"`
	ExpiresAt    time.Time  `json:"expires_at" gorm:"index;not null"`
}

func (s *Session) IsLoggedOut() bool {
	return s.LoggedOutAt != nil
}

func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
