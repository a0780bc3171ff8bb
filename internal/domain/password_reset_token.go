package domain

import "time"

// PasswordResetToken is the persisted half of a password reset challenge.
// Only the SHA-256 hash of the raw token is stored; the raw value is sent
// once by email and never retrievable afterwards. The row is deleted on
// successful consumption, so a token works at most once.
type PasswordResetToken struct {
	ID int64 `json:"id" gorm:"primaryKey"`

	UserID int64 `json:"user_id" gorm:"index;not null"`
	User   User  `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`

	TokenHash string `json:"-" gorm:"size:64;uniqueIndex;not null"`

	ExpiresAt time.Time `json:"expires_at" gorm:"index;not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (t *PasswordResetToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
