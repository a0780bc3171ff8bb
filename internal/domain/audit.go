package domain

import "time"

// FailedLoginAttempt records a rejected login for abuse review.
type FailedLoginAttempt struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	Email     string    `json:"email" gorm:"index;not null"`
	IP        string    `json:"ip"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditLog records security-relevant actions (logout, password reset).
type AuditLog struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	UserID    int64     `json:"user_id" gorm:"index"`
	Action    string    `json:"action" gorm:"index;not null"`
	Details   string    `json:"details"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
}
