package auth

import (
	"context"
	"time"

	"userservice/internal/domain"

	"gorm.io/gorm"
)

// UserRepositoryInterface — only the methods the auth service uses
type UserRepositoryInterface interface {
	Create(ctx context.Context, u *domain.User) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	UpdatePasswordHash(ctx context.Context, userID int64, hash string) error
	DB() *gorm.DB // for the reset-consumption transaction
}

// SessionRepositoryInterface — storage for refresh-token sessions
type SessionRepositoryInterface interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByTokenID(ctx context.Context, tokenID string) (*domain.Session, error)
	Touch(ctx context.Context, tokenID string) error
	Logout(ctx context.Context, tokenID string) error
	SweepInactive(ctx context.Context, inactivityTTL time.Duration) (int64, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// ResetTokenRepositoryInterface — storage for password reset tokens
type ResetTokenRepositoryInterface interface {
	Create(ctx context.Context, t *domain.PasswordResetToken) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// AuditRepositoryInterface — failed logins and security events
type AuditRepositoryInterface interface {
	RecordFailedLogin(ctx context.Context, email, ip string) error
	Record(ctx context.Context, entry *domain.AuditLog) error
}

// RateLimiterInterface — fixed-window abuse control
type RateLimiterInterface interface {
	Allow(ctx context.Context, action, identifier string) error
	Reset(ctx context.Context, action, identifier string) error
}

// RevocationLedgerInterface — token blacklist writes (reads happen inside
// the token codec)
type RevocationLedgerInterface interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
}
