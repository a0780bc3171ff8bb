package repository

import (
	"context"
	"time"

	"userservice/internal/domain"

	"gorm.io/gorm"
)

// SessionRepository provides DB access for refresh-token sessions.
// RefreshTokenID is unique-indexed: lookup by token identifier is the hot
// path for logout and refresh.
type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *SessionRepository) GetByTokenID(ctx context.Context, tokenID string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("refresh_token_id = ?", tokenID).First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Touch advances last activity. The logged_out_at guard keeps terminated
// sessions terminal even when a touch races with logout.
func (r *SessionRepository) Touch(ctx context.Context, tokenID string) error {
	return r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("refresh_token_id = ? AND logged_out_at IS NULL", tokenID).
		Update("last_active_at", time.Now().UTC()).Error
}

// Logout marks the session terminated. Idempotent: a session already logged
// out is left untouched and no error is returned.
func (r *SessionRepository) Logout(ctx context.Context, tokenID string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("refresh_token_id = ? AND logged_out_at IS NULL", tokenID).
		Update("logged_out_at", now).Error
}

// SweepInactive terminates every live session whose last activity is older
// than inactivityTTL. Returns the number of sessions swept.
func (r *SessionRepository) SweepInactive(ctx context.Context, inactivityTTL time.Duration) (int64, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-inactivityTTL)
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("logged_out_at IS NULL AND last_active_at < ?", cutoff).
		Update("logged_out_at", now)
	return res.RowsAffected, res.Error
}

// DeleteExpired removes sessions whose refresh token has expired; used by
// the cleanup binary.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ?", time.Now().UTC()).
		Delete(&domain.Session{})
	return res.RowsAffected, res.Error
}
