package repository

import (
	"context"

	"userservice/internal/domain"

	"gorm.io/gorm"
)

// AuditRepository records failed logins and security-relevant actions.
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) RecordFailedLogin(ctx context.Context, email, ip string) error {
	return r.db.WithContext(ctx).Create(&domain.FailedLoginAttempt{
		Email: normalizeEmail(email),
		IP:    ip,
	}).Error
}

func (r *AuditRepository) Record(ctx context.Context, entry *domain.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}
