package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"time"

	"userservice/internal/domain"
	"userservice/internal/ratelimit"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// RequestPasswordReset issues a single-use reset token for the account and
// mails the raw value. Only the SHA-256 hash is persisted; the raw token is
// never returned to the synchronous caller. A mail delivery failure is
// logged, not surfaced — the token stays valid and the user can retry.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)

	if err := s.limiter.Allow(ctx, ratelimit.ActionPasswordReset, email); err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	raw, hash, err := generateResetToken(s.cfg.ResetTokenPepper)
	if err != nil {
		return err
	}

	if err := s.resetTokens.Create(ctx, &domain.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: hash,
		ExpiresAt: time.Now().UTC().Add(s.cfg.ResetTokenTTL),
	}); err != nil {
		return err
	}

	if mailErr := s.mailer.SendPasswordReset(ctx, user.Email, s.cfg.ResetURLPrefix+raw); mailErr != nil {
		log.Printf("reset mail delivery failed: user_id=%d err=%v", user.ID, mailErr)
	}

	s.recordAudit(ctx, user.ID, "password_reset_request", "reset token issued", "")
	return nil
}

// ConfirmPasswordReset consumes a reset token and sets the new password.
// Consumption is at-most-once: the row delete inside the transaction is the
// arbiter, so two concurrent confirms with the same token yield exactly one
// success. Absent or expired tokens fail without side effects.
func (s *Service) ConfirmPasswordReset(ctx context.Context, rawToken, newPassword string) error {
	hash := hashResetToken(rawToken, s.cfg.ResetTokenPepper)
	now := time.Now().UTC()

	var userID int64
	err := s.users.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row domain.PasswordResetToken
		if err := tx.Where("token_hash = ?", hash).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrResetTokenInvalid
			}
			return err
		}

		if row.IsExpired(now) {
			return ErrResetTokenInvalid
		}

		// The delete decides the race: whoever removes the row wins.
		res := tx.Where("id = ?", row.ID).Delete(&domain.PasswordResetToken{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrResetTokenInvalid
		}

		newHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
		if err != nil {
			return err
		}

		if err := tx.Model(&domain.User{}).
			Where("id = ?", row.UserID).
			Updates(map[string]any{"password_hash": string(newHash), "updated_at": now}).Error; err != nil {
			return err
		}

		userID = row.UserID
		return nil
	})
	if err != nil {
		return err
	}

	s.recordAudit(ctx, userID, "password_reset_confirm", "password updated via reset token", "")
	return nil
}

func generateResetToken(pepper string) (raw string, hash string, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(buf)
	hash = hashResetToken(raw, pepper)
	return raw, hash, nil
}

func hashResetToken(raw, pepper string) string {
	sum := sha256.Sum256([]byte(raw + pepper))
	return hex.EncodeToString(sum[:])
}
