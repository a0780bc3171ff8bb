package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"strings"
	"time"

	"userservice/internal/domain"
	"userservice/internal/mail"
	"userservice/internal/ratelimit"
	"userservice/internal/token"

	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// dummyHash keeps the bcrypt cost on the unknown-email path identical to
// the wrong-password path, so login timing does not leak which emails exist.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("timing-equalizer"), bcrypt.DefaultCost)

type tokenCodec interface {
	Issue(kind token.Kind, userID int64, email string, ttl time.Duration) (string, *token.Claims, error)
	Verify(ctx context.Context, raw string, kind token.Kind) (*token.Claims, error)
}

// Config carries the token and session lifetimes for the auth service.
type Config struct {
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	ResetTokenTTL        time.Duration
	ResetTokenPepper     string
	ResetURLPrefix       string
	SessionInactivityTTL time.Duration
}

// Service contains all business logic for the token lifecycle:
// register/login/logout/refresh and the password reset flow.
type Service struct {
	users       UserRepositoryInterface
	sessions    SessionRepositoryInterface
	resetTokens ResetTokenRepositoryInterface
	audit       AuditRepositoryInterface
	tokens      tokenCodec
	limiter     RateLimiterInterface
	ledger      RevocationLedgerInterface
	mailer      mail.Mailer
	cfg         Config
}

func NewService(
	users UserRepositoryInterface,
	sessions SessionRepositoryInterface,
	resetTokens ResetTokenRepositoryInterface,
	audit AuditRepositoryInterface,
	tokens tokenCodec,
	limiter RateLimiterInterface,
	ledger RevocationLedgerInterface,
	mailer mail.Mailer,
	cfg Config,
) *Service {
	return &Service{
		users:       users,
		sessions:    sessions,
		resetTokens: resetTokens,
		audit:       audit,
		tokens:      tokens,
		limiter:     limiter,
		ledger:      ledger,
		mailer:      mailer,
		cfg:         cfg,
	}
}

// Register creates a new identity and logs it in. The rate limit is checked
// before the uniqueness lookup: a limited caller learns nothing about which
// emails are taken.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*domain.User, *TokenPair, error) {
	email := normalizeEmail(req.Email)

	if err := s.limiter.Allow(ctx, ratelimit.ActionRegister, email); err != nil {
		return nil, nil, err
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		return nil, nil, ErrEmailAlreadyRegistered
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, err
	}

	user := &domain.User{
		Email:        email,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		// ExistsByEmail raced with a concurrent registration; the unique
		// index on email is the authority.
		if isUniqueViolation(err) {
			return nil, nil, ErrEmailAlreadyRegistered
		}
		return nil, nil, err
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	user.PasswordHash = ""
	return user, pair, nil
}

// Login authenticates by email and password. Unknown email and wrong
// password are indistinguishable to the caller; both cost one bcrypt
// comparison and both are recorded as failed attempts.
func (s *Service) Login(ctx context.Context, req LoginRequest, ip string) (*domain.User, *TokenPair, error) {
	email := normalizeEmail(req.Email)

	if err := s.limiter.Allow(ctx, ratelimit.ActionLogin, email); err != nil {
		return nil, nil, err
	}

	// Stale sessions must be terminated before any login decision.
	if _, err := s.sessions.SweepInactive(ctx, s.cfg.SessionInactivityTTL); err != nil {
		return nil, nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
			s.recordFailedLogin(ctx, email, ip)
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.recordFailedLogin(ctx, email, ip)
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	user.PasswordHash = ""
	return user, pair, nil
}

// Logout terminates the session behind a refresh token and blacklists its
// identifier for the token's remaining lifetime. Repeated logout, logout of
// an expired token, and logout without a backing session are all no-ops.
func (s *Service) Logout(ctx context.Context, refreshRaw string) error {
	claims, err := s.tokens.Verify(ctx, refreshRaw, token.KindRefresh)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrTokenRevoked), errors.Is(err, token.ErrTokenExpired):
			return nil
		case errors.Is(err, token.ErrTokenInvalid):
			return token.ErrTokenInvalid
		default:
			return err
		}
	}

	if err := s.sessions.Logout(ctx, claims.ID); err != nil {
		return err
	}

	if err := s.ledger.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt.Time)); err != nil {
		return err
	}

	s.recordAudit(ctx, claims.UserID, "logout", "refresh token revoked", "")
	return nil
}

// Refresh exchanges a live refresh token for a new access token. The
// refresh token itself is not rotated; it stays valid until its own expiry
// or logout.
func (s *Service) Refresh(ctx context.Context, refreshRaw string) (*TokenPair, error) {
	if err := s.limiter.Allow(ctx, ratelimit.ActionRefreshToken, tokenFingerprint(refreshRaw)); err != nil {
		return nil, err
	}

	if _, err := s.sessions.SweepInactive(ctx, s.cfg.SessionInactivityTTL); err != nil {
		return nil, err
	}

	claims, err := s.tokens.Verify(ctx, refreshRaw, token.KindRefresh)
	if err != nil {
		return nil, err
	}

	sess, err := s.sessions.GetByTokenID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, token.ErrTokenInvalid
		}
		return nil, err
	}
	if sess.IsLoggedOut() {
		// Swept or raced with logout; make the ledger agree so every
		// replica rejects the token from now on.
		_ = s.ledger.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt.Time))
		return nil, token.ErrTokenRevoked
	}

	if err := s.sessions.Touch(ctx, claims.ID); err != nil {
		return nil, err
	}

	access, _, err := s.tokens.Issue(token.KindAccess, claims.UserID, claims.Email, s.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: access, TokenType: "bearer"}, nil
}

// GetCurrentUser resolves the subject of a validated access token.
func (s *Service) GetCurrentUser(ctx context.Context, userID int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	user.PasswordHash = ""
	return user, nil
}

// issueTokenPair issues access+refresh and persists the session. Session
// persistence failure fails the whole operation: no refresh token leaves
// this function without a session row backing it.
func (s *Service) issueTokenPair(ctx context.Context, user *domain.User) (*TokenPair, error) {
	access, _, err := s.tokens.Issue(token.KindAccess, user.ID, user.Email, s.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}

	refresh, refreshClaims, err := s.tokens.Issue(token.KindRefresh, user.ID, user.Email, s.cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.sessions.Create(ctx, &domain.Session{
		UserID:         user.ID,
		RefreshTokenID: refreshClaims.ID,
		LastActiveAt:   now,
		ExpiresAt:      refreshClaims.ExpiresAt.Time,
	}); err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

func (s *Service) recordFailedLogin(ctx context.Context, email, ip string) {
	if err := s.audit.RecordFailedLogin(ctx, email, ip); err != nil {
		log.Printf("failed login audit write failed: %v", err)
	}
}

func (s *Service) recordAudit(ctx context.Context, userID int64, action, details, ip string) {
	if err := s.audit.Record(ctx, &domain.AuditLog{
		UserID:    userID,
		Action:    action,
		Details:   details,
		IPAddress: ip,
	}); err != nil {
		log.Printf("audit write failed: action=%s err=%v", action, err)
	}
}

// tokenFingerprint derives a stable opaque identifier for rate limiting a
// not-yet-verified refresh token.
func tokenFingerprint(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// isUniqueViolation detects a duplicate-key error from either backing
// store: SQLSTATE 23505 on PostgreSQL, constraint message on SQLite.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
