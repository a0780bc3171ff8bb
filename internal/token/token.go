package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes the two JWT families the service issues. Access and
// refresh differ only in TTL and in whether a session backs them; the codec
// itself does not persist anything. Password reset tokens are opaque random
// values, not JWTs, and never pass through this package.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token revoked")
)

// Ledger is the revocation lookup consulted on every verify.
type Ledger interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type Claims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Kind   string `json:"kind"`
	jwtlib.RegisteredClaims
}

type Service struct {
	secret []byte
	ledger Ledger
}

func New(secret string, ledger Ledger) *Service {
	return &Service{
		secret: []byte(secret),
		ledger: ledger,
	}
}

// Issue signs a token of the given kind. The jti claim is the token's
// identifier everywhere else in the system (session rows, blacklist keys).
func (s *Service) Issue(kind Kind, userID int64, email string, ttl time.Duration) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Email:  email,
		Kind:   string(kind),
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}

	raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, err
	}
	return raw, claims, nil
}

// Verify checks signature and expiry, then consults the revocation ledger.
// Callers can tell the three failure families apart with errors.Is:
// ErrTokenExpired, ErrTokenInvalid (malformed, bad signature, wrong kind)
// and ErrTokenRevoked. Ledger lookup failures fail closed.
func (s *Service) Verify(ctx context.Context, raw string, kind Kind) (*Claims, error) {
	parsed, err := jwtlib.ParseWithClaims(raw, &Claims{}, func(t *jwtlib.Token) (any, error) {
		return s.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Kind != string(kind) {
		return nil, ErrTokenInvalid
	}
	if claims.ID == "" {
		return nil, ErrTokenInvalid
	}

	revoked, err := s.ledger.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("revocation check failed: %w", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	return claims, nil
}
