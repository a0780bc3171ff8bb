package auth

import (
	"context"
	"testing"
	"time"

	"userservice/internal/domain"
	"userservice/internal/ratelimit"
	"userservice/internal/revocation"
	"userservice/internal/token"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Mock User Repository implementing the interface
type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) Create(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *mockUserRepo) UpdatePasswordHash(ctx context.Context, userID int64, hash string) error {
	args := m.Called(ctx, userID, hash)
	return args.Error(0)
}

func (m *mockUserRepo) DB() *gorm.DB {
	return &gorm.DB{} // dummy; reset flow is covered by the sqlite flow tests
}

// Mock Session Repository
type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) Create(ctx context.Context, s *domain.Session) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *mockSessionRepo) GetByTokenID(ctx context.Context, tokenID string) (*domain.Session, error) {
	args := m.Called(ctx, tokenID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *mockSessionRepo) Touch(ctx context.Context, tokenID string) error {
	args := m.Called(ctx, tokenID)
	return args.Error(0)
}

func (m *mockSessionRepo) Logout(ctx context.Context, tokenID string) error {
	args := m.Called(ctx, tokenID)
	return args.Error(0)
}

func (m *mockSessionRepo) SweepInactive(ctx context.Context, ttl time.Duration) (int64, error) {
	args := m.Called(ctx, ttl)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// Mock Reset Token Repository
type mockResetRepo struct {
	mock.Mock
}

func (m *mockResetRepo) Create(ctx context.Context, t *domain.PasswordResetToken) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *mockResetRepo) DeleteExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// Mock Audit Repository
type mockAuditRepo struct {
	mock.Mock
}

func (m *mockAuditRepo) RecordFailedLogin(ctx context.Context, email, ip string) error {
	args := m.Called(ctx, email, ip)
	return args.Error(0)
}

func (m *mockAuditRepo) Record(ctx context.Context, entry *domain.AuditLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

type testEnv struct {
	svc      *Service
	users    *mockUserRepo
	sessions *mockSessionRepo
	resets   *mockResetRepo
	audit    *mockAuditRepo
	tokens   *token.Service
	ledger   *revocation.Ledger
}

func newTestEnv(t *testing.T, rules map[string]ratelimit.Rule) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ledger := revocation.NewLedger(client)
	tokens := token.New("test_secret_key_32_characters_min", ledger)

	env := &testEnv{
		users:    new(mockUserRepo),
		sessions: new(mockSessionRepo),
		resets:   new(mockResetRepo),
		audit:    new(mockAuditRepo),
		tokens:   tokens,
		ledger:   ledger,
	}

	env.svc = NewService(
		env.users, env.sessions, env.resets, env.audit,
		tokens, ratelimit.NewLimiter(client, rules), ledger,
		nil, // no mailer in these tests; reset flow is tested elsewhere
		Config{
			AccessTTL:            15 * time.Minute,
			RefreshTTL:           7 * 24 * time.Hour,
			ResetTokenTTL:        15 * time.Minute,
			ResetTokenPepper:     "test-pepper",
			ResetURLPrefix:       "https://app.local/reset?token=",
			SessionInactivityTTL: 72 * time.Hour,
		},
	)
	return env
}

func TestService_Register_Success(t *testing.T) {
	env := newTestEnv(t, nil)

	env.users.On("ExistsByEmail", mock.Anything, "test@example.com").Return(false, nil)
	env.users.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(*domain.User).ID = 1
	}).Return(nil)
	env.sessions.On("Create", mock.Anything, mock.Anything).Return(nil)

	user, pair, err := env.svc.Register(context.Background(), RegisterRequest{
		Email:    " Test@Example.com ",
		Password: "securepass123",
		FullName: "Test User",
	})

	require.NoError(t, err)
	assert.Equal(t, "test@example.com", user.Email)
	assert.Empty(t, user.PasswordHash)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	// access token subject matches the registered identity
	claims, err := env.tokens.Verify(context.Background(), pair.AccessToken, token.KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "test@example.com", claims.Email)

	env.users.AssertExpectations(t)
	env.sessions.AssertExpectations(t)
}

func TestService_Register_EmailExists(t *testing.T) {
	env := newTestEnv(t, nil)

	env.users.On("ExistsByEmail", mock.Anything, "exists@example.com").Return(true, nil)

	_, _, err := env.svc.Register(context.Background(), RegisterRequest{
		Email:    "exists@example.com",
		Password: "securepass123",
		FullName: "Someone",
	})

	assert.ErrorIs(t, err, ErrEmailAlreadyRegistered)
	env.users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestService_Register_RateLimitedSkipsUniquenessCheck(t *testing.T) {
	env := newTestEnv(t, map[string]ratelimit.Rule{
		ratelimit.ActionRegister: {MaxAttempts: 1, Window: time.Hour},
	})
	ctx := context.Background()

	env.users.On("ExistsByEmail", mock.Anything, "a@x.com").Return(true, nil).Once()

	_, _, err := env.svc.Register(ctx, RegisterRequest{Email: "a@x.com", Password: "securepass123", FullName: "A"})
	require.ErrorIs(t, err, ErrEmailAlreadyRegistered)

	_, _, err = env.svc.Register(ctx, RegisterRequest{Email: "a@x.com", Password: "securepass123", FullName: "A"})
	require.ErrorIs(t, err, ratelimit.ErrRateLimited)

	// the cheap check comes first: no second uniqueness lookup when limited
	env.users.AssertNumberOfCalls(t, "ExistsByEmail", 1)
}

func TestService_Login_Success(t *testing.T) {
	env := newTestEnv(t, nil)

	hashed, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	existing := &domain.User{
		ID:           10,
		Email:        "user@example.com",
		PasswordHash: string(hashed),
		IsActive:     true,
	}

	env.sessions.On("SweepInactive", mock.Anything, mock.Anything).Return(int64(0), nil)
	env.users.On("GetByEmail", mock.Anything, "user@example.com").Return(existing, nil)
	env.sessions.On("Create", mock.Anything, mock.Anything).Return(nil)

	user, pair, err := env.svc.Login(context.Background(), LoginRequest{
		Email:    "user@example.com",
		Password: "password123",
	}, "192.0.2.1")

	require.NoError(t, err)
	assert.Equal(t, int64(10), user.ID)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	env.sessions.AssertExpectations(t)
}

func TestService_Login_WrongPassword(t *testing.T) {
	env := newTestEnv(t, nil)

	hashed, _ := bcrypt.GenerateFromPassword([]byte("right-password"), bcrypt.DefaultCost)
	existing := &domain.User{ID: 10, Email: "user@example.com", PasswordHash: string(hashed)}

	env.sessions.On("SweepInactive", mock.Anything, mock.Anything).Return(int64(0), nil)
	env.users.On("GetByEmail", mock.Anything, "user@example.com").Return(existing, nil)
	env.audit.On("RecordFailedLogin", mock.Anything, "user@example.com", "192.0.2.1").Return(nil)

	_, _, err := env.svc.Login(context.Background(), LoginRequest{
		Email:    "user@example.com",
		Password: "wrong-password",
	}, "192.0.2.1")

	assert.ErrorIs(t, err, ErrInvalidCredentials)
	env.audit.AssertExpectations(t)
}

func TestService_Login_UnknownEmailSameError(t *testing.T) {
	env := newTestEnv(t, nil)

	env.sessions.On("SweepInactive", mock.Anything, mock.Anything).Return(int64(0), nil)
	env.users.On("GetByEmail", mock.Anything, "ghost@example.com").Return(nil, gorm.ErrRecordNotFound)
	env.audit.On("RecordFailedLogin", mock.Anything, "ghost@example.com", "192.0.2.1").Return(nil)

	_, _, err := env.svc.Login(context.Background(), LoginRequest{
		Email:    "ghost@example.com",
		Password: "whatever123",
	}, "192.0.2.1")

	// unknown email and wrong password are indistinguishable
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	env.audit.AssertExpectations(t)
}

func TestService_Login_RateLimited(t *testing.T) {
	env := newTestEnv(t, map[string]ratelimit.Rule{
		ratelimit.ActionLogin: {MaxAttempts: 2, Window: time.Minute},
	})
	ctx := context.Background()

	hashed, _ := bcrypt.GenerateFromPassword([]byte("right-password"), bcrypt.DefaultCost)
	existing := &domain.User{ID: 10, Email: "user@example.com", PasswordHash: string(hashed)}

	env.sessions.On("SweepInactive", mock.Anything, mock.Anything).Return(int64(0), nil)
	env.users.On("GetByEmail", mock.Anything, "user@example.com").Return(existing, nil)
	env.audit.On("RecordFailedLogin", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	req := LoginRequest{Email: "user@example.com", Password: "wrong"}
	_, _, err := env.svc.Login(ctx, req, "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = env.svc.Login(ctx, req, "")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	// correct password no longer helps inside the window
	_, _, err = env.svc.Login(ctx, LoginRequest{Email: "user@example.com", Password: "right-password"}, "")
	assert.ErrorIs(t, err, ratelimit.ErrRateLimited)
}

func TestService_Logout_RevokesRefreshToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	refresh, claims, err := env.tokens.Issue(token.KindRefresh, 10, "user@example.com", time.Hour)
	require.NoError(t, err)

	env.sessions.On("Logout", mock.Anything, claims.ID).Return(nil)
	env.audit.On("Record", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, env.svc.Logout(ctx, refresh))

	_, err = env.tokens.Verify(ctx, refresh, token.KindRefresh)
	assert.ErrorIs(t, err, token.ErrTokenRevoked)

	// repeated logout is a no-op, not an error
	assert.NoError(t, env.svc.Logout(ctx, refresh))
	env.sessions.AssertNumberOfCalls(t, "Logout", 1)
}

func TestService_Logout_MalformedToken(t *testing.T) {
	env := newTestEnv(t, nil)

	err := env.svc.Logout(context.Background(), "garbage")
	assert.ErrorIs(t, err, token.ErrTokenInvalid)
}

func TestService_Refresh_IssuesNewAccessTokenOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	refresh, claims, err := env.tokens.Issue(token.KindRefresh, 10, "user@example.com", time.Hour)
	require.NoError(t, err)

	env.sessions.On("SweepInactive", mock.Anything, mock.Anything).Return(int64(0), nil)
	env.sessions.On("GetByTokenID", mock.Anything, claims.ID).Return(&domain.Session{
		UserID:         10,
		RefreshTokenID: claims.ID,
		LastActiveAt:   time.Now(),
		ExpiresAt:      time.Now().Add(time.Hour),
	}, nil)
	env.sessions.On("Touch", mock.Anything, claims.ID).Return(nil)

	pair, err := env.svc.Refresh(ctx, refresh)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.Empty(t, pair.RefreshToken) // no rotation

	accessClaims, err := env.tokens.Verify(ctx, pair.AccessToken, token.KindAccess)
	require.NoError(t, err)
	assert.Equal(t, int64(10), accessClaims.UserID)
	env.sessions.AssertExpectations(t)
}

func TestService_Refresh_LoggedOutSession(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	refresh, claims, err := env.tokens.Issue(token.KindRefresh, 10, "user@example.com", time.Hour)
	require.NoError(t, err)

	loggedOut := time.Now().Add(-time.Minute)
	env.sessions.On("SweepInactive", mock.Anything, mock.Anything).Return(int64(0), nil)
	env.sessions.On("GetByTokenID", mock.Anything, claims.ID).Return(&domain.Session{
		UserID:         10,
		RefreshTokenID: claims.ID,
		LoggedOutAt:    &loggedOut,
		ExpiresAt:      time.Now().Add(time.Hour),
	}, nil)

	_, err = env.svc.Refresh(ctx, refresh)
	assert.ErrorIs(t, err, token.ErrTokenRevoked)

	// the ledger was brought in line with the session state
	_, err = env.tokens.Verify(ctx, refresh, token.KindRefresh)
	assert.ErrorIs(t, err, token.ErrTokenRevoked)
}

func TestService_Refresh_NoBackingSession(t *testing.T) {
	env := newTestEnv(t, nil)

	refresh, claims, err := env.tokens.Issue(token.KindRefresh, 10, "user@example.com", time.Hour)
	require.NoError(t, err)

	env.sessions.On("SweepInactive", mock.Anything, mock.Anything).Return(int64(0), nil)
	env.sessions.On("GetByTokenID", mock.Anything, claims.ID).Return(nil, gorm.ErrRecordNotFound)

	_, err = env.svc.Refresh(context.Background(), refresh)
	assert.ErrorIs(t, err, token.ErrTokenInvalid)
}

func TestService_Refresh_ExpiredToken(t *testing.T) {
	env := newTestEnv(t, nil)

	refresh, _, err := env.tokens.Issue(token.KindRefresh, 10, "user@example.com", -time.Minute)
	require.NoError(t, err)

	env.sessions.On("SweepInactive", mock.Anything, mock.Anything).Return(int64(0), nil)

	_, err = env.svc.Refresh(context.Background(), refresh)
	assert.ErrorIs(t, err, token.ErrTokenExpired)
}
