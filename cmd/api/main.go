package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"userservice/internal/cache"
	"userservice/internal/config"
	"userservice/internal/database"
	"userservice/internal/domain"
	"userservice/internal/mail"
	"userservice/internal/middleware"
	"userservice/internal/modules/auth"
	"userservice/internal/ratelimit"
	"userservice/internal/repository"
	"userservice/internal/revocation"
	"userservice/internal/token"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}

	if err := db.AutoMigrate(
		&domain.User{},
		&domain.Session{},
		&domain.PasswordResetToken{},
		&domain.FailedLoginAttempt{},
		&domain.AuditLog{},
	); err != nil {
		log.Fatal("AutoMigrate failed:", err)
	}

	redisClient, err := cache.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = redisClient.Close() }()

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	resetRepo := repository.NewResetTokenRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	ledger := revocation.NewLedger(redisClient)
	limiter := ratelimit.NewLimiter(redisClient, ratelimit.DefaultRules())
	tokens := token.New(cfg.JWTSecret, ledger)

	var mailer mail.Mailer
	if cfg.MailEnabled {
		mailer = mail.NewSMTP(cfg.SMTPAddr, cfg.SMTPUser, cfg.SMTPPassword, cfg.MailFrom)
	} else {
		mailer = mail.NewDevConsoleMailer(true)
	}

	authService := auth.NewService(
		userRepo, sessionRepo, resetRepo, auditRepo,
		tokens, limiter, ledger, mailer,
		auth.Config{
			AccessTTL:            cfg.AccessTTL,
			RefreshTTL:           cfg.RefreshTTL,
			ResetTokenTTL:        cfg.ResetTokenTTL,
			ResetTokenPepper:     cfg.ResetTokenPepper,
			ResetURLPrefix:       cfg.ResetURLPrefix,
			SessionInactivityTTL: cfg.SessionInactivityTTL,
		},
	)
	authHandler := auth.NewHandler(authService)

	go runSessionSweeper(sessionRepo, cfg.SessionInactivityTTL, cfg.SweepInterval)

	r := gin.Default()
	r.Use(middleware.ErrorLogger())

	v1 := r.Group("/api/v1")
	{
		authHandler.RegisterPublicRoutes(v1)

		protected := v1.Group("/")
		protected.Use(middleware.AccessAuth(tokens))
		{
			authHandler.RegisterProtectedRoutes(protected)
		}
	}

	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatal(err)
	}
}

// runSessionSweeper periodically terminates inactive sessions. Login and
// refresh sweep on their own before deciding; this loop just keeps the
// table from accumulating stale live sessions between requests.
func runSessionSweeper(sessions *repository.SessionRepository, inactivityTTL, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		swept, err := sessions.SweepInactive(ctx, inactivityTTL)
		cancel()
		if err != nil {
			log.Printf("session sweep failed: %v", err)
			continue
		}
		if swept > 0 {
			log.Printf("session sweep: terminated %d inactive sessions", swept)
		}
	}
}
