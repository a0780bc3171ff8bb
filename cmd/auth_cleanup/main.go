package main

import (
	"context"
	"log"
	"time"

	"userservice/internal/config"
	"userservice/internal/database"
	"userservice/internal/repository"

	"github.com/joho/godotenv"
)

// Cron-style maintenance: terminate inactive sessions, then drop sessions
// and reset tokens that are past their expiry.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}

	sessionRepo := repository.NewSessionRepository(db)
	resetRepo := repository.NewResetTokenRepository(db)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	swept, err := sessionRepo.SweepInactive(ctx, cfg.SessionInactivityTTL)
	if err != nil {
		log.Fatalf("session sweep failed: %v", err)
	}

	expiredSessions, err := sessionRepo.DeleteExpired(ctx)
	if err != nil {
		log.Fatalf("cleanup sessions failed: %v", err)
	}

	expiredResets, err := resetRepo.DeleteExpired(ctx)
	if err != nil {
		log.Fatalf("cleanup password_reset_tokens failed: %v", err)
	}

	log.Printf("auth cleanup completed: swept=%d sessions=%d password_reset_tokens=%d",
		swept, expiredSessions, expiredResets)
}
