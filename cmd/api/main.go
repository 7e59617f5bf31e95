package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aurax-platform/identity-api/internal/application/otp"
	"github.com/aurax-platform/identity-api/internal/config"
	"github.com/aurax-platform/identity-api/internal/infrastructure/dynamo"
	"github.com/aurax-platform/identity-api/internal/infrastructure/instagram"
	jwtinfra "github.com/aurax-platform/identity-api/internal/infrastructure/jwt"
	s3infra "github.com/aurax-platform/identity-api/internal/infrastructure/s3"
	"github.com/aurax-platform/identity-api/internal/infrastructure/smtp"
	"github.com/aurax-platform/identity-api/internal/infrastructure/sns"
	"github.com/aurax-platform/identity-api/internal/metrics"
	transporthttp "github.com/aurax-platform/identity-api/internal/transport/http"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(cfg)
	dynamo.Bootstrap(context.Background(), dynamoClient, cfg.DynamoTables)

	// JWT provider (optional — graceful fallback if keys are missing).
	var jwtProvider *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		jwtProvider = p
	} else {
		log.Printf("WARN: JWT provider not available: %v", err)
	}

	// S3 avatar mirror.
	s3Client := s3infra.NewClient(cfg)
	avatarStore := s3infra.NewStore(s3Client, cfg.S3BucketName)

	// SMTP mailer delivers OTP codes.
	mailer := smtp.NewMailer(cfg)

	// SNS ops notifications (optional — graceful fallback).
	var ops sns.OpsPublisher
	if p, err := sns.NewPublisher(cfg); err == nil {
		ops = p
	} else {
		log.Printf("WARN: SNS publisher not available: %v", err)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	otpRepo := dynamo.NewOTPRepo(dynamoClient, cfg.DynamoTables.OTPTokens)

	deps := &transporthttp.Deps{
		UserRepo:    dynamo.NewUserRepo(dynamoClient, cfg.DynamoTables.Users),
		OTPRepo:     otpRepo,
		AvatarStore: avatarStore,
		Mailer:      mailer,
		Ops:         ops,
		JWTProvider: jwtProvider,
		Instagram:   instagram.NewClient(cfg.Instagram),
		Metrics:     collector,
		Registry:    registry,
	}

	router := transporthttp.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Periodic sweep of dead OTP records, alongside the table's native TTL.
	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	defer stopCleanup()
	go runCleanup(cleanupCtx, otp.NewService(otpRepo, mailer, cfg.OTP, collector), cfg.OTP.CleanupInterval)

	go func() {
		log.Printf("Server starting on :%s (env=%s)", cfg.AppPort, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}

func runCleanup(ctx context.Context, svc otp.Service, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.CleanupExpired(ctx); err != nil {
				slog.Error("otp cleanup sweep failed", "error", err)
			}
		}
	}
}
