package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"partnerflow/auth"
	"partnerflow/click"
	"partnerflow/db"
	"partnerflow/earnings"
	"partnerflow/link"
	"partnerflow/logging"
	"partnerflow/message"
	"partnerflow/outbox"
	"partnerflow/partner"
	"partnerflow/project"
	"partnerflow/withdrawal"

	"github.com/shopspring/decimal"
)

// clickBalance derives the withdrawable balance from matured clicks.
type clickBalance struct {
	clicks *click.Service
}

func (b clickBalance) Available(ctx context.Context, partnerID string) (decimal.Decimal, error) {
	matured, err := b.clicks.MaturedCount(ctx, partnerID, earnings.HoldPeriod)
	if err != nil {
		return decimal.Zero, err
	}
	return earnings.Total(matured), nil
}

func main() {
	_ = godotenv.Load()

	logger, err := logging.NewLogger(os.Getenv("APP_ENV") == "production")
	if err != nil {
		log.Fatalf("bootstrap logger: %v", err)
	}
	defer logger.Sync()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		logger.Fatal("JWT_SECRET is required")
	}
	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:3000"
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	writer := outbox.NewWriter()

	partnerService := partner.NewService(pool, partner.NewRepository(pool))
	clickService := click.NewService(pool, click.NewRepository(pool), writer)
	linkService := link.NewService(link.NewRepository(pool), baseURL)
	authService := auth.NewService(partnerService, jwtSecret)
	withdrawalService := withdrawal.NewService(pool, withdrawal.NewRepository(pool), clickBalance{clicks: clickService}, writer)
	messageRepo := message.NewRepository(pool)
	projectService := project.NewService(pool, writer)

	dispatcher := outbox.NewDispatcher(pool, func(ctx context.Context, msg outbox.Message) error {
		logger.Info("event dispatched",
			zap.String("topic", msg.Topic),
			zap.ByteString("payload", msg.Payload),
		)
		return nil
	})
	go func() {
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox dispatcher stopped", zap.Error(err))
		}
	}()

	server := &Server{
		logger:      logger,
		authService: authService,
		partners:    partnerService,
		links:       linkService,
		clicks:      clickService,
		withdrawals: withdrawalService,
		messages:    messageRepo,
		projects:    projectService,
	}

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", httpServer.Addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("serve", zap.Error(err))
	}
}
