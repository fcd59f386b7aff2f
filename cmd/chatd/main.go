package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/config"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/database"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/gateway"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/handler"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/middleware"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/router"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	defer natsConn.Close()

	rpcClient, err := gateway.NewRPCClient(gateway.RPCConfig{
		BaseURL: cfg.BackendURL,
		APIKey:  cfg.BackendAPIKey,
		Timeout: cfg.RPCTimeout,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create rpc client: %v", err)
	}

	backend, err := gateway.NewBackend(rpcClient, natsConn, redisClient, cfg.CDCSubject, logger)
	if err != nil {
		log.Fatalf("failed to create backend gateway: %v", err)
	}
	defer backend.Close()

	sessions := session.NewManager(backend, session.Options{
		PresenceTimeout:      cfg.PresenceTimeout,
		PresenceExcludeSelf:  cfg.PresenceExcludeSelf,
		TypingDebounce:       cfg.TypingDebounce,
		TypingTTL:            cfg.TypingTTL,
		NotificationPageSize: cfg.NotificationPageSize,
	}, logger)
	defer sessions.Close()

	validate := validator.New(validator.WithRequiredStructEnabled())

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		RoomHandler:         handler.NewRoomHandler(sessions, validate, logger),
		NotificationHandler: handler.NewNotificationHandler(sessions, logger),
		PresenceHandler:     handler.NewPresenceHandler(sessions, logger),
		StreamHandler:       handler.NewStreamHandler(sessions, logger),
		HealthHandler:       handler.HealthCheck(cfg, sessions),
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
