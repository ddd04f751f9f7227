package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwrk-planet/chat-service/config"
	"github.com/cwrk-planet/chat-service/internal/broker"
	"github.com/cwrk-planet/chat-service/internal/postgres"
	"github.com/cwrk-planet/chat-service/internal/security"
	"github.com/cwrk-planet/chat-service/internal/service"
	httpx "github.com/cwrk-planet/chat-service/internal/transport/http"
	"github.com/cwrk-planet/chat-service/internal/transport/ws"
	"github.com/cwrk-planet/logger/pkg/logger"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.Env(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting chat-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version)

	// --- postgres ---
	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer db.Close()

	// --- repos ---
	userRepo := postgres.NewUserRepository(db.Pool)
	chatRepo := postgres.NewChatRepository(db.Pool)
	messageRepo := postgres.NewMessageRepository(db.Pool)
	notifRepo := postgres.NewNotificationRepository(db.Pool)

	// --- auth gate ---
	pub, err := security.LoadPublicKey(cfg.Auth.PublicKeyPath)
	if err != nil {
		log.Fatalf("jwt public key: %v", err)
	}
	verifier := security.NewVerifier(pub, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.ClockSkewOr(30*time.Second))

	// --- broker: внутрипроцессный либо через Redis при многонодовом деплое ---
	inproc := broker.NewInproc()
	var bus broker.Broker = inproc
	if cfg.Redis.Addr != "" {
		redisBroker, err := broker.NewRedis(ctx, cfg.Redis.Addr, inproc)
		if err != nil {
			log.Fatalf("redis broker: %v", err)
		}
		bus = redisBroker
		slog.Info("redis broker enabled", "addr", cfg.Redis.Addr)
	}
	defer func() { _ = bus.Close() }()

	// --- services ---
	fileStore, err := service.NewFileStore(cfg.Chat.MediaDir, cfg.Chat.MediaBaseURL)
	if err != nil {
		log.Fatalf("file store: %v", err)
	}
	notifSvc := service.NewNotificationService(notifRepo, userRepo, bus, nil)
	msgSvc := service.NewMessageService(messageRepo, chatRepo, userRepo, notifSvc, fileStore, cfg.Chat.MaxFileSize, nil)

	// --- WS & HTTP ---
	wsServer := ws.NewServer(bus, verifier, userRepo, msgSvc, notifSvc, cfg.Chat.MaxFileSize, cfg.Chat.PingEveryOr(15*time.Second))
	handler := httpx.NewHandler(msgSvc, notifSvc, userRepo, bus)
	router := httpx.NewRouter(handler, verifier, userRepo, wsServer, fileStore.Dir())
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal", "sig", sig)
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpSrv.Shutdown(ctxShutdown)
	slog.Info("stopped")
}
