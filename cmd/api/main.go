// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/conseiller-portal/messagerie/internal/backend"
	"github.com/conseiller-portal/messagerie/internal/cipher"
	"github.com/conseiller-portal/messagerie/internal/config"
	"github.com/conseiller-portal/messagerie/internal/handler"
	natsclient "github.com/conseiller-portal/messagerie/internal/nats"
	"github.com/conseiller-portal/messagerie/internal/service"
	"github.com/conseiller-portal/messagerie/internal/session"
	"github.com/conseiller-portal/messagerie/pkg/logger"
	"github.com/conseiller-portal/messagerie/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	if len(cfg.AllowedOrigins) == 0 {
		log.Warn("ALLOWED_ORIGINS is empty, cross-origin requests are refused")
	}

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "messagerie-conseiller", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to NATS", zap.Error(err))
	}
	defer natsClient.Close()

	// Ensure the chats bucket and messages stream exist
	store := natsclient.NewChatStore(natsClient, natsclient.StoreConfig{
		ChatsBucket:    cfg.ChatsBucket,
		MessagesStream: cfg.MessagesStream,
	}, log)
	if err := store.EnsureStore(ctx); err != nil {
		log.Fatal("failed to ensure chat store", zap.Error(err))
	}

	// Backend API and per-session chat credentials
	backendClient := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout, log)
	credentials := session.NewCredentials(backendClient, cfg.BackendTimeout, log)

	// Initialize services
	c := cipher.New()
	pipeline := service.NewPipeline(store, c, cfg.DisplayLocation(), log)
	synchronizer := service.NewSynchronizer(store, c, log)
	dispatcher := service.NewDispatcher(store, c, backendClient, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(store)
	chatHandler := handler.NewChatHandler(synchronizer, credentials, backendClient, log)
	messageHandler := handler.NewMessageHandler(pipeline, synchronizer, dispatcher, credentials, log)

	r := handler.NewRouter(handler.RouterConfig{
		JWTSecret:         cfg.JWTSecret,
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	}, healthHandler, chatHandler, messageHandler, log)

	// Streams run on serveCtx so a shutdown signal ends them instead of
	// waiting for the shutdown timeout.
	serveCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := newServer(serveCtx, ":"+cfg.ServerPort, r, cfg.ServerReadTimeout, cfg.ServerWriteTimeout)

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	<-serveCtx.Done()
	stop()

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// newServer builds the HTTP server. Request contexts derive from base, so
// cancelling base ends open streams. Streams stay open, so writeTimeout is 0
// by default.
func newServer(base context.Context, addr string, h http.Handler, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return base
		},
	}
}
