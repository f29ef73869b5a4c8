package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/routetunnel/relay/internal/management"
	"github.com/routetunnel/relay/internal/store"
)

func main() {
	cfg, err := management.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	routeStore, err := store.OpenSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open route store", "err", err)
		os.Exit(1)
	}

	authProvider, err := management.NewJWTAuthProvider(cfg.JWTSecret, cfg.JWTAlgorithm)
	if err != nil {
		slog.Error("failed to configure auth provider", "err", err)
		os.Exit(1)
	}

	server := management.NewServer(cfg, routeStore, authProvider)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		slog.Info("relay server shutting down")
		server.Shutdown()
	}()

	slog.Info("relay server starting")
	if err := server.Run(); err != nil && ctx.Err() == nil {
		slog.Error("relay server exited with error", "err", err)
		os.Exit(1)
	}
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}
