package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/relaychat/relay-server/internal/server"
)

func main() {
	cfg, err := server.LoadConfig("./config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := server.NewLogger(cfg.Log)

	hub := server.NewHub(logger)
	go hub.Run()

	handler := server.NewHandler(hub, cfg, logger)
	srv := server.CreateServer(cfg.Server.Port, handler.Routes())

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Server.Port).
			Strs("allowed_origins", cfg.Server.AllowedOrigins).
			Msg("relay server listening")
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Str("addr", cfg.Server.Port).Msg("failed to start server")
		}
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	if err := server.ShutdownServer(srv, cfg.Server.ShutdownTimeout); err != nil {
		logger.Error().Err(err).Msg("http server shutdown")
	}
	if err := hub.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		logger.Error().Err(err).Msg("hub shutdown")
	}

	logger.Info().Msg("server stopped")
}
