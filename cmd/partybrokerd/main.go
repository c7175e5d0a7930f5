// partybrokerd is a development broker: it speaks just enough STOMP over
// WebSocket for partysync clients to run without the production backend.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vovakirdan/partysync/internal/broker"
	"github.com/vovakirdan/partysync/internal/log"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger := log.New(*logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := broker.NewHub(log.Component(logger, "hub"))
	server := broker.NewServer(*addr, hub, log.Component(logger, "ws"))

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	logger.Info().Str("addr", *addr).Msg("broker listening")

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("broker exited with error")
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info().Msg("shutting down")
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("shutdown error")
		}
		<-serverErr
	}
	logger.Info().Msg("broker stopped")
}
