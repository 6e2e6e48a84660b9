package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Tyrowin/boardchat/pkg/logger"
)

// CreateServer creates and configures an HTTP server with the specified address and handler.
// It sets reasonable timeout values for production use.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartServer serves HTTP until the server is shut down. A normal shutdown
// returns nil.
func StartServer(server *http.Server, log logger.Logger) error {
	log.Info("HTTP gateway listening", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active requests.
// Upgraded WebSocket connections are not tracked by net/http; Server.Shutdown closes them.
func ShutdownServer(server *http.Server, timeout time.Duration, log logger.Logger) error {
	log.Info("Shutting down HTTP gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP gateway shutdown error", "error", err)
		return err
	}

	log.Info("HTTP gateway shutdown completed")
	return nil
}
