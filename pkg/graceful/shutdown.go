// Package graceful coordinates orderly shutdown across a process's
// long-running components.
package graceful

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Shutdownable is a component that can be asked to stop within a deadline.
type Shutdownable interface {
	Shutdown(ctx context.Context) error
}

// Handler waits for a termination signal and stops registered components in
// the order they were registered.
type Handler struct {
	logger     *zap.Logger
	components []Shutdownable
	timeout    time.Duration
}

// NewHandler creates a shutdown handler with the given per-shutdown timeout.
func NewHandler(logger *zap.Logger, timeout time.Duration) *Handler {
	return &Handler{logger: logger, timeout: timeout}
}

// Register adds a component to stop on shutdown. Register components in
// front-to-back order: the HTTP listener or queue server first, then stores
// and clients behind them.
func (h *Handler) Register(c Shutdownable) {
	h.components = append(h.components, c)
}

// Wait blocks until SIGINT or SIGTERM, then stops every registered component.
func (h *Handler) Wait() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	h.logger.Info("Shutdown signal received", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	for _, c := range h.components {
		if err := c.Shutdown(ctx); err != nil {
			h.logger.Error("Component shutdown error", zap.Error(err))
		}
	}

	h.logger.Info("Shutdown complete")
}
