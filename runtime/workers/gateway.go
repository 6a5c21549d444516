package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// GatewayWorker serves HTTP until its context ends, then drains in-flight requests.
type GatewayWorker struct {
	log             *slog.Logger
	address         string
	handler         http.Handler
	shutdownTimeout time.Duration
}

func NewGatewayWorker(log *slog.Logger, address string, handler http.Handler, shutdownTimeout time.Duration) *GatewayWorker {
	return &GatewayWorker{log: log, address: address, handler: handler, shutdownTimeout: shutdownTimeout}
}

func (w *GatewayWorker) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", w.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", w.address, err)
	}
	return w.Serve(ctx, listener)
}

// Serve takes ownership of the listener.
func (w *GatewayWorker) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           w.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errChan := make(chan error, 1)
	go func() {
		w.log.Info("Starting HTTP gateway", "address", listener.Addr().String(), "at", time.Now().UTC())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP gateway error: %w", err)
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), w.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		w.log.Warn("HTTP gateway forced to close", "error", err)
		_ = server.Close()
	}
	w.log.Info("HTTP gateway stopped")
	return nil
}
