// ABOUTME: HTTP server exposing the webhook endpoint plus health and debug routes
// ABOUTME: Owns the listener lifecycle and drains in-flight dispatches on shutdown

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaymesh/deskbridge/internal/broker"
	"github.com/relaymesh/deskbridge/internal/dedupe"
	"github.com/relaymesh/deskbridge/internal/ledger"
)

// Options configures the HTTP server.
type Options struct {
	Addr            string
	Broker          *broker.Broker
	Deduper         *dedupe.Deduper
	Ledger          *ledger.Ledger
	DispatchTimeout time.Duration
	Logger          *slog.Logger
}

// Server accepts platform webhooks and hands the classified events to the
// broker on background goroutines. The webhook handler acknowledges every
// delivery immediately; processing outcomes never influence the response.
type Server struct {
	broker          *broker.Broker
	deduper         *dedupe.Deduper
	ledger          *ledger.Ledger
	dispatchTimeout time.Duration
	logger          *slog.Logger

	httpServer *http.Server
	inflight   sync.WaitGroup
	draining   atomic.Bool
}

// New builds the server and its route table.
func New(opts Options) *Server {
	s := &Server{
		broker:          opts.Broker,
		deduper:         opts.Deduper,
		ledger:          opts.Ledger,
		dispatchTimeout: opts.DispatchTimeout,
		logger:          opts.Logger.With("component", "server"),
	}
	if s.dispatchTimeout <= 0 {
		s.dispatchTimeout = 60 * time.Second
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)
	mux.HandleFunc("/debug/conversations", s.handleDebugConversations)
	mux.HandleFunc("/debug/activity", s.handleDebugActivity)

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run starts the server and blocks until the context is canceled or the
// listener fails. Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown stops accepting deliveries, then waits for in-flight
// dispatches before returning. Uses a fresh context since the run context
// is already canceled by the time shutdown starts.
func (s *Server) gracefulShutdown() error {
	s.draining.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.dispatchTimeout):
		s.logger.Warn("shutdown timed out waiting for in-flight dispatches")
	}
	return err
}
