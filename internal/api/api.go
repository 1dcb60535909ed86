// Package api provides the HTTP control surface for DeskPipe.
//
// It exposes the session status, the pairing QR code, batch and single
// message dispatch, session reset and dispatch receipts. Every route sits
// behind a network-origin allow-list.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/BTreeMap/DeskPipe/internal/dispatch"
	"github.com/BTreeMap/DeskPipe/internal/messaging"
	"github.com/BTreeMap/DeskPipe/internal/store"
)

const (
	// DefaultAddr is used when no address is configured.
	DefaultAddr = ":3001"
	// DefaultMaxUploadBytes bounds the multipart body of POST /api/send.
	DefaultMaxUploadBytes = 32 << 20
	// DefaultShutdownTimeout bounds graceful shutdown of in-flight requests.
	DefaultShutdownTimeout = 10 * time.Second
)

// Pairing is the session management surface of the platform client.
type Pairing interface {
	LatestQR() string
	Reset(ctx context.Context) error
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr            string
	AllowedNetworks []netip.Prefix
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAllowedNetworks restricts requests to the given origins.
// An empty list admits every origin.
func WithAllowedNetworks(prefixes []netip.Prefix) Option {
	return func(o *Opts) { o.AllowedNetworks = prefixes }
}

// WithMaxUploadBytes bounds the size of uploaded attachments.
func WithMaxUploadBytes(n int64) Option {
	return func(o *Opts) {
		if n > 0 {
			o.MaxUploadBytes = n
		}
	}
}

// WithShutdownTimeout bounds how long Run waits for in-flight requests.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) {
		if d > 0 {
			o.ShutdownTimeout = d
		}
	}
}

// Server serves the HTTP control surface.
type Server struct {
	cfg      Opts
	conn     messaging.Connector
	pairing  Pairing
	guard    *dispatch.Guard
	batch    *dispatch.BatchSender
	receipts store.ReceiptRepo
}

// NewServer creates a Server. receipts may be nil, in which case
// /api/receipts reports an empty list.
func NewServer(conn messaging.Connector, pairing Pairing, guard *dispatch.Guard, batch *dispatch.BatchSender, receipts store.ReceiptRepo, opts ...Option) *Server {
	cfg := Opts{
		Addr:            DefaultAddr,
		MaxUploadBytes:  DefaultMaxUploadBytes,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.AllowedNetworks) == 0 {
		slog.Warn("Server.NewServer: no allowed networks configured, accepting requests from any origin")
	}
	return &Server{
		cfg:      cfg,
		conn:     conn,
		pairing:  pairing,
		guard:    guard,
		batch:    batch,
		receipts: receipts,
	}
}

// Handler returns the routed handler wrapped in the origin allow-list.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.statusHandler)
	mux.HandleFunc("GET /api/qr", s.qrHandler)
	mux.HandleFunc("POST /api/send", s.sendHandler)
	mux.HandleFunc("GET /api/sendMessage/{recipient}/{message}", s.sendMessageHandler)
	mux.HandleFunc("GET /api/disconnect", s.disconnectHandler)
	mux.HandleFunc("GET /api/receipts", s.receiptsHandler)
	return s.allowList(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		slog.Error("Server.Run: API server failed", "error", err)
		return err
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server.Run: graceful shutdown failed", "error", err)
			return err
		}
		return nil
	}
}
