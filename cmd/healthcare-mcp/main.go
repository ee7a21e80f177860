// healthcare-mcp: MCP server for healthcare data lookup
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"healthcare-mcp/internal/config"
	"healthcare-mcp/internal/httpapi"
	"healthcare-mcp/internal/logging"
	"healthcare-mcp/internal/mcpserver"
	"healthcare-mcp/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		// fallback logger
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		zap.NewExample().Fatal("failed to init logger", zap.Error(err))
	}
	defer logger.Sync()

	srv, err := mcpserver.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}
	defer srv.Close()

	go retentionLoop(ctx, srv, cfg, logger)

	switch cfg.Transport {
	case config.TransportStdio:
		runStdio(ctx, srv, logger)
	case config.TransportSSE:
		runSSE(ctx, srv, cfg, logger)
	case config.TransportStreamable:
		runStreamable(ctx, srv, cfg, logger)
	default:
		logger.Fatal("unknown transport", zap.String("transport", string(cfg.Transport)))
	}
}

// retentionLoop prunes usage rows past the configured retention window
// once at startup and then daily.
func retentionLoop(ctx context.Context, srv *mcpserver.Server, cfg config.Config, logger *zap.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	srv.Ledger().CleanupOldData(ctx, cfg.UsageRetentionDays)
	for {
		select {
		case <-ticker.C:
			deleted := srv.Ledger().CleanupOldData(ctx, cfg.UsageRetentionDays)
			logger.Debug("usage retention sweep", zap.Int("deleted", deleted))
		case <-ctx.Done():
			return
		}
	}
}

func runStdio(ctx context.Context, srv *mcpserver.Server, logger *zap.Logger) {
	transport := &mcp.StdioTransport{}
	logger.Info("starting healthcare-mcp server (stdio)",
		zap.String("name", version.Name), zap.String("version", version.Version))
	if err := srv.Run(ctx, transport); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func runSSE(ctx context.Context, srv *mcpserver.Server, cfg config.Config, logger *zap.Logger) {
	addr := fmt.Sprintf("%s:%d", cfg.HTTPAddr, cfg.HTTPPort)
	endpoint := cfg.HTTPPath

	logger.Info("starting healthcare-mcp server (SSE)",
		zap.String("name", version.Name),
		zap.String("version", version.Version),
		zap.String("addr", addr),
		zap.String("endpoint", endpoint),
	)

	mux := http.NewServeMux()

	// SSE endpoint - GET opens the stream, session POSTs go to a
	// per-session path registered on first contact.
	mux.HandleFunc(endpoint, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		sessionID := generateSessionID()
		sessionEndpoint := fmt.Sprintf("%s/session/%s", endpoint, sessionID)

		transport := &mcp.SSEServerTransport{
			Endpoint: sessionEndpoint,
			Response: w,
		}
		mux.Handle(sessionEndpoint, transport)

		logger.Info("new SSE session", zap.String("session_id", sessionID))
		if err := srv.Run(r.Context(), transport); err != nil {
			logger.Error("SSE session error", zap.Error(err), zap.String("session_id", sessionID))
		}
	})

	serveHTTP(ctx, addr, withFacade(mux, srv, cfg, logger), logger)
}

func runStreamable(ctx context.Context, srv *mcpserver.Server, cfg config.Config, logger *zap.Logger) {
	addr := fmt.Sprintf("%s:%d", cfg.HTTPAddr, cfg.HTTPPort)
	endpoint := cfg.HTTPPath

	logger.Info("starting healthcare-mcp server (Streamable HTTP)",
		zap.String("name", version.Name),
		zap.String("version", version.Version),
		zap.String("addr", addr),
		zap.String("endpoint", endpoint),
	)

	mux := http.NewServeMux()

	mux.HandleFunc(endpoint, func(w http.ResponseWriter, r *http.Request) {
		sessionID := generateSessionID()

		transport := &mcp.StreamableServerTransport{
			SessionID: sessionID,
		}

		go func() {
			if err := srv.Run(r.Context(), transport); err != nil {
				logger.Error("streamable session error", zap.Error(err), zap.String("session_id", sessionID))
			}
		}()

		transport.ServeHTTP(w, r)
	})

	serveHTTP(ctx, addr, withFacade(mux, srv, cfg, logger), logger)
}

// withFacade mounts the REST facade routes next to the MCP endpoint.
func withFacade(mux *http.ServeMux, srv *mcpserver.Server, cfg config.Config, logger *zap.Logger) http.Handler {
	facade := httpapi.New(logger, srv.Adapters(), srv.Cache(), srv.Ledger(), srv.SessionID(), cfg.RateLimitPerMinute)
	handler := facade.Handler()
	mux.Handle("/api/", handler)
	mux.Handle("/mcp/call-tool", handler)
	mux.Handle("/health", handler)
	return mux
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) {
	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down HTTP server")
		server.Shutdown(context.Background())
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("HTTP server error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func generateSessionID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
