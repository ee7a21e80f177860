// healthcare-mcp: MCP server for healthcare data lookup
// SPDX-License-Identifier: MIT

package mcpserver

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"healthcare-mcp/internal/cache"
	"healthcare-mcp/internal/config"
	"healthcare-mcp/internal/mcpserver/prompts"
	"healthcare-mcp/internal/mcpserver/resources"
	"healthcare-mcp/internal/mcpserver/tools"
	"healthcare-mcp/internal/storage"
	"healthcare-mcp/internal/upstream"
	"healthcare-mcp/internal/usage"
	"healthcare-mcp/internal/version"
)

// Server wires the storage registry, cache, usage ledger, and tool
// adapters behind an MCP server instance.
type Server struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *storage.Registry
	store    *cache.Store
	ledger   *usage.Ledger
	adapters []tools.Adapter
	srv      *mcp.Server

	sessionID string
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := storage.NewRegistry(logger)

	store := cache.New(registry, cfg.CacheDBPath,
		time.Duration(cfg.CacheTTLSeconds)*time.Second, logger)
	if err := store.Init(ctx); err != nil {
		registry.ReleaseAll()
		return nil, err
	}
	if !cfg.EnableCaching {
		store.Disable()
		logger.Info("response caching disabled")
	}

	ledger := usage.New(registry, cfg.UsageDBPath, logger)
	if err := ledger.Init(ctx); err != nil {
		store.Close()
		registry.ReleaseAll()
		return nil, err
	}

	client := upstream.NewClient(
		time.Duration(cfg.RequestTimeoutSeconds)*time.Second, logger)

	// One anonymous session identity per server process.
	sessionID := uuid.NewString()

	impl := &mcp.Implementation{Name: version.Name, Version: version.Version}
	m := mcp.NewServer(impl, nil)
	deps := tools.Dependencies{
		Cache:     store,
		Ledger:    ledger,
		HTTP:      client,
		Logger:    logger,
		Config:    cfg,
		SessionID: sessionID,
	}
	adapters := tools.Register(m, deps)
	prompts.RegisterAll(m, deps)
	resources.RegisterAll(m, deps)

	return &Server{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		store:     store,
		ledger:    ledger,
		adapters:  adapters,
		srv:       m,
		sessionID: sessionID,
	}, nil
}

// Run runs the server over the provided transport (e.g. &mcp.StdioTransport{}).
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.srv.Run(ctx, transport)
}

// Adapters exposes the registered tools for HTTP facade dispatch.
func (s *Server) Adapters() []tools.Adapter { return s.adapters }

func (s *Server) Cache() *cache.Store { return s.store }

func (s *Server) Ledger() *usage.Ledger { return s.ledger }

func (s *Server) SessionID() string { return s.sessionID }

// Close releases every pooled storage handle. Safe to call once at
// shutdown.
func (s *Server) Close() error {
	var firstErr error
	if err := s.store.Close(); err != nil {
		firstErr = err
	}
	if err := s.ledger.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.registry.ReleaseAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
