// Package server wires the gin HTTP front end onto the dispatcher and
// ambient account/credential/project/ledger components, mounting the
// Anthropic-compatible API plus a thin status surface for operators.
package server

import (
	"github.com/gin-gonic/gin"

	"github.com/relaycc/cc-dispatch/internal/config"
	"github.com/relaycc/cc-dispatch/internal/credentials"
	"github.com/relaycc/cc-dispatch/internal/dispatcher"
	"github.com/relaycc/cc-dispatch/internal/ledger"
	"github.com/relaycc/cc-dispatch/internal/projects"
	"github.com/relaycc/cc-dispatch/internal/server/handlers"
	"github.com/relaycc/cc-dispatch/internal/store"
	"github.com/relaycc/cc-dispatch/internal/utils"
	webuihandlers "github.com/relaycc/cc-dispatch/internal/webui/handlers"
)

// Options configures request-time behavior that isn't part of Config.
type Options struct {
	FallbackEnabled bool
}

// Server owns the gin engine and every handler mounted on it.
type Server struct {
	cfg     *config.Config
	opts    Options
	engine  *gin.Engine
	disp    *dispatcher.Dispatcher
	accts   *store.JSONStore
	ledger  *ledger.Ledger
	creds   *credentials.Store
	project *projects.Resolver
}

// New builds a Server. Call SetupRoutes before serving.
func New(cfg *config.Config, disp *dispatcher.Dispatcher, accts *store.JSONStore, ledg *ledger.Ledger, creds *credentials.Store, proj *projects.Resolver, opts Options) *Server {
	if !cfg.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		cfg:     cfg,
		opts:    opts,
		engine:  engine,
		disp:    disp,
		accts:   accts,
		ledger:  ledg,
		creds:   creds,
		project: proj,
	}
}

// Engine returns the underlying gin engine, e.g. to mount additional
// middleware before the server starts listening.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// SetupRoutes mounts every HTTP route the proxy serves.
func (s *Server) SetupRoutes() {
	s.engine.Use(CORSMiddleware())
	s.engine.Use(RequestLoggingMiddleware())
	s.engine.Use(SilentHandlerMiddleware())

	health := handlers.NewHealthHandler(s.accts, s.ledger, s.creds, s.project)
	s.engine.GET("/health", health.Health)
	s.engine.GET("/account-limits", health.AccountLimits)

	cfgHandler := webuihandlers.NewConfigHandler(s.cfg, s.accts, s.ledger)
	api := s.engine.Group("/api")
	{
		api.GET("/config", cfgHandler.GetConfig)
		api.GET("/accounts", cfgHandler.GetAccounts)
		api.POST("/rate-limits/reset", cfgHandler.ResetRateLimits)
	}

	v1 := s.engine.Group("/v1")
	v1.Use(APIKeyAuthMiddleware(s.cfg))
	{
		messages := handlers.NewMessagesHandler(s.disp, s.opts.FallbackEnabled)
		v1.POST("/messages", messages.CreateMessage)

		models := handlers.NewModelsHandler(s.accts, s.ledger, s.creds, s.project)
		v1.GET("/models", models.ListModels)
	}

	utils.Info("[Server] routes mounted")
}
