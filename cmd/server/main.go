// Command cc-dispatch-server runs the Anthropic-compatible HTTP front end
// over the Cloud Code dispatcher: it loads configuration and the account
// pool, wires the ledger/credential/project caches and dispatcher, mounts
// routes, and serves until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/relaycc/cc-dispatch/internal/cache"
	"github.com/relaycc/cc-dispatch/internal/clock"
	"github.com/relaycc/cc-dispatch/internal/config"
	"github.com/relaycc/cc-dispatch/internal/credentials"
	"github.com/relaycc/cc-dispatch/internal/dispatcher"
	"github.com/relaycc/cc-dispatch/internal/ledger"
	"github.com/relaycc/cc-dispatch/internal/projects"
	"github.com/relaycc/cc-dispatch/internal/server"
	"github.com/relaycc/cc-dispatch/internal/store"
	"github.com/relaycc/cc-dispatch/internal/utils"
	"github.com/relaycc/cc-dispatch/pkg/redis"
)

func main() {
	var (
		devMode      bool
		fallback     bool
		port         int
		configPath   string
		accountsPath string
	)

	flag.BoolVar(&devMode, "dev-mode", false, "Enable verbose logging and gin debug mode")
	flag.BoolVar(&fallback, "fallback", false, "Enable one-level model fallback on quota exhaust")
	flag.IntVar(&port, "port", 0, "Server port (default: 8080)")
	flag.StringVar(&configPath, "config", "", "Path to a JSON config file (overrides defaults)")
	flag.StringVar(&accountsPath, "accounts", "", "Path to accounts.json (overrides config's accountConfigPath)")
	flag.Parse()

	if os.Getenv("DEV_MODE") == "true" {
		devMode = true
	}
	if os.Getenv("FALLBACK") == "true" {
		fallback = true
	}
	utils.SetDebug(devMode)

	cfg, err := config.Load(configPath)
	if err != nil {
		utils.Error("[Startup] failed to load config: %v", err)
		os.Exit(1)
	}
	cfg.DevMode = devMode
	if port != 0 {
		cfg.Port = port
	}
	if accountsPath != "" {
		cfg.AccountConfigPath = accountsPath
	}

	var redisClient *redis.Client
	var tokenPersister credentials.Persister
	var projectPersister projects.Persister
	if cfg.RedisAddr != "" {
		redisClient, err = redis.NewClient(redis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			utils.Warn("[Startup] redis unavailable, falling back to in-memory caches only: %v", err)
			redisClient = nil
		} else {
			tokenPersister = cache.NewRedisTokenCache(redisClient)
			projectPersister = cache.NewRedisProjectCache(redisClient)
			utils.Info("[Startup] token/project caches backed by redis at %s", cfg.RedisAddr)
		}
	}

	realClock := clock.Real{}
	accounts := store.NewJSONStore(cfg.AccountConfigPath)
	ledg := ledger.New(realClock)
	creds := credentials.New(realClock, cfg.TokenCacheTTL, tokenPersister)
	httpClient := &http.Client{Timeout: 5 * time.Minute}
	projectResolver := projects.New(httpClient, projectPersister, config.DefaultProjectID)

	disp, err := dispatcher.New(cfg, accounts, realClock, realClock, httpClient, creds, projectResolver, ledg)
	if err != nil {
		utils.Error("[Startup] failed to initialize dispatcher: %v", err)
		os.Exit(1)
	}

	srv := server.New(cfg, disp, accounts, ledg, creds, projectResolver, server.Options{FallbackEnabled: fallback})
	srv.SetupRoutes()

	printBanner(cfg, fallback, devMode)

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Engine(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		utils.Info("[Server] starting on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.Error("[Server] failed to start: %v", err)
			os.Exit(1)
		}
	}()

	utils.Success("Server started successfully on port %d", cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	utils.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		utils.Error("Server forced to shutdown: %v", err)
		os.Exit(1)
	}
	if redisClient != nil {
		redisClient.Close()
	}
	utils.Success("Server stopped")
}

func printBanner(cfg *config.Config, fallback, devMode bool) {
	fmt.Println()
	fmt.Println("  cc-dispatch — Anthropic-compatible Cloud Code proxy")
	fmt.Printf("  Listening on :%d\n", cfg.Port)
	fmt.Printf("  Accounts store: %s\n", cfg.AccountConfigPath)
	if devMode {
		fmt.Println("  Developer mode enabled")
	}
	if fallback {
		fmt.Println("  Model fallback enabled")
	}
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /v1/messages      - Anthropic Messages API")
	fmt.Println("    GET  /v1/models        - List available models")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println("    GET  /account-limits    - Account status & quotas")
	fmt.Println()
	fmt.Println("  Usage with Claude Code:")
	fmt.Printf("    export ANTHROPIC_BASE_URL=http://localhost:%d\n", cfg.Port)
	if cfg.APIKey != "" {
		fmt.Printf("    export ANTHROPIC_API_KEY=%s\n", cfg.APIKey)
	}
	fmt.Println()
	fmt.Println("  Manage accounts:")
	fmt.Printf("    cc-dispatch-accounts add --config=%s\n", filepath.Clean(cfg.AccountConfigPath))
	fmt.Println()
}
