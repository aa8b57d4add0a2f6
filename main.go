// Cora Registry - multi-tenant module configuration service.
// Resolves per-module enablement, config and feature flags across the
// system, organization and workspace tiers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/kardianos/service"
	"github.com/rs/zerolog/log"

	"github.com/bodhix-ai/cora-registry/metrics"
	"github.com/bodhix-ai/cora-registry/registry"
	"github.com/bodhix-ai/cora-registry/storage"
	"github.com/bodhix-ai/cora-registry/tenancy"
)

// Version information (set at build time via -ldflags).
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var logger = log.With().Str("component", "server").Logger()

// Flags are captured here so runServer works both standalone and under the
// service wrapper.
var (
	flagConfigPath string
	flagSeedPath   string
	flagPort       int
	flagLogLevel   string
)

func main() {
	flag.StringVar(&flagConfigPath, "config", "config.toml", "Path to TOML configuration file")
	flag.StringVar(&flagSeedPath, "seed", "", "Module definition seed file (overrides [seed] path)")
	flag.IntVar(&flagPort, "port", 0, "HTTP port (overrides [server] port)")
	flag.StringVar(&flagLogLevel, "log-level", "", "Log level (overrides [logging] level)")
	svcFlag := flag.String("service", "", "Service control: install, uninstall, start, stop, run")
	writeConfig := flag.Bool("write-config", false, "Write a default config file and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("cora-registry %s (built %s, commit %s, %s)\n", Version, BuildTime, GitCommit, runtime.Version())
		return
	}

	if *writeConfig {
		if err := WriteDefaultConfig(flagConfigPath); err != nil {
			fmt.Fprintf(os.Stderr, "write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote default configuration to %s\n", flagConfigPath)
		return
	}

	if *svcFlag != "" {
		if err := controlService(*svcFlag); err != nil {
			fmt.Fprintf(os.Stderr, "service %s: %v\n", *svcFlag, err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := runServer(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

// controlService installs, removes or drives the OS service.
func controlService(action string) error {
	svc, err := service.New(&program{}, getServiceConfig())
	if err != nil {
		return err
	}
	switch action {
	case "run":
		return svc.Run()
	case "install":
		if err := setupServiceDirectories(); err != nil {
			return err
		}
		return svc.Install()
	case "uninstall":
		return svc.Uninstall()
	case "start", "stop", "restart":
		return service.Control(svc, action)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

// runServer is the full server lifecycle: config, storage, seed, cache,
// routes, then serve until the context is cancelled.
func runServer(ctx context.Context) error {
	cfg, envKeys, err := LoadConfig(flagConfigPath)
	if err != nil {
		return err
	}
	if flagPort != 0 {
		cfg.Server.Port = flagPort
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if flagSeedPath != "" {
		cfg.Seed.Path = flagSeedPath
	}

	configureLogging(cfg.Logging)
	logger.Info().
		Str("version", Version).
		Str("commit", GitCommit).
		Str("go", runtime.Version()).
		Msg("cora-registry starting")
	if len(envKeys) > 0 {
		logger.Info().Strs("env_overrides", envKeys).Msg("environment overrides active")
	}

	store, err := storage.NewStore(&cfg.Database)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer store.Close()
	logger.Info().Str("driver", cfg.Database.EffectiveDriver()).Msg("storage initialized")

	initAuth(store, cfg)
	if loginLimiter != nil {
		defer loginLimiter.Stop()
	}
	if err := ensureBootstrapAdmin(ctx, store, &cfg.Auth); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	if cfg.Seed.Path != "" {
		defs, err := registry.LoadSeedFile(cfg.Seed.Path)
		if err != nil {
			return fmt.Errorf("load seed file %s: %w", cfg.Seed.Path, err)
		}
		if err := registry.SyncSeed(ctx, store, defs, "seed"); err != nil {
			return fmt.Errorf("apply seed file %s: %w", cfg.Seed.Path, err)
		}
		logger.Info().Str("path", cfg.Seed.Path).Int("modules", len(defs)).Msg("module seed applied")
	}

	resolver, err := registry.NewResolver(store)
	if err != nil {
		return err
	}
	cache := registry.NewCache(resolver, cfg.Cache.TTL())

	hub := NewEventHub()
	store.SetNotifier(storage.CombineNotifiers(cache, hub))

	mux := http.NewServeMux()
	if err := setupRoutes(mux, store, cache, hub, &cfg.Auth); err != nil {
		return err
	}

	go sessionCleanupLoop(ctx, store, time.Hour)

	addr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		timeout := time.Duration(cfg.Server.ShutdownTimeoutSecs) * time.Second
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		logger.Info().Msg("shutting down")
		return server.Shutdown(shutdownCtx)
	}
}

// setupRoutes wires every HTTP surface onto the mux.
func setupRoutes(mux *http.ServeMux, store storage.Store, cache *registry.Cache, hub *EventHub, authCfg *AuthConfig) error {
	// Unauthenticated surface.
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/api/version", handleVersion)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/v1/auth/login", handleLogin)
	mux.HandleFunc("/api/v1/auth/logout", handleLogout)
	if authCfg.OIDC.Enabled() {
		oidcAuth := newOIDCAuthenticator(&authCfg.OIDC)
		mux.HandleFunc("/auth/oidc/start", oidcAuth.handleStart)
		mux.HandleFunc("/auth/oidc/callback", oidcAuth.handleCallback)
		logger.Info().Str("issuer", authCfg.OIDC.Issuer).Msg("OIDC login enabled")
	}

	// Session-gated surface.
	mux.HandleFunc("/api/v1/auth/me", requireSession(handleMe))
	mux.HandleFunc("/api/v1/users", requireSession(handleUsers))
	mux.HandleFunc("/api/v1/users/", requireSession(handleUserRoute))
	mux.HandleFunc("/api/v1/audit", requireSession(handleAuditLog))
	mux.HandleFunc("/api/v1/events/ws", requireSession(hub.HandleWS))

	// Module registry: definitions plus org/workspace overrides.
	api, err := registry.NewAPI(store, cache, registry.APIOptions{
		AuthMiddleware: requireSession,
		Authorizer:     authorizeRequest,
		ActorResolver:  actorEmail,
		AuditLogger:    recordAuditEntry,
	})
	if err != nil {
		return err
	}
	api.RegisterRoutes(registry.RouteConfig{Mux: mux})

	// Tenancy CRUD, including the module subresources registered above.
	tenancy.AuthMiddleware = requireSession
	tenancy.SetAuthorizer(authorizeRequest)
	tenancy.SetAuditLogger(recordAuditEntry)
	tenancy.RegisterRoutesOnMux(mux, store)

	return nil
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	})
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
