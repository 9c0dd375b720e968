/*
Package main is the entry point for the DoSpill server.

It loads configuration, initializes the global logger, opens the data store, the
upload provider and the cache edge, starts the shell hub and serves everything over
one HTTP server until SIGINT or SIGTERM, then shuts down in reverse order. SIGHUP
installs the cache generation named by the current CACHE_VERSION.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/pebble/v2/vfs"
	"github.com/spf13/cobra"

	"dospill/internal/app/cachectl"
	"dospill/internal/app/db"
	"dospill/internal/app/shell"
	"dospill/internal/app/storage"
	"dospill/internal/app/store"
	"dospill/internal/configs"
	"dospill/internal/handler"
	"dospill/internal/pkg/logx"
)

var (
	flagPort     int
	flagCacheDir string
)

var rootCmd = &cobra.Command{
	Use:   "dospill",
	Short: "DoSpill chat server with an offline-first cache edge",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().IntVar(&flagPort, "port", 0, "listen port (overrides PORT)")
	rootCmd.Flags().StringVar(&flagCacheDir, "cache-dir", "", "cache database directory (overrides CACHE_DIR, empty keeps it in memory)")
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*configs.AppConfig, error) {
	cfg, err := configs.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if flagPort != 0 {
		cfg.Port = flagPort
	}
	if flagCacheDir != "" {
		cfg.CacheDir = flagCacheDir
	}

	logx.InitGlobalLogger(cfg.IsDevelopment())
	return cfg, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_URL is not set")
	}

	// NewPool migrates before returning.
	pool, err := db.NewPool(cmd.Context(), cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	pool.Close()

	logx.Info("Database migrations applied")
	return nil
}

func openStore(ctx context.Context, cfg *configs.AppConfig) (*store.Service, error) {
	if cfg.DatabaseDSN == "" {
		logx.Warn("DATABASE_URL is not set, using the in-memory store")
		return store.NewService(store.NewMemoryRepository()), nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	return store.NewService(store.NewPostgresRepository(pool)), nil
}

func openCacheEdge(ctx context.Context, cfg *configs.AppConfig) (*cachectl.Registry, *cachectl.Deployer, *cachectl.Edge, *cachectl.PebbleStorage, error) {
	origin, err := url.Parse(cfg.OriginURL)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("invalid ORIGIN_URL: %w", err)
	}

	var fs vfs.FS
	dir := cfg.CacheDir
	if dir == "" {
		fs = vfs.NewMem()
		dir = "cache"
	}
	caches, err := cachectl.OpenPebble(dir, fs)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	registry := cachectl.NewRegistry()
	deployer := cachectl.NewDeployer(registry, cachectl.Config{
		Origin:   origin,
		CDNHosts: cfg.CacheCDNHosts,
		ShellURL: cfg.AppShell,
	}, cachectl.NewHTTPNetwork(origin, cfg.OriginTimeout), caches)

	if _, err := deployer.Deploy(ctx, cfg.CacheVersion, cfg.CacheManifest); err != nil {
		// Without an active controller the edge passes everything through to the origin.
		logx.Error(err, "Cache controller failed to install", "cache_version", cfg.CacheVersion)
	}

	return registry, deployer, cachectl.NewEdge(registry, origin), caches, nil
}

// watchCacheReload installs the CACHE_VERSION and CACHE_MANIFEST found in the
// environment on every SIGHUP. The new generation waits for SKIP_WAITING.
func watchCacheReload(ctx context.Context, deployer *cachectl.Deployer) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		cfg, err := configs.LoadConfig()
		if err != nil {
			logx.Error(err, "Cache reload skipped: configuration is invalid")
			continue
		}
		c, err := deployer.Deploy(ctx, cfg.CacheVersion, cfg.CacheManifest)
		if err != nil {
			logx.Warn("Cache reload failed", "cache_version", cfg.CacheVersion, "error", err.Error())
			continue
		}
		logx.Info("Cache generation installed", "cache_version", c.Version(), "state", c.State().String())
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("upload_provider", cfg.UploadProvider).
		Str("origin", cfg.OriginURL).
		Str("cache_version", cfg.CacheVersion).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	uploads, err := storage.NewProvider(storage.ServiceConfig{
		Provider:          cfg.UploadProvider,
		B2KeyID:           cfg.B2KeyID,
		B2AppKey:          cfg.B2AppKey,
		B2BucketID:        cfg.B2BucketID,
		B2APIURL:          cfg.B2APIURL,
		S3BucketName:      cfg.S3BucketName,
		S3Endpoint:        cfg.S3Endpoint,
		S3AccessKeyID:     cfg.S3AccessKeyID,
		S3SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		return err
	}

	registry, deployer, edge, caches, err := openCacheEdge(ctx, cfg)
	if err != nil {
		return err
	}
	defer caches.Close()
	defer registry.Close()

	reloadCtx, cancelReload := context.WithCancel(ctx)
	reloadDone := make(chan struct{})
	go func() {
		defer close(reloadDone)
		watchCacheReload(reloadCtx, deployer)
	}()
	defer func() {
		cancelReload()
		<-reloadDone
	}()

	hub := shell.NewHub(shell.Deps{Store: st, Uploads: uploads})
	limits := handler.NewLimiters()
	defer limits.Close()

	router := handler.Router(&handler.AppDeps{
		Config:   cfg,
		Store:    st,
		Uploads:  uploads,
		Hub:      hub,
		Registry: registry,
		Edge:     edge,
		Deployer: deployer,
	}, limits)

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 5 * time.Second,
		// Upgraded websockets are hijacked and not bound by WriteTimeout.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logx.Info(fmt.Sprintf("DoSpill Server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		hub.Shutdown()
		return fmt.Errorf("server failed to start: %w", err)
	case <-ctx.Done():
	}
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	hub.Shutdown()

	logx.Info("Server gracefully stopped.")
	return nil
}
