package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voltedge/voltedge/internal/access"
	"github.com/voltedge/voltedge/internal/buildinfo"
	"github.com/voltedge/voltedge/internal/config"
	"github.com/voltedge/voltedge/internal/docker"
	"github.com/voltedge/voltedge/internal/engine"
	"github.com/voltedge/voltedge/internal/geoip"
	"github.com/voltedge/voltedge/internal/mirror"
	"github.com/voltedge/voltedge/internal/quota"
	"github.com/voltedge/voltedge/internal/registry"
	"github.com/voltedge/voltedge/internal/server"
)

func main() {
	// 1. Load and validate environment config
	cfg, err := config.LoadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	if cfg.Password == "" {
		log.Println("[main] no VOLTEDGE_PASSWORD set, proxy routes are open")
	} else if config.IsWeakSecret(cfg.Password) {
		log.Println("[main] VOLTEDGE_PASSWORD is weak, consider a longer random secret")
	}

	routes, err := config.LoadRoutes(cfg.RoutesFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	// 2. Country lookups
	geo := geoip.NewService(geoip.ServiceConfig{
		DBPath:         cfg.GeoIPDB,
		ReloadSchedule: cfg.GeoIPReloadSchedule,
	})
	if err := geo.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	defer geo.Stop()

	// 3. Quota store: SQLite when a path is configured, memory otherwise
	var store quota.CounterStore
	if cfg.QuotaDB != "" {
		sqlStore, err := quota.OpenSQLStore(cfg.QuotaDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		store = sqlStore
	} else {
		store = quota.NewMemoryStore()
	}
	defer store.Close()

	deduper, err := quota.NewDeduper(quota.DedupScope(cfg.DedupScope), cfg.DedupTTL, 1<<16)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	defer deduper.Close()

	manager := quota.NewManager(store, deduper, quota.ManagerConfig{
		Limit:           cfg.DailyLimit,
		ExemptIPs:       cfg.QuotaExemptIPs,
		CleanupSchedule: cfg.QuotaCleanupSchedule,
	})
	manager.Start()
	defer manager.Stop()

	// 4. Access rules and proxy subsystems
	filter := access.NewFilter(access.Config{
		Secret:          cfg.Password,
		Blacklist:       cfg.Blacklist,
		Whitelist:       cfg.Whitelist,
		AllowIPs:        cfg.AllowIPs,
		AllowCountries:  cfg.AllowCountries,
		AdminIPs:        cfg.AdminIPs,
		TrustedReferers: cfg.TrustedReferers,
	}, geo)

	var respCache *engine.ResponseCache
	if cfg.EnableCache {
		respCache, err = engine.NewResponseCache(cfg.CacheCapacity, cfg.CacheTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		defer respCache.Close()
	}

	router := registry.NewRouter(routes.Registries)

	// 5. HTTP front end
	srv := server.New(server.Deps{
		Config:  cfg,
		Filter:  filter,
		Engine:  engine.New(filter, respCache, cfg.MaxRedirects, cfg.UpstreamTimeout),
		Docker:  docker.NewAdapter(router, cfg.UpstreamTimeout),
		Tokens:  docker.NewTokenRelay(router, cfg.UpstreamTimeout),
		Mirrors: mirror.NewRelay(routes.Mirrors, cfg.UpstreamTimeout),
		Quota:   manager,
	})

	go func() {
		log.Printf("voltedge %s (%s) listening on %s:%d",
			buildinfo.Version, buildinfo.GitCommit, cfg.ListenAddress, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// 6. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("Received signal %s, shutting down...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
