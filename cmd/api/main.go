package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crmgate.org/internal/audit"
	"crmgate.org/internal/auth"
	"crmgate.org/internal/config"
	"crmgate.org/internal/httpapi"
	"crmgate.org/internal/migrate"
	"crmgate.org/internal/obs"
	"crmgate.org/internal/store/pg"
	"crmgate.org/internal/tenant"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	store, err := pg.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()
	if cfg.Database.MaxOpenConns > 0 {
		store.DB().SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		store.DB().SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}

	mode, err := tenant.ParseMode(cfg.Tenancy.IsolationMode)
	if err != nil {
		log.Fatalf("isolation mode: %v", err)
	}

	authSvc, err := auth.NewService(auth.NewPGStore(store.DB()), cfg.Auth.Secret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTTL.Std()),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL.Std()),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	auditLog := audit.NewPGStore(store.DB())
	recorder := audit.NewRecorder(auditLog, cfg.Audit.Buffer)

	api := httpapi.New(httpapi.Deps{
		Auth:        authSvc,
		Scopes:      tenant.NewResolver(store.DB(), mode),
		Tenants:     store.Tenants(),
		Provisioner: migrate.NewManager(store.DB(), "", ""),
		Recorder:    recorder,
		AuditLog:    auditLog,
		Ready:       httpapi.ReadyProbe{Ping: store.Ping},
		Version:     version,
		Production:  cfg.Production(),
		Burst:       cfg.RateLimit.Burst,
		PerSecond:   cfg.RateLimit.PerSecond,
		MaxBody:     cfg.HTTP.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	obs.LogJSON(map[string]any{
		"level":          "info",
		"msg":            "starting crmgate-api",
		"version":        version,
		"addr":           srv.Addr,
		"isolation_mode": string(mode),
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	obs.LogJSON(map[string]any{"level": "info", "msg": "shutting down"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	// Drain buffered audit records before the pool closes.
	_ = recorder.Close(ctx)

	obs.LogJSON(map[string]any{"level": "info", "msg": "stopped"})
}
