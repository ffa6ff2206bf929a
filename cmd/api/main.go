package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"accessgrid.org/internal/access"
	"accessgrid.org/internal/cache"
	"accessgrid.org/internal/config"
	"accessgrid.org/internal/httpapi"
	"accessgrid.org/internal/obs"
	"accessgrid.org/internal/store/memory"
	"accessgrid.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var (
		store access.Store
		probe httpapi.ReadyProbe
	)
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		log.Printf("no ACCESSGRID_PG_DSN set, using in-memory store")
		store = memory.New()
	}

	svc, err := access.NewService(store, nil)
	if err != nil {
		log.Fatalf("service: %v", err)
	}
	engine, err := access.NewResolver(store)
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}
	resolver, err := cache.New(engine, rdb, cfg.CacheTTL)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	svc.SetInvalidator(resolver)

	api, err := httpapi.New(httpapi.Options{
		Service:   svc,
		Resolver:  resolver,
		Auth:      httpapi.NewAuthenticator(cfg.AuthSecret),
		Ready:     probe,
		Version:   version,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	})
	if err != nil {
		log.Fatalf("api: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting accessgrid-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
