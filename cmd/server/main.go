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

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/dreamforge-ai/dreamforge/internal/backend"
	"github.com/dreamforge-ai/dreamforge/internal/config"
	"github.com/dreamforge-ai/dreamforge/internal/gpu"
	"github.com/dreamforge-ai/dreamforge/internal/handler"
	"github.com/dreamforge-ai/dreamforge/internal/middleware"
	"github.com/dreamforge-ai/dreamforge/internal/queue"
	"github.com/dreamforge-ai/dreamforge/internal/result"
	"github.com/dreamforge-ai/dreamforge/internal/scheduler"
	"github.com/dreamforge-ai/dreamforge/internal/service"
	"github.com/dreamforge-ai/dreamforge/internal/storage"
	"github.com/dreamforge-ai/dreamforge/internal/store"
	"github.com/dreamforge-ai/dreamforge/internal/ws"
)

func main() {
	// ── Configuration ──
	cfg := config.Load()

	// ── Redis ──
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	log.Println("connected to Redis at", cfg.RedisAddr)

	// ── SQL Store ──
	dbDSN := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)
	st, err := store.NewStore(dbDSN)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	log.Printf("database initialised: %s@%s:%s/%s", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)

	// ── GPU Registry & Balancer ──
	// No validated device is a fatal configuration failure: the scheduler
	// must not accept tasks it can never serve.
	registry, err := gpu.NewRegistry(gpu.ConfigProber{Spec: cfg.GPUDevices}, cfg.MinMemoryGB)
	if err != nil {
		log.Fatalf("failed to init GPU registry: %v", err)
	}
	balancer := gpu.NewBalancer(registry)
	log.Printf("GPU registry initialised with %d device(s)", registry.Count())

	// ── Inference Backend ──
	gen := backend.NewHTTPGenerator(cfg.BackendURL, cfg.BackendTimeout)
	selector := backend.NewSelector(gen)
	for _, d := range registry.Devices() {
		if err := selector.LoadOnDevice(ctx, d.ID,
			backend.VariantSDXLBase, backend.VariantSDXLTurbo, backend.VariantLCM); err != nil {
			log.Fatalf("failed to load pipelines on device %s: %v", d.ID, err)
		}
	}

	// ── Style Presets ──
	styles := backend.DefaultStyles()
	if cfg.StylePresetPath != "" {
		styles, err = backend.LoadStyles(cfg.StylePresetPath)
		if err != nil {
			log.Fatalf("failed to load style presets: %v", err)
		}
		log.Printf("style presets loaded from %s", cfg.StylePresetPath)
	}

	// ── Artifact Storage ──
	artifacts, err := storage.NewMinioStore(ctx,
		cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init artifact storage: %v", err)
	}

	// ── Queue, Publisher, Hub ──
	q := queue.NewRedisQueue(rdb)
	hub := ws.NewHub()
	publisher := result.NewRedisPublisher(rdb, hub)

	// ── Scheduler (background worker pool) ──
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = registry.Count()
	}
	sched := scheduler.New(q, balancer, selector, gen, styles, artifacts, publisher, st, rdb, scheduler.Options{
		Workers:        workers,
		PollInterval:   cfg.PollInterval,
		AcquireBackoff: cfg.AcquireBackoff,
		MaxAttempts:    cfg.MaxAttempts,
		RetryDelay:     cfg.RetryDelay,
		StaleTaskAge:   cfg.StaleTaskAge,
		SweepInterval:  cfg.SweepInterval,
		StatsTTL:       cfg.StatsTTL,
	})

	schedCtx, schedCancel := context.WithCancel(ctx)
	defer schedCancel()
	schedDone := make(chan struct{})
	go func() {
		sched.Run(schedCtx)
		close(schedDone)
	}()

	// ── Submission Service ──
	svc := service.NewGenerationService(q, styles, st)

	// ── Gin Router ──
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.Logger())

	h := handler.NewHandler(svc, balancer, hub)
	h.RegisterRoutes(r, middleware.AdminTokenAuth(cfg.AdminToken))

	// ── HTTP Server with graceful shutdown ──
	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: r,
	}

	go func() {
		log.Printf("server listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen error: %v", err)
		}
	}()

	// ── Graceful Shutdown ──
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server...")
	schedCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	// Let in-flight generations finish releasing their devices.
	select {
	case <-schedDone:
	case <-time.After(30 * time.Second):
		log.Println("scheduler drain timeout, exiting anyway")
	}

	for _, d := range registry.Devices() {
		selector.UnloadDevice(shutdownCtx, d.ID)
	}

	rdb.Close()
	log.Println("server exited cleanly")
}
