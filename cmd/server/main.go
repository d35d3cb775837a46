// main wires the admission pipeline and keeps the server lifecycle small.
// Business logic lives in the internal service packages.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"kompetens/internal/apikey/service"
	"kompetens/internal/audit"
	"kompetens/internal/ddos"
	"kompetens/internal/gdpr"
	httpapi "kompetens/internal/http"
	"kompetens/internal/monitoring"
	"kompetens/internal/platform/cache"
	"kompetens/internal/platform/config"
	"kompetens/internal/platform/httpserver"
	"kompetens/internal/platform/logger"
	platformredis "kompetens/internal/platform/redis"
	rateservice "kompetens/internal/ratelimit/service"
	"kompetens/internal/tenant/guard"
	"kompetens/internal/tenant/namespace"
	"kompetens/internal/tenant/registry"
	"kompetens/internal/tenant/validator"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	// Cache store: Redis when configured, in-memory for local development.
	var store cache.Store
	var storeHealth func(context.Context) error
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		store = cache.NewRedisStore(redisClient.Client)
		storeHealth = redisClient.Health
		defer redisClient.Close()
		log.Info("using redis cache store")
	} else {
		store = cache.NewMemoryStore()
		log.Warn("redis not configured, using in-memory cache store")
	}

	// Municipality registry: Postgres when configured, otherwise in-memory
	// seeded with the development municipalities.
	var regStore registry.Store
	if cfg.Postgres.DSN != "" {
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			log.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		regStore = registry.NewPostgresStore(db)
		log.Info("using postgres municipality registry")
	} else {
		regStore = registry.NewMemoryStore()
		log.Warn("postgres not configured, using in-memory municipality registry")
	}
	reg := registry.NewService(regStore)
	if err := registry.Seed(context.Background(), reg, registry.DefaultSeed(), time.Now()); err != nil {
		log.Error("registry seeding failed", "error", err)
		os.Exit(1)
	}

	// Security audit trail: Kafka when seeds are configured, logs otherwise.
	var auditor audit.Publisher = audit.NewLogPublisher(log)
	if len(cfg.Kafka.Seeds) > 0 {
		kafkaPublisher, err := audit.NewKafkaPublisher(cfg.Kafka.Seeds, cfg.Kafka.Topic, log)
		if err != nil {
			log.Error("kafka audit publisher failed", "error", err)
			os.Exit(1)
		}
		defer kafkaPublisher.Close()
		auditor = kafkaPublisher
		log.Info("audit events publishing to kafka", "topic", cfg.Kafka.Topic)
	}

	sink := monitoring.WithLogging(monitoring.NewPrometheusSink(), log)

	limiter, err := rateservice.New(store, reg, log,
		rateservice.WithAuditPublisher(auditor),
		rateservice.WithSink(sink),
		rateservice.WithDefaults(cfg.Limits),
	)
	if err != nil {
		log.Error("rate limiter init failed", "error", err)
		os.Exit(1)
	}
	protector, err := ddos.New(store, reg, log,
		ddos.WithAuditPublisher(auditor),
		ddos.WithSink(sink),
		ddos.WithDefaults(cfg.Limits),
	)
	if err != nil {
		log.Error("ddos protector init failed", "error", err)
		os.Exit(1)
	}
	ns, err := namespace.New(store, log, namespace.WithSink(sink))
	if err != nil {
		log.Error("namespace service init failed", "error", err)
		os.Exit(1)
	}
	keys, err := service.New(ns, limiter, log,
		service.WithAuditPublisher(auditor),
		service.WithSink(sink),
	)
	if err != nil {
		log.Error("api key service init failed", "error", err)
		os.Exit(1)
	}
	manager, err := gdpr.New(ns, log,
		gdpr.WithAuditPublisher(auditor),
		gdpr.WithSink(sink),
	)
	if err != nil {
		log.Error("gdpr manager init failed", "error", err)
		os.Exit(1)
	}

	router := httpapi.NewRouter(httpapi.Services{
		StoreHealth: storeHealth,
		Registry:    reg,
		Limiter:     limiter,
		Protector:   protector,
		Keys:        keys,
		Namespace:   ns,
		Validator:   validator.New(log, validator.WithAuditPublisher(auditor), validator.WithSink(sink)),
		Guard:       guard.New(log, guard.WithAuditPublisher(auditor), guard.WithSink(sink)),
		GDPR:        manager,
	}, httpapi.Config{JWTSigningKey: cfg.JWTSigningKey}, log)

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting kompetens admission gateway", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
