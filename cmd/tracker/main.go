package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/nandanugg/tracker-relay/config"
	"github.com/nandanugg/tracker-relay/module/core"
	"github.com/nandanugg/tracker-relay/module/core/domain"
)

func main() {
	cfg := config.Load()
	log := config.NewLogger(cfg)

	db, err := config.NewPostgres(cfg)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := config.EnsureSchema(context.Background(), db); err != nil {
		log.Fatalf("schema: %v", err)
	}

	var amqpConn *amqp.Connection
	if cfg.FanoutEnabled {
		amqpConn, err = config.NewRabbitMQ(cfg)
		if err != nil {
			log.Fatalf("rabbitmq: %v", err)
		}
		defer func() { _ = amqpConn.Close() }()
	}

	redisClient := config.NewRedis(cfg)
	defer func() { _ = redisClient.Close() }()

	coreModule, err := core.Build(cfg, db, amqpConn, redisClient, log)
	if err != nil {
		log.Fatalf("core module: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := coreModule.Start(ctx); err != nil {
		log.Fatalf("start tracker: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	// redis is only probed when the document store is the configured
	// endpoint
	var healthRedis *redis.Client
	if cfg.ConnectionMode == string(domain.ModeDocStore) {
		healthRedis = redisClient
	}
	health := config.NewHealthChecker(db, amqpConn, healthRedis, coreModule.EndpointHealth)
	health.Register(r)

	coreModule.RegisterRoutes(&r.RouterGroup)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Infof("listening on :%s", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}

	cancel()
	coreModule.Stop()
	log.Info("shutdown complete")
}
