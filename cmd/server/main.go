package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/engage-analytics/internal/analytics"
	"github.com/ignite/engage-analytics/internal/api"
	"github.com/ignite/engage-analytics/internal/cache"
	"github.com/ignite/engage-analytics/internal/config"
	"github.com/ignite/engage-analytics/internal/mailer"
	"github.com/ignite/engage-analytics/internal/ratelimit"
	"github.com/ignite/engage-analytics/internal/realtime"
	"github.com/ignite/engage-analytics/internal/recorder"
	"github.com/ignite/engage-analytics/internal/store"
	"github.com/ignite/engage-analytics/internal/tracking"
)

func main() {
	log.Println("Engage Analytics server starting")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	// Redis is optional; without it live event notifications are skipped.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Redis unreachable, live notifications disabled: %v", err)
			redisClient = nil
		} else {
			log.Println("Connected to Redis")
		}
		cancel()
	}

	st := store.NewPostgres(db)
	analyticsCache := cache.New(nil)
	engine := analytics.NewEngine(st, analyticsCache)
	rec := recorder.New(st)
	injector := tracking.NewInjector(st, cfg.Tracking.BaseURL, cfg.Tracking.SigningKey)

	invalidator := realtime.NewInvalidator(rec.Events(), analyticsCache, redisClient)
	invalidator.Start()
	defer invalidator.Stop()

	var sender *mailer.Sender
	if cfg.Mailer.Enabled {
		sesClient, err := mailer.NewSESClient(context.Background(), cfg.SES)
		if err != nil {
			log.Fatalf("Failed to initialize SES client: %v", err)
		}
		sender = mailer.NewSender(sesClient, st, injector, rec, cfg.Mailer.FromAddress, cfg.Mailer.FromName)
		log.Printf("Mailer enabled, sending as %s <%s>", cfg.Mailer.FromName, cfg.Mailer.FromAddress)
	} else {
		log.Println("Mailer disabled, send endpoint will answer 503")
	}

	rps := cfg.Tracking.RateLimitPerSecond
	if rps == 0 {
		rps = 10
	}
	burst := cfg.Tracking.RateLimitBurst
	if burst == 0 {
		burst = 30
	}
	limiter := ratelimit.NewLimiter(rps, burst)

	handlers := api.NewHandlers(engine, rec, injector, st, sender)
	server := api.NewServer(handlers, limiter)

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.GetPort())
	go func() {
		log.Printf("Listening on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
