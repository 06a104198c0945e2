package main

import (
	"context"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ads-marketplace/deposit-tracker/internal/cache"
	"github.com/ads-marketplace/deposit-tracker/internal/config"
	"github.com/ads-marketplace/deposit-tracker/internal/db"
	"github.com/ads-marketplace/deposit-tracker/internal/events"
	"github.com/ads-marketplace/deposit-tracker/internal/repositories"
	"github.com/ads-marketplace/deposit-tracker/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Expiry never classifies amounts, so the tolerance is irrelevant here.
	tracker := services.NewDepositTracker(
		repositories.NewEscrowRepo(pool),
		repositories.NewDealRepo(pool),
		repositories.NewAuditRepo(pool),
		cache.NewDealCache(rdb, cfg.DealCacheTTL, log),
		events.NewRedisPublisher(rdb, log),
		cfg.RequiredConfirmations,
		new(big.Int),
		log,
	)

	log.Info("worker started")

	expiryTicker := time.NewTicker(1 * time.Minute)
	defer expiryTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-expiryTicker.C:
			runDepositExpiry(ctx, tracker, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runDepositExpiry(ctx context.Context, tracker *services.DepositTracker, log *zap.Logger) {
	n, err := tracker.ExpireOverdue(ctx)
	if err != nil {
		log.Error("failed to expire overdue deposits", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("expired overdue deposits", zap.Int("count", n))
	}
}
