package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ads-marketplace/deposit-tracker/internal/cache"
	"github.com/ads-marketplace/deposit-tracker/internal/config"
	"github.com/ads-marketplace/deposit-tracker/internal/db"
	"github.com/ads-marketplace/deposit-tracker/internal/events"
	apphttp "github.com/ads-marketplace/deposit-tracker/internal/http"
	"github.com/ads-marketplace/deposit-tracker/internal/http/handlers"
	"github.com/ads-marketplace/deposit-tracker/internal/repositories"
	"github.com/ads-marketplace/deposit-tracker/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	dealRepo := repositories.NewDealRepo(pool)
	escrowRepo := repositories.NewEscrowRepo(pool)
	dealCache := cache.NewDealCache(rdb, cfg.DealCacheTTL, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	depositService := services.NewDepositService(dealRepo, escrowRepo, repositories.NewAuditRepo(pool), dealCache, log)
	dealHandler := handlers.NewDealHandler(depositService, log)
	wsHub := handlers.NewWSHub(cfg.JWTSecret, subscriber, dealRepo, log)
	wsHub.Start(ctx)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, dealHandler, wsHub)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
