package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ads-marketplace/deposit-tracker/internal/auth"
	"github.com/ads-marketplace/deposit-tracker/internal/cache"
	"github.com/ads-marketplace/deposit-tracker/internal/config"
	"github.com/ads-marketplace/deposit-tracker/internal/db"
	"github.com/ads-marketplace/deposit-tracker/internal/depositapi"
	"github.com/ads-marketplace/deposit-tracker/internal/events"
	"github.com/ads-marketplace/deposit-tracker/internal/intent"
	"github.com/ads-marketplace/deposit-tracker/internal/polling"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const usage = `usage:
  deposit-watch send --deal <id> --to <address> --amount <TON>
  deposit-watch resume [--user <uuid>]
  deposit-watch clear`

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Redis is optional outside INTENT_STORAGE=redis; it only adds cache
	// invalidation and event publishing to resume.
	var rdb *redis.Client
	if cfg.IntentStorage == "redis" || os.Args[1] == "resume" {
		client, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
		switch {
		case err == nil:
			rdb = client
			defer rdb.Close()
		case cfg.IntentStorage == "redis":
			log.Fatal("failed to connect to redis", zap.Error(err))
		default:
			log.Warn("redis unavailable, running without cache invalidation and events", zap.Error(err))
		}
	}

	store := intent.NewStore(newIntentStorage(cfg, rdb), log)

	var err error
	switch os.Args[1] {
	case "send":
		err = runSend(ctx, store, os.Args[2:], time.Now)
	case "resume":
		err = resume(ctx, cfg, rdb, store, os.Args[2:], log)
	case "clear":
		store.Clear(ctx)
	default:
		err = fmt.Errorf("unknown command %q\n%s", os.Args[1], usage)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newIntentStorage(cfg *config.Config, rdb *redis.Client) intent.Storage {
	switch cfg.IntentStorage {
	case "redis":
		return intent.NewRedisStorage(rdb, cfg.IntentSessionID, cfg.IntentSessionTTL)
	case "memory":
		return intent.NewMemoryStorage()
	default:
		return intent.NewFileStorage(cfg.IntentFilePath)
	}
}

func resume(ctx context.Context, cfg *config.Config, rdb *redis.Client, store *intent.Store, args []string, log *zap.Logger) error {
	userID, err := parseResumeFlags(args)
	if err != nil {
		return err
	}

	token := cfg.DepositAPIToken
	if token == "" && userID != uuid.Nil {
		token, err = auth.GenerateJWT(cfg.JWTSecret, userID, 0, cfg.JWTExpiration)
		if err != nil {
			return fmt.Errorf("issue api token: %w", err)
		}
	}

	opts := []polling.Option{polling.WithRetry(cfg.DepositFetchRetries, polling.DefaultRetryDelay)}
	if rdb != nil {
		opts = append(opts,
			polling.WithInvalidator(cache.NewDealCache(rdb, cfg.DealCacheTTL, log)),
			polling.WithPublisher(events.NewRedisPublisher(rdb, log)),
		)
	}
	coord := polling.NewCoordinator(depositapi.NewClient(cfg.DepositAPIURL, token, log), log, opts...)

	outcome, err := runResume(ctx, store, coord, cfg.DepositPollInterval, cfg.DepositPollTimeout, os.Stdout)
	if err != nil {
		return err
	}
	if outcome == outcomeTimeout {
		return fmt.Errorf("deposit not confirmed within %s", cfg.DepositPollTimeout)
	}
	return nil
}
