package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ads-marketplace/deposit-tracker/internal/config"
	"github.com/ads-marketplace/deposit-tracker/internal/db"
	"github.com/ads-marketplace/deposit-tracker/internal/events"
	"github.com/ads-marketplace/deposit-tracker/internal/services"
	"go.uber.org/zap"
)

// Bot Notify Bridge forwards deposit events that carry a recipient to the bot service.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	bot := services.NewBotClient(cfg.BotInternalURL, log)

	log.Info("bot-notify-bridge started")

	forward := func(event events.Event) {
		tgID, ok := telegramUserID(event.Payload["telegram_user_id"])
		if !ok {
			return
		}
		text, _ := event.Payload["text"].(string)
		if text == "" {
			text = services.DepositNotificationText(event)
		}
		if text == "" {
			return
		}

		sendCtx, sendCancel := context.WithTimeout(ctx, 10*time.Second)
		defer sendCancel()
		if err := bot.SendNotification(sendCtx, tgID, text); err != nil {
			log.Warn("failed to forward notification", zap.String("type", event.Type), zap.Error(err))
			return
		}
		log.Info("notification forwarded", zap.String("type", event.Type), zap.Int64("telegram_user_id", tgID))
	}

	for _, stream := range []string{events.StreamDeposit, events.StreamDeal} {
		if err := subscriber.Subscribe(ctx, stream, forward); err != nil {
			log.Fatal("failed to subscribe", zap.String("stream", stream), zap.Error(err))
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down bot-notify-bridge")
	cancel()
}

// telegramUserID accepts the id as published in-process or after a JSON round trip.
func telegramUserID(v any) (int64, bool) {
	switch id := v.(type) {
	case int64:
		return id, id != 0
	case float64:
		return int64(id), id != 0
	default:
		return 0, false
	}
}
