// The notifier drains the reminder schedule and notification outbox:
// due payment reminders are promoted to the outbox, and every outbox message
// is handed to the configured sender.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"field-service-backend/internal/config"
	"field-service-backend/internal/notify"
	"field-service-backend/internal/telemetry"
)

// sender delivers one message to its real channel. The default logs only;
// SMS/email integrations are collaborators outside this repo.
type sender func(ctx context.Context, msg notify.Message) error

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	dispatcher := notify.NewDispatcher(redisClient, cfg.ReminderOffsets)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	deliver := logSender(logger)
	logger.Info("notifier started", zap.Duration("poll", cfg.NotifierPoll))
	run(ctx, cfg, dispatcher, deliver, logger)
}

func run(ctx context.Context, cfg config.Config, d *notify.Dispatcher, deliver sender, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.NotifierPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if n, err := d.PromoteDue(ctx, time.Now(), int64(cfg.PromoteBatchSize)); err != nil {
			logger.Warn("promote reminders", zap.Error(err))
		} else if n > 0 {
			logger.Info("promoted due reminders", zap.Int("count", n))
		}

		for {
			msg, ok, err := d.PopOutbox(ctx)
			if err != nil {
				logger.Warn("pop outbox", zap.Error(err))
				break
			}
			if !ok {
				break
			}
			if err := deliver(ctx, msg); err != nil {
				logger.Error("deliver notification",
					zap.String("kind", msg.Kind),
					zap.String("recipient", msg.Recipient),
					zap.Error(err))
			}
		}
	}
}

func logSender(logger *zap.Logger) sender {
	return func(_ context.Context, msg notify.Message) error {
		logger.Info("notification",
			zap.String("kind", msg.Kind),
			zap.String("recipient", msg.Recipient),
			zap.String("job_id", msg.JobID),
			zap.String("body", msg.Body))
		return nil
	}
}
