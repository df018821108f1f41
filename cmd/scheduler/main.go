package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tg-pairbot/internal/adapters/repo"
	"tg-pairbot/internal/adapters/telegram"
	"tg-pairbot/internal/infra/cache"
	"tg-pairbot/internal/infra/config"
	"tg-pairbot/internal/infra/db"
	applog "tg-pairbot/internal/infra/log"
	"tg-pairbot/internal/infra/metrics"
	"tg-pairbot/internal/infra/queue"
	"tg-pairbot/internal/usecase/cycle"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()
	if err := db.Migrate(pool); err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось применить схему БД")
	}

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("scheduler: не указан адрес Redis (REDIS_ADDR)")
	}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pairingQueue, err := queue.NewFromConfig(cfg.Queues.Backend, redisClient, cfg.RabbitURL, cfg.Queues.Pairing)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось инициализировать очередь")
	}

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("scheduler: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось создать бота")
	}

	schedule, err := cycle.ParseSchedule(cfg.Cycle.Spec, cfg.TZ)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: неверное расписание цикла")
	}

	repoAdapter := repo.NewPostgres(pool)
	messenger := telegram.NewMessenger(botAPI, logger)
	cycleService := cycle.NewService(repoAdapter, pairingQueue, messenger, cache.NewRedis(redisClient), schedule, time.Duration(cfg.Cycle.WindowMinutes)*time.Minute, logger)

	logger.Info().Str("spec", cfg.Cycle.Spec).Str("tz", cfg.TZ).Msg("scheduler: запуск цикла")
	if err := cycleService.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("scheduler: цикл остановлен с ошибкой")
	}
	logger.Info().Msg("scheduler: остановлен")
}
