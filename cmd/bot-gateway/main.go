package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tg-pairbot/internal/adapters/bot"
	"tg-pairbot/internal/adapters/repo"
	"tg-pairbot/internal/adapters/telegram"
	"tg-pairbot/internal/infra/cache"
	"tg-pairbot/internal/infra/config"
	"tg-pairbot/internal/infra/db"
	applog "tg-pairbot/internal/infra/log"
	"tg-pairbot/internal/infra/metrics"
	"tg-pairbot/internal/infra/queue"
	"tg-pairbot/internal/usecase/announce"
	"tg-pairbot/internal/usecase/cycle"
	"tg-pairbot/internal/usecase/roster"
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
		logger.Fatal().Err(err).Msg("bot-gateway: нет подключения к БД")
	}
	defer pool.Close()
	if err := db.Migrate(pool); err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось применить схему БД")
	}

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("bot-gateway: не указан адрес Redis (REDIS_ADDR)")
	}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pairingQueue, err := queue.NewFromConfig(cfg.Queues.Backend, redisClient, cfg.RabbitURL, cfg.Queues.Pairing)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось инициализировать очередь")
	}

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("bot-gateway: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось создать бота")
	}

	schedule, err := cycle.ParseSchedule(cfg.Cycle.Spec, cfg.TZ)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: неверное расписание цикла")
	}

	repoAdapter := repo.NewPostgres(pool)
	messenger := telegram.NewMessenger(botAPI, logger)
	cycleService := cycle.NewService(repoAdapter, pairingQueue, messenger, cache.NewRedis(redisClient), schedule, time.Duration(cfg.Cycle.WindowMinutes)*time.Minute, logger)
	rosterService := roster.NewService(repoAdapter, repoAdapter, repoAdapter)
	announceService := announce.NewService(repoAdapter, repoAdapter, messenger, cfg.Broadcast.RPS, logger)

	h := bot.NewHandler(botAPI, logger, rosterService, cycleService, announceService, cfg.OwnerID)

	r := chi.NewRouter()
	r.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: ":8080", Handler: r}
	go func() {
		logger.Info().Msg("bot-gateway: запущен")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("bot-gateway: HTTP сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("bot-gateway: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
