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
	"github.com/rs/zerolog"

	"tg-pairbot/internal/adapters/repo"
	"tg-pairbot/internal/adapters/telegram"
	"tg-pairbot/internal/domain"
	"tg-pairbot/internal/infra/config"
	"tg-pairbot/internal/infra/db"
	applog "tg-pairbot/internal/infra/log"
	"tg-pairbot/internal/infra/metrics"
	"tg-pairbot/internal/infra/queue"
	pairingusecase "tg-pairbot/internal/usecase/pairing"
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
		logger.Fatal().Err(err).Msg("pairing-worker: нет подключения к БД")
	}
	defer pool.Close()
	if err := db.Migrate(pool); err != nil {
		logger.Fatal().Err(err).Msg("pairing-worker: не удалось применить схему БД")
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	pairingQueue, err := queue.NewFromConfig(cfg.Queues.Backend, redisClient, cfg.RabbitURL, cfg.Queues.Pairing)
	if err != nil {
		logger.Fatal().Err(err).Msg("pairing-worker: не удалось инициализировать очередь")
	}

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("pairing-worker: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("pairing-worker: не удалось создать бота")
	}

	repoAdapter := repo.NewPostgres(pool)
	pairingService := pairingusecase.NewService(repoAdapter, repoAdapter, repoAdapter, cfg.Pairing.RoundsToAvoid)

	worker := &jobWorker{
		log:       logger,
		queue:     pairingQueue,
		statuses:  repoAdapter,
		service:   pairingService,
		messenger: telegram.NewMessenger(botAPI, logger),
	}

	logger.Info().Msg("pairing-worker: запуск обработки очереди")
	worker.Run(ctx)
	logger.Info().Msg("pairing-worker: остановлен")
}

type jobWorker struct {
	log       zerolog.Logger
	queue     domain.PairingQueue
	statuses  domain.JobStatusRepo
	service   *pairingusecase.Service
	messenger domain.Messenger
}

const maxDeliveryAttempts = 5

type jobOutcome int

const (
	jobOutcomeCompleted jobOutcome = iota
	jobOutcomeRetry
)

func (w *jobWorker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("pairing-worker: ошибка чтения очереди")
			time.Sleep(time.Second)
			continue
		}

		jobLog := w.log.With().
			Str("job_id", job.ID).
			Int64("chat_id", job.ChatID).
			Str("round_tag", job.RoundTag).
			Str("cause", string(job.Cause)).
			Logger()

		if job.ID == "" || job.RoundTag == "" {
			jobLog.Error().Msg("pairing-worker: получена неполная задача, подтверждаем и пропускаем")
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("pairing-worker: не удалось подтвердить неполную задачу")
			}
			continue
		}

		delivered, attempt, err := w.statuses.EnsureJob(job.ID)
		if err != nil {
			jobLog.Error().Err(err).Msg("pairing-worker: не удалось зарегистрировать задачу")
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("pairing-worker: не удалось вернуть задачу в очередь")
			}
			time.Sleep(time.Second)
			continue
		}

		jobLog = jobLog.With().Int("attempt", attempt).Logger()

		if delivered {
			jobLog.Info().Msg("pairing-worker: задача уже была доставлена, подтверждаем")
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("pairing-worker: не удалось подтвердить ранее доставленную задачу")
			}
			continue
		}

		outcome := w.handleJob(ctx, job, jobLog)

		if outcome == jobOutcomeRetry && attempt < maxDeliveryAttempts {
			jobLog.Warn().Msg("pairing-worker: задача завершилась ошибкой, повторим позже")
			if err := ack(false); err != nil {
				jobLog.Error().Err(err).Msg("pairing-worker: не удалось вернуть задачу после ошибки")
			}
			continue
		}

		if outcome == jobOutcomeRetry {
			jobLog.Error().Msg("pairing-worker: достигнут предел попыток, помечаем задачу как завершённую")
		}

		if err := w.statuses.MarkJobDelivered(job.ID); err != nil {
			jobLog.Error().Err(err).Msg("pairing-worker: не удалось пометить задачу доставленной")
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("pairing-worker: не удалось вернуть задачу после ошибки статуса")
			}
			time.Sleep(time.Second)
			continue
		}

		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("pairing-worker: не удалось подтвердить задачу")
		}
	}
}

func (w *jobWorker) handleJob(ctx context.Context, job domain.PairingJob, jobLog zerolog.Logger) jobOutcome {
	round, err := w.service.BuildRound(job.ChatID, job.RoundTag)
	switch {
	case errors.Is(err, pairingusecase.ErrNotEnoughParticipants):
		// Пустое окно — штатный исход раунда, не ошибка.
		jobLog.Info().Msg("pairing-worker: слишком мало участников, раунд пропущен")
		w.sendPlain(ctx, job.ChatID, "В этом раунде слишком мало участников — пары не составлены. Попробуем в следующий раз!")
		return jobOutcomeCompleted
	case errors.Is(err, domain.ErrRoundExists):
		// Повторная доставка: раунд уже записан, публикуем его ещё раз.
		jobLog.Info().Msg("pairing-worker: раунд уже записан, публикуем повторно")
		round, err = w.service.RoundByTag(job.ChatID, job.RoundTag)
		if err != nil {
			jobLog.Error().Err(err).Msg("pairing-worker: не удалось прочитать записанный раунд")
			return jobOutcomeRetry
		}
	case err != nil:
		jobLog.Error().Err(err).Msg("pairing-worker: ошибка построения раунда")
		return jobOutcomeRetry
	}

	members, err := w.service.MembersOf(round)
	if err != nil {
		jobLog.Error().Err(err).Msg("pairing-worker: не удалось получить профили участников")
		return jobOutcomeRetry
	}

	message := pairingusecase.FormatRound(round, members)
	if err := w.messenger.SendHTML(ctx, job.ChatID, message); err != nil {
		jobLog.Error().Err(err).Msg("pairing-worker: отправка результата")
		return jobOutcomeRetry
	}
	jobLog.Info().Int("groups", len(round.Groups)).Msg("pairing-worker: раунд опубликован")
	return jobOutcomeCompleted
}

func (w *jobWorker) sendPlain(ctx context.Context, chatID int64, text string) {
	if err := w.messenger.SendMessage(ctx, chatID, text); err != nil {
		w.log.Error().Err(err).Int64("chat_id", chatID).Msg("pairing-worker: не удалось отправить сообщение")
	}
}
