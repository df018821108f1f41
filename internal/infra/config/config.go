package config

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Moscow"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Telegram struct {
		Token      string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL string `envconfig:"TG_WEBHOOK_URL"`
	} `envconfig:""`

	// OwnerID — Telegram id владельца бота, единственного, кому доступны
	// команды объявлений.
	OwnerID int64 `envconfig:"OWNER_ID"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBIT_URL"`

	Queues struct {
		// Backend выбирает брокер очереди: redis либо rabbit.
		Backend string `envconfig:"QUEUE_BACKEND" default:"redis"`
		Pairing string `envconfig:"PAIRING_QUEUE_KEY" default:"pairing_jobs"`
	} `envconfig:""`

	Pairing struct {
		// RoundsToAvoid — глубина окна анти-повтора в раундах.
		RoundsToAvoid int `envconfig:"ROUNDS_TO_AVOID" default:"5"`
	} `envconfig:""`

	Cycle struct {
		// Spec — cron-выражение расписания цикла в таймзоне TZ.
		Spec          string `envconfig:"CYCLE_SPEC" default:"0 15 * * 1"`
		WindowMinutes int    `envconfig:"CYCLE_WINDOW_MINUTES" default:"60"`
	} `envconfig:""`

	Broadcast struct {
		RPS float64 `envconfig:"BROADCAST_RPS" default:"5"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения. .env читается, если присутствует.
func Load() AppConfig {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
