package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect создаёт пул подключений к Postgres.
func Connect(dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 5
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS chats (
		id BIGINT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		active_round_tag TEXT NOT NULL DEFAULT '',
		window_closes_at TIMESTAMPTZ,
		last_fired_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS members (
		user_id BIGINT PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS signals (
		chat_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		round_tag TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (chat_id, user_id, round_tag)
	)`,
	`CREATE TABLE IF NOT EXISTS rounds (
		id BIGSERIAL PRIMARY KEY,
		chat_id BIGINT NOT NULL,
		round_tag TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (chat_id, round_tag)
	)`,
	`CREATE INDEX IF NOT EXISTS rounds_chat_idx ON rounds (chat_id, id DESC)`,
	`CREATE TABLE IF NOT EXISTS round_pairs (
		round_id BIGINT NOT NULL REFERENCES rounds (id) ON DELETE CASCADE,
		a BIGINT NOT NULL,
		b BIGINT NOT NULL,
		c BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS cycle_fires (
		chat_id BIGINT NOT NULL,
		scheduled_for TIMESTAMPTZ NOT NULL,
		acquired_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (chat_id, scheduled_for)
	)`,
	`CREATE TABLE IF NOT EXISTS announcements (
		id BIGSERIAL PRIMARY KEY,
		body TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS pairing_job_statuses (
		job_id TEXT PRIMARY KEY,
		delivered_at TIMESTAMPTZ,
		attempts INT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate приводит схему к актуальному виду при старте.
func Migrate(pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
