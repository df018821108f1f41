package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-pairbot/internal/domain"
	"tg-pairbot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ChatRepo         = (*Postgres)(nil)
	_ domain.MemberRepo       = (*Postgres)(nil)
	_ domain.SignalRepo       = (*Postgres)(nil)
	_ domain.RoundRepo        = (*Postgres)(nil)
	_ domain.AnnouncementRepo = (*Postgres)(nil)
	_ domain.JobStatusRepo    = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// UpsertChat реализует domain.ChatRepo.
func (p *Postgres) UpsertChat(chatID int64, title string) (domain.Chat, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO chats (id, title)
VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title
RETURNING id, title, active_round_tag, window_closes_at, last_fired_at, created_at
`, chatID, title)
	chat, err := scanChat(row)
	metrics.ObserveNetworkRequest("postgres", "chats_upsert", "chats", start, err)
	return chat, err
}

// GetChat возвращает чат по id.
func (p *Postgres) GetChat(chatID int64) (domain.Chat, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT id, title, active_round_tag, window_closes_at, last_fired_at, created_at
FROM chats WHERE id = $1
`, chatID)
	chat, err := scanChat(row)
	metrics.ObserveNetworkRequest("postgres", "chats_get", "chats", start, err)
	return chat, err
}

// ListChats возвращает все известные чаты.
func (p *Postgres) ListChats() ([]domain.Chat, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, title, active_round_tag, window_closes_at, last_fired_at, created_at
FROM chats ORDER BY created_at
`)
	metrics.ObserveNetworkRequest("postgres", "chats_list", "chats", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []domain.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (domain.Chat, error) {
	var (
		chat      domain.Chat
		closesAt  sql.NullTime
		lastFired sql.NullTime
	)
	if err := row.Scan(&chat.ID, &chat.Title, &chat.ActiveRoundTag, &closesAt, &lastFired, &chat.CreatedAt); err != nil {
		return domain.Chat{}, err
	}
	if closesAt.Valid {
		t := closesAt.Time
		chat.WindowClosesAt = &t
	}
	if lastFired.Valid {
		t := lastFired.Time
		chat.LastFiredAt = &t
	}
	return chat, nil
}

// OpenWindow переводит чат в состояние открытого окна.
func (p *Postgres) OpenWindow(chatID int64, roundTag string, closesAt time.Time) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE chats SET active_round_tag = $2, window_closes_at = $3 WHERE id = $1
`, chatID, roundTag, closesAt)
	metrics.ObserveNetworkRequest("postgres", "chats_open_window", "chats", start, err)
	return err
}

// CloseWindow атомарно закрывает окно с указанным тегом. Условие по тегу
// защищает от гонки планировщика и ручного /pair.
func (p *Postgres) CloseWindow(chatID int64, roundTag string) (bool, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE chats SET active_round_tag = '', window_closes_at = NULL
WHERE id = $1 AND active_round_tag = $2
`, chatID, roundTag)
	metrics.ObserveNetworkRequest("postgres", "chats_close_window", "chats", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// MarkFired фиксирует момент расписания, на который цикл сработал.
func (p *Postgres) MarkFired(chatID int64, firedAt time.Time) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE chats SET last_fired_at = $2 WHERE id = $1`, chatID, firedAt)
	metrics.ObserveNetworkRequest("postgres", "chats_mark_fired", "chats", start, err)
	return err
}

// AcquireCycle вставляет запись о срабатывании и возвращает true, если
// период достался этому процессу.
func (p *Postgres) AcquireCycle(chatID int64, scheduledFor time.Time) (bool, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
INSERT INTO cycle_fires (chat_id, scheduled_for)
VALUES ($1, $2)
ON CONFLICT (chat_id, scheduled_for) DO NOTHING
`, chatID, scheduledFor)
	metrics.ObserveNetworkRequest("postgres", "cycle_fires_acquire", "cycle_fires", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// UpsertMember реализует domain.MemberRepo.
func (p *Postgres) UpsertMember(m domain.Member) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO members (user_id, username, first_name, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (user_id) DO UPDATE
    SET username = EXCLUDED.username,
        first_name = EXCLUDED.first_name,
        updated_at = now()
`, m.UserID, m.Username, m.FirstName)
	metrics.ObserveNetworkRequest("postgres", "members_upsert", "members", start, err)
	return err
}

// GetMembers возвращает известные профили по списку id.
func (p *Postgres) GetMembers(userIDs []int64) (map[int64]domain.Member, error) {
	out := make(map[int64]domain.Member)
	if len(userIDs) == 0 {
		return out, nil
	}
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT user_id, username, first_name FROM members WHERE user_id = ANY($1)
`, userIDs)
	metrics.ObserveNetworkRequest("postgres", "members_get", "members", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.UserID, &m.Username, &m.FirstName); err != nil {
			return nil, err
		}
		out[m.UserID] = m
	}
	return out, rows.Err()
}

// SetSignal реализует domain.SignalRepo: действует последний сигнал.
func (p *Postgres) SetSignal(chatID, userID int64, roundTag string, status domain.SignalStatus) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO signals (chat_id, user_id, round_tag, status, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (chat_id, user_id, round_tag) DO UPDATE
    SET status = EXCLUDED.status,
        updated_at = now()
`, chatID, userID, roundTag, string(status))
	metrics.ObserveNetworkRequest("postgres", "signals_set", "signals", start, err)
	return err
}

// ReadySet возвращает участников окна со статусом ready по возрастанию id.
func (p *Postgres) ReadySet(chatID int64, roundTag string) ([]int64, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT user_id FROM signals
WHERE chat_id = $1 AND round_tag = $2 AND status = 'ready'
ORDER BY user_id
`, chatID, roundTag)
	metrics.ObserveNetworkRequest("postgres", "signals_ready_set", "signals", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteUserData удаляет заявки и профиль пользователя.
func (p *Postgres) DeleteUserData(userID int64) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM signals WHERE user_id = $1`, userID)
	metrics.ObserveNetworkRequest("postgres", "signals_delete_user", "signals", start, err)
	if err != nil {
		return err
	}
	start = time.Now()
	_, err = p.pool.Exec(ctx, `DELETE FROM members WHERE user_id = $1`, userID)
	metrics.ObserveNetworkRequest("postgres", "members_delete_user", "members", start, err)
	return err
}

// AppendRound записывает раунд и его группы транзакционно.
func (p *Postgres) AppendRound(chatID int64, roundTag string, groups []domain.PairGroup) (domain.Round, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "rounds", start, err)
	if err != nil {
		return domain.Round{}, err
	}
	defer tx.Rollback(ctx)

	round := domain.Round{ChatID: chatID, RoundTag: roundTag, Groups: groups}
	start = time.Now()
	err = tx.QueryRow(ctx, `
INSERT INTO rounds (chat_id, round_tag)
VALUES ($1, $2)
RETURNING id, created_at
`, chatID, roundTag).Scan(&round.ID, &round.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "rounds_insert", "rounds", start, err)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Round{}, domain.ErrRoundExists
		}
		return domain.Round{}, err
	}

	batch := &pgx.Batch{}
	for _, g := range groups {
		var c sql.NullInt64
		if g.IsTriad() {
			c = sql.NullInt64{Int64: g.C, Valid: true}
		}
		batch.Queue(`INSERT INTO round_pairs (round_id, a, b, c) VALUES ($1, $2, $3, $4)`, round.ID, g.A, g.B, c)
	}
	start = time.Now()
	br := tx.SendBatch(ctx, batch)
	metrics.ObserveNetworkRequest("postgres", "round_pairs_send_batch", "round_pairs", start, nil)
	for range groups {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return domain.Round{}, err
		}
	}
	if err := br.Close(); err != nil {
		return domain.Round{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "rounds", start, err)
	if err != nil {
		return domain.Round{}, err
	}
	return round, nil
}

// GetRoundByTag возвращает ранее записанный раунд с группами.
func (p *Postgres) GetRoundByTag(chatID int64, roundTag string) (domain.Round, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT id, chat_id, round_tag, created_at FROM rounds
WHERE chat_id = $1 AND round_tag = $2
`, chatID, roundTag)
	var round domain.Round
	err := row.Scan(&round.ID, &round.ChatID, &round.RoundTag, &round.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "rounds_get_by_tag", "rounds", start, err)
	if err != nil {
		return domain.Round{}, err
	}

	groups, err := p.loadGroups(ctx, []int64{round.ID})
	if err != nil {
		return domain.Round{}, err
	}
	round.Groups = groups[round.ID]
	return round, nil
}

// ListRecentRounds возвращает до k последних раундов чата, новые первыми.
func (p *Postgres) ListRecentRounds(chatID int64, k int) ([]domain.Round, error) {
	if k <= 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, chat_id, round_tag, created_at FROM rounds
WHERE chat_id = $1 ORDER BY id DESC LIMIT $2
`, chatID, k)
	metrics.ObserveNetworkRequest("postgres", "rounds_list_recent", "rounds", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		rounds []domain.Round
		ids    []int64
	)
	for rows.Next() {
		var round domain.Round
		if err := rows.Scan(&round.ID, &round.ChatID, &round.RoundTag, &round.CreatedAt); err != nil {
			return nil, err
		}
		rounds = append(rounds, round)
		ids = append(ids, round.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(rounds) == 0 {
		return nil, nil
	}

	groups, err := p.loadGroups(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range rounds {
		rounds[i].Groups = groups[rounds[i].ID]
	}
	return rounds, nil
}

func (p *Postgres) loadGroups(ctx context.Context, roundIDs []int64) (map[int64][]domain.PairGroup, error) {
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT round_id, a, b, c FROM round_pairs WHERE round_id = ANY($1)
`, roundIDs)
	metrics.ObserveNetworkRequest("postgres", "round_pairs_load", "round_pairs", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]domain.PairGroup)
	for rows.Next() {
		var (
			roundID int64
			g       domain.PairGroup
			c       sql.NullInt64
		)
		if err := rows.Scan(&roundID, &g.A, &g.B, &c); err != nil {
			return nil, err
		}
		if c.Valid {
			g.C = c.Int64
		}
		out[roundID] = append(out[roundID], g)
	}
	return out, rows.Err()
}

// AddAnnouncement реализует domain.AnnouncementRepo.
func (p *Postgres) AddAnnouncement(body string) (domain.Announcement, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	a := domain.Announcement{Body: body}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO announcements (body) VALUES ($1) RETURNING id, created_at
`, body).Scan(&a.ID, &a.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "announcements_insert", "announcements", start, err)
	return a, err
}

// ListAnnouncements возвращает объявления, старые первыми.
func (p *Postgres) ListAnnouncements() ([]domain.Announcement, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT id, body, created_at FROM announcements ORDER BY id`)
	metrics.ObserveNetworkRequest("postgres", "announcements_list", "announcements", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Announcement
	for rows.Next() {
		var a domain.Announcement
		if err := rows.Scan(&a.ID, &a.Body, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAnnouncement возвращает объявление по id.
func (p *Postgres) GetAnnouncement(id int64) (domain.Announcement, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var a domain.Announcement
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT id, body, created_at FROM announcements WHERE id = $1`, id).
		Scan(&a.ID, &a.Body, &a.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "announcements_get", "announcements", start, err)
	return a, err
}

// DeleteAnnouncement удаляет объявление и сообщает, существовало ли оно.
func (p *Postgres) DeleteAnnouncement(id int64) (bool, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `DELETE FROM announcements WHERE id = $1`, id)
	metrics.ObserveNetworkRequest("postgres", "announcements_delete", "announcements", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// EnsureJob регистрирует попытку обработки задачи подбора.
func (p *Postgres) EnsureJob(jobID string) (bool, int, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var (
		delivered sql.NullTime
		attempts  int
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO pairing_job_statuses (job_id, attempts, updated_at)
VALUES ($1, 1, now())
ON CONFLICT (job_id) DO UPDATE
    SET attempts = pairing_job_statuses.attempts + 1,
        updated_at = now()
RETURNING delivered_at, attempts
`, jobID).Scan(&delivered, &attempts)
	metrics.ObserveNetworkRequest("postgres", "pairing_job_statuses_upsert", "pairing_job_statuses", start, err)
	if err != nil {
		return false, 0, err
	}
	return delivered.Valid, attempts, nil
}

// MarkJobDelivered помечает задачу как доставленную.
func (p *Postgres) MarkJobDelivered(jobID string) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE pairing_job_statuses
SET delivered_at = COALESCE(delivered_at, now()),
    updated_at = now()
WHERE job_id = $1
`, jobID)
	metrics.ObserveNetworkRequest("postgres", "pairing_job_statuses_mark_delivered", "pairing_job_statuses", start, err)
	return err
}
