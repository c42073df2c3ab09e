package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"my-feed-bot/internal/domain"
	"my-feed-bot/internal/infra/metrics"
)

const channelColumns = `c.id, c.user_id, u.tg_user_id, c.username, COALESCE(c.title, ''), c.last_tg_message_id, c.created_at`

func scanChannel(row pgx.Row, extra ...any) (domain.Channel, error) {
	var (
		ch     domain.Channel
		cursor sql.NullInt64
	)
	dest := []any{&ch.ID, &ch.UserID, &ch.TGUserID, &ch.Username, &ch.Title, &cursor, &ch.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.Channel{}, err
	}
	if cursor.Valid {
		v := cursor.Int64
		ch.LastTGMessageID = &v
	}
	return ch, nil
}

func collectChannels(rows pgx.Rows) ([]domain.Channel, error) {
	defer rows.Close()
	var out []domain.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// CountChannels возвращает количество каналов пользователя.
func (p *Postgres) CountChannels(ctx context.Context, tgUserID int64) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var count int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM channels c JOIN users u ON u.id = c.user_id WHERE u.tg_user_id = $1
`, tgUserID).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "channels_count", "channels", start, err)
	return count, err
}

// AddChannel подписывает пользователя на канал. Повторное добавление возвращает существующую запись.
func (p *Postgres) AddChannel(ctx context.Context, tgUserID int64, username string) (domain.Channel, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var created bool
	start := time.Now()
	ch, err := scanChannel(p.pool.QueryRow(ctx, `
WITH u AS (
    SELECT id, tg_user_id FROM users WHERE tg_user_id = $1
), ins AS (
    INSERT INTO channels (user_id, username)
    SELECT id, $2 FROM u
    ON CONFLICT (user_id, username) DO NOTHING
    RETURNING id, user_id, username, title, last_tg_message_id, created_at
)
SELECT `+channelColumns+`, TRUE FROM ins c JOIN u ON u.id = c.user_id
UNION ALL
SELECT `+channelColumns+`, FALSE FROM channels c JOIN u ON u.id = c.user_id
WHERE c.username = $2 AND NOT EXISTS (SELECT 1 FROM ins)
`, tgUserID, username), &created)
	metrics.ObserveNetworkRequest("postgres", "channels_add", "channels", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Channel{}, false, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.Channel{}, false, err
	}
	return ch, created, nil
}

// ListChannels возвращает каналы пользователя в порядке добавления.
func (p *Postgres) ListChannels(ctx context.Context, tgUserID int64) ([]domain.Channel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+channelColumns+` FROM channels c JOIN users u ON u.id = c.user_id
WHERE u.tg_user_id = $1
ORDER BY c.created_at, c.id
`, tgUserID)
	metrics.ObserveNetworkRequest("postgres", "channels_list", "channels", start, err)
	if err != nil {
		return nil, err
	}
	return collectChannels(rows)
}

// ListCollectChannels возвращает каналы для коллектора. tgUserID == 0 означает всех пользователей.
func (p *Postgres) ListCollectChannels(ctx context.Context, tgUserID int64) ([]domain.Channel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+channelColumns+` FROM channels c JOIN users u ON u.id = c.user_id
WHERE $1 = 0 OR u.tg_user_id = $1
ORDER BY c.id
`, tgUserID)
	metrics.ObserveNetworkRequest("postgres", "channels_list_collect", "channels", start, err)
	if err != nil {
		return nil, err
	}
	return collectChannels(rows)
}

// DeleteChannel удаляет подписку вместе с постами канала.
func (p *Postgres) DeleteChannel(ctx context.Context, tgUserID int64, username string) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
DELETE FROM channels c USING users u
WHERE u.id = c.user_id AND u.tg_user_id = $1 AND c.username = $2
`, tgUserID, username)
	metrics.ObserveNetworkRequest("postgres", "channels_delete", "channels", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteAllChannels удаляет все подписки пользователя.
func (p *Postgres) DeleteAllChannels(ctx context.Context, tgUserID int64) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
DELETE FROM channels c USING users u
WHERE u.id = c.user_id AND u.tg_user_id = $1
`, tgUserID)
	metrics.ObserveNetworkRequest("postgres", "channels_delete_all", "channels", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SetChannelTitle обновляет отображаемое название канала.
func (p *Postgres) SetChannelTitle(ctx context.Context, tgUserID int64, username, title string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE channels c SET title = $3
FROM users u
WHERE u.id = c.user_id AND u.tg_user_id = $1 AND c.username = $2
  AND COALESCE(c.title, '') <> $3
`, tgUserID, username, title)
	metrics.ObserveNetworkRequest("postgres", "channels_set_title", "channels", start, err)
	return err
}

// GetCursor возвращает курсор канала или nil, если пары пользователь/канал нет.
func (p *Postgres) GetCursor(ctx context.Context, tgUserID int64, username string) (*int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var cursor sql.NullInt64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT c.last_tg_message_id FROM channels c JOIN users u ON u.id = c.user_id
WHERE u.tg_user_id = $1 AND c.username = $2
`, tgUserID, username).Scan(&cursor)
	metrics.ObserveNetworkRequest("postgres", "channels_get_cursor", "channels", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !cursor.Valid {
		return nil, nil
	}
	v := cursor.Int64
	return &v, nil
}

// SetCursor сохраняет курсор канала.
func (p *Postgres) SetCursor(ctx context.Context, tgUserID int64, username string, msgID int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE channels c SET last_tg_message_id = $3
FROM users u
WHERE u.id = c.user_id AND u.tg_user_id = $1 AND c.username = $2
`, tgUserID, username, msgID)
	metrics.ObserveNetworkRequest("postgres", "channels_set_cursor", "channels", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := p.GetUser(ctx, tgUserID); err != nil {
		return err
	}
	return domain.ErrChannelNotFound
}
