package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"my-feed-bot/internal/domain"
	"my-feed-bot/internal/infra/metrics"
)

const userColumns = `id, tg_user_id, COALESCE(username, ''), COALESCE(first_name, ''), COALESCE(last_name, ''),
forwarding_on, spam_filter_on, short_feed_on, welcome_sent, trial_vip_granted, vip_until, created_at, updated_at`

var toggleColumns = map[domain.Toggle]string{
	domain.ToggleForwarding: "forwarding_on",
	domain.ToggleSpamFilter: "spam_filter_on",
	domain.ToggleShortFeed:  "short_feed_on",
}

func scanUser(row pgx.Row, extra ...any) (domain.User, error) {
	var (
		u        domain.User
		vipUntil sql.NullTime
	)
	dest := []any{
		&u.ID, &u.TGUserID, &u.Username, &u.FirstName, &u.LastName,
		&u.ForwardingOn, &u.SpamFilterOn, &u.ShortFeedOn, &u.WelcomeSent, &u.TrialVIPGranted,
		&vipUntil, &u.CreatedAt, &u.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.User{}, err
	}
	if vipUntil.Valid {
		t := vipUntil.Time
		u.VIPUntil = &t
	}
	return u, nil
}

// EnsureUser создаёт пользователя при первом обращении. Пустые поля профиля не затирают сохранённые.
func (p *Postgres) EnsureUser(ctx context.Context, profile domain.UserProfile) (domain.User, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var inserted bool
	start := time.Now()
	user, err := scanUser(p.pool.QueryRow(ctx, `
INSERT INTO users (tg_user_id, username, first_name, last_name)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''))
ON CONFLICT (tg_user_id) DO UPDATE SET
    username = COALESCE(EXCLUDED.username, users.username),
    first_name = COALESCE(EXCLUDED.first_name, users.first_name),
    last_name = COALESCE(EXCLUDED.last_name, users.last_name),
    updated_at = now()
RETURNING `+userColumns+`, (xmax = 0) AS inserted
`, profile.TGUserID, strings.TrimPrefix(strings.TrimSpace(profile.Username), "@"),
		strings.TrimSpace(profile.FirstName), strings.TrimSpace(profile.LastName)), &inserted)
	metrics.ObserveNetworkRequest("postgres", "users_upsert", "users", start, err)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("сохранение пользователя: %w", err)
	}
	return user, inserted, nil
}

// GetUser возвращает пользователя по Telegram ID.
func (p *Postgres) GetUser(ctx context.Context, tgUserID int64) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	user, err := scanUser(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE tg_user_id = $1`, tgUserID))
	metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, err
}

// GetUserByUsername ищет пользователя по @username без учёта регистра.
func (p *Postgres) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	name := strings.TrimPrefix(strings.TrimSpace(username), "@")
	start := time.Now()
	user, err := scanUser(p.pool.QueryRow(ctx, `
SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1) ORDER BY id LIMIT 1
`, name))
	metrics.ObserveNetworkRequest("postgres", "users_get_by_username", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, err
}

// SetToggle включает или выключает функцию пользователя.
func (p *Postgres) SetToggle(ctx context.Context, tgUserID int64, toggle domain.Toggle, on bool) error {
	column, ok := toggleColumns[toggle]
	if !ok {
		return fmt.Errorf("неизвестный переключатель %q", toggle)
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE users SET `+column+` = $2, updated_at = now() WHERE tg_user_id = $1`, tgUserID, on)
	metrics.ObserveNetworkRequest("postgres", "users_set_toggle", "users", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// SetVIPUntil выставляет дату окончания VIP. nil отзывает VIP.
func (p *Postgres) SetVIPUntil(ctx context.Context, tgUserID int64, until *time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var value sql.NullTime
	if until != nil {
		value = sql.NullTime{Time: until.UTC(), Valid: true}
	}
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE users SET vip_until = $2, updated_at = now() WHERE tg_user_id = $1`, tgUserID, value)
	metrics.ObserveNetworkRequest("postgres", "users_set_vip", "users", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// GrantTrial выдаёт пробный VIP один раз за всё время.
func (p *Postgres) GrantTrial(ctx context.Context, tgUserID int64, until time.Time) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE users
SET trial_vip_granted = TRUE, vip_until = $2, updated_at = now()
WHERE tg_user_id = $1 AND trial_vip_granted = FALSE
`, tgUserID, until.UTC())
	metrics.ObserveNetworkRequest("postgres", "users_grant_trial", "users", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkWelcomeSent отмечает, что приветствие отправлено.
func (p *Postgres) MarkWelcomeSent(ctx context.Context, tgUserID int64) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE users SET welcome_sent = TRUE, updated_at = now()
WHERE tg_user_id = $1 AND welcome_sent = FALSE
`, tgUserID)
	metrics.ObserveNetworkRequest("postgres", "users_mark_welcome", "users", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListUsersByGroup возвращает получателей рассылки для группы.
func (p *Postgres) ListUsersByGroup(ctx context.Context, group domain.BroadcastGroup, now time.Time) ([]domain.User, error) {
	var (
		where string
		args  []any
	)
	switch group {
	case domain.GroupAll, "":
		where = "TRUE"
	case domain.GroupVIP:
		where = "vip_until IS NOT NULL AND vip_until > $1"
		args = append(args, now)
	case domain.GroupFree:
		where = "vip_until IS NULL OR vip_until <= $1"
		args = append(args, now)
	case domain.GroupActive:
		where = `id IN (
    SELECT DISTINCT c.user_id FROM posts p JOIN channels c ON c.id = p.channel_id
    WHERE p.is_sent AND p.sent_at >= $1)`
		args = append(args, now.Add(-domain.ActiveWindow))
	default:
		return nil, fmt.Errorf("неизвестная группа %q", group)
	}

	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE `+where+` ORDER BY id`, args...)
	metrics.ObserveNetworkRequest("postgres", "users_list_group", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
