package repo

import (
	"context"
	"fmt"
	"time"

	"my-feed-bot/internal/domain"
	"my-feed-bot/internal/infra/metrics"
)

const statsTopLimit = 10

// AdminStats считает сводную статистику бота.
func (p *Postgres) AdminStats(ctx context.Context, now time.Time) (domain.AdminStats, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	stats := domain.AdminStats{GeneratedAt: now}
	weekAgo := now.Add(-domain.ActiveWindow)
	weekAhead := now.Add(domain.ActiveWindow)

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT
    COUNT(*),
    COUNT(*) FILTER (WHERE forwarding_on),
    COUNT(*) FILTER (WHERE short_feed_on),
    COUNT(*) FILTER (WHERE spam_filter_on),
    COUNT(*) FILTER (WHERE vip_until > $1),
    COUNT(*) FILTER (WHERE vip_until > $1 AND vip_until <= $2)
FROM users
`, now, weekAhead).Scan(&stats.UsersTotal, &stats.ForwardingOn, &stats.ShortFeedOn,
		&stats.SpamFilterOn, &stats.VIPActive, &stats.VIPExpiring7d)
	metrics.ObserveNetworkRequest("postgres", "stats_users", "users", start, err)
	if err != nil {
		return domain.AdminStats{}, fmt.Errorf("статистика пользователей: %w", err)
	}

	start = time.Now()
	err = p.pool.QueryRow(ctx, `
SELECT
    (SELECT COUNT(*) FROM channels),
    (SELECT COUNT(*) FROM posts WHERE created_at >= $1),
    (SELECT COUNT(DISTINCT c.user_id) FROM posts p JOIN channels c ON c.id = p.channel_id
        WHERE p.is_sent AND p.sent_at >= $1)
`, weekAgo).Scan(&stats.ChannelsTotal, &stats.Posts7d, &stats.ActiveUsers7d)
	metrics.ObserveNetworkRequest("postgres", "stats_totals", "posts", start, err)
	if err != nil {
		return domain.AdminStats{}, fmt.Errorf("статистика каналов: %w", err)
	}

	stats.TopActivity7d, err = p.topUsers(ctx, "stats_top_activity", `
SELECT u.tg_user_id, COALESCE(u.username, ''), COUNT(*) AS cnt
FROM posts p
JOIN channels c ON c.id = p.channel_id
JOIN users u ON u.id = c.user_id
WHERE p.is_sent AND p.sent_at >= $1
GROUP BY u.tg_user_id, u.username
ORDER BY cnt DESC, u.tg_user_id
LIMIT $2
`, weekAgo, statsTopLimit)
	if err != nil {
		return domain.AdminStats{}, fmt.Errorf("топ активности: %w", err)
	}

	stats.TopChannels, err = p.topUsers(ctx, "stats_top_channels", `
SELECT u.tg_user_id, COALESCE(u.username, ''), COUNT(c.id) AS cnt
FROM users u
JOIN channels c ON c.user_id = u.id
GROUP BY u.tg_user_id, u.username
ORDER BY cnt DESC, u.tg_user_id
LIMIT $1
`, statsTopLimit)
	if err != nil {
		return domain.AdminStats{}, fmt.Errorf("топ по каналам: %w", err)
	}
	return stats, nil
}

func (p *Postgres) topUsers(ctx context.Context, op, query string, args ...any) ([]domain.UserCount, error) {
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", op, "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UserCount
	for rows.Next() {
		var row domain.UserCount
		if err := rows.Scan(&row.TGUserID, &row.Username, &row.Count); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
