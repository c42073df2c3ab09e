package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"

	"my-feed-bot/internal/domain"
	"my-feed-bot/internal/infra/metrics"
)

const feedPostColumns = `p.id, p.channel_id, p.tg_message_id, p.text, COALESCE(p.media_type, ''), p.media_paths,
p.media_group_id, p.published_at, p.is_sent, p.created_at, c.username, COALESCE(c.title, '')`

func scanFeedPost(row pgx.Row) (domain.FeedPost, error) {
	var (
		fp        domain.FeedPost
		mediaType string
		groupID   sql.NullInt64
	)
	err := row.Scan(&fp.ID, &fp.ChannelID, &fp.TGMessageID, &fp.Text, &mediaType, &fp.MediaPaths,
		&groupID, &fp.PublishedAt, &fp.IsSent, &fp.CreatedAt, &fp.ChannelUsername, &fp.ChannelTitle)
	if err != nil {
		return domain.FeedPost{}, err
	}
	fp.MediaType = domain.MediaType(mediaType)
	if groupID.Valid {
		v := groupID.Int64
		fp.MediaGroupID = &v
	}
	return fp, nil
}

func collectFeedPosts(rows pgx.Rows) ([]domain.FeedPost, error) {
	defer rows.Close()
	var out []domain.FeedPost
	for rows.Next() {
		fp, err := scanFeedPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}

// InsertPost сохраняет пост. Повтор по (channel_id, tg_message_id) ничего не меняет.
func (p *Postgres) InsertPost(ctx context.Context, post domain.Post) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	paths := post.MediaPaths
	if paths == nil {
		paths = []string{}
	}
	var groupID sql.NullInt64
	if post.MediaGroupID != nil {
		groupID = sql.NullInt64{Int64: *post.MediaGroupID, Valid: true}
	}
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
INSERT INTO posts (channel_id, tg_message_id, text, media_type, media_paths, media_group_id, published_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
ON CONFLICT (channel_id, tg_message_id) DO NOTHING
`, post.ChannelID, post.TGMessageID, post.Text, string(post.MediaType), paths, groupID, post.PublishedAt)
	metrics.ObserveNetworkRequest("postgres", "posts_insert", "posts", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListUnsentPosts возвращает неотправленные посты пользователя, старые первыми.
func (p *Postgres) ListUnsentPosts(ctx context.Context, tgUserID int64, limit int) ([]domain.FeedPost, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+feedPostColumns+`
FROM posts p
JOIN channels c ON c.id = p.channel_id
JOIN users u ON u.id = c.user_id
WHERE u.tg_user_id = $1 AND p.is_sent = FALSE
ORDER BY p.published_at ASC, p.id ASC
LIMIT $2
`, tgUserID, limit)
	metrics.ObserveNetworkRequest("postgres", "posts_list_unsent", "posts", start, err)
	if err != nil {
		return nil, err
	}
	return collectFeedPosts(rows)
}

// MarkPostsSent одним запросом отмечает посты отправленными.
func (p *Postgres) MarkPostsSent(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE posts SET is_sent = TRUE, sent_at = now()
WHERE id = ANY($1) AND is_sent = FALSE
`, ids)
	metrics.ObserveNetworkRequest("postgres", "posts_mark_sent", "posts", start, err)
	return err
}

// ListLatestPosts возвращает последние посты пользователя.
func (p *Postgres) ListLatestPosts(ctx context.Context, tgUserID int64, limit int) ([]domain.FeedPost, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+feedPostColumns+`
FROM posts p
JOIN channels c ON c.id = p.channel_id
JOIN users u ON u.id = c.user_id
WHERE u.tg_user_id = $1
ORDER BY p.published_at DESC, p.id DESC
LIMIT $2
`, tgUserID, limit)
	metrics.ObserveNetworkRequest("postgres", "posts_list_latest", "posts", start, err)
	if err != nil {
		return nil, err
	}
	return collectFeedPosts(rows)
}

// ListSentPostsSince возвращает отправленные посты, опубликованные после since.
func (p *Postgres) ListSentPostsSince(ctx context.Context, tgUserID int64, since time.Time, limit int) ([]domain.FeedPost, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+feedPostColumns+`
FROM posts p
JOIN channels c ON c.id = p.channel_id
JOIN users u ON u.id = c.user_id
WHERE u.tg_user_id = $1 AND p.is_sent = TRUE AND p.published_at >= $2
ORDER BY p.published_at DESC, p.id DESC
LIMIT $3
`, tgUserID, since, limit)
	metrics.ObserveNetworkRequest("postgres", "posts_list_sent_since", "posts", start, err)
	if err != nil {
		return nil, err
	}
	return collectFeedPosts(rows)
}
