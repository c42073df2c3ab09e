package mtproto

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"my-feed-bot/internal/domain"
	"my-feed-bot/internal/infra/metrics"
)

var _ domain.MessageSource = (*Client)(nil)

// ResolveChannel находит канал по @username. Результат кэшируется на ResolveTTL.
func (c *Client) ResolveChannel(ctx context.Context, username string) (domain.SourceChannel, error) {
	name := strings.ToLower(domain.TrimHandle(username))
	if name == "" {
		return domain.SourceChannel{}, domain.ErrInvalidUsername
	}
	c.mu.RLock()
	cached, ok := c.resolved[name]
	c.mu.RUnlock()
	if ok && time.Since(cached.at) < c.resolveTTL {
		return cached.channel, nil
	}

	api, err := c.rpc(ctx)
	if err != nil {
		return domain.SourceChannel{}, err
	}
	start := time.Now()
	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: name})
	metrics.ObserveNetworkRequest("mtproto", "contacts_resolve_username", name, start, err)
	if err != nil {
		if tg.IsUsernameNotOccupied(err) || tg.IsUsernameInvalid(err) {
			return domain.SourceChannel{}, fmt.Errorf("%s: %w", username, domain.ErrSourceNotFound)
		}
		return domain.SourceChannel{}, fmt.Errorf("resolve %s: %w", username, err)
	}
	ch, ok := findChannel(resolved.GetChats())
	if !ok {
		return domain.SourceChannel{}, fmt.Errorf("%s: %w", username, domain.ErrSourceNotFound)
	}
	out := domain.SourceChannel{
		ID:         ch.ID,
		AccessHash: ch.AccessHash,
		Username:   "@" + name,
		Title:      ch.Title,
	}
	c.mu.Lock()
	c.resolved[name] = resolvedChannel{channel: out, at: time.Now()}
	c.mu.Unlock()
	return out, nil
}

// findChannel выбирает канал из ответа resolveUsername, предпочитая вещательные.
func findChannel(chats []tg.ChatClass) (*tg.Channel, bool) {
	var fallback *tg.Channel
	for _, chat := range chats {
		ch, ok := chat.(*tg.Channel)
		if !ok {
			continue
		}
		if ch.Broadcast {
			return ch, true
		}
		if fallback == nil {
			fallback = ch
		}
	}
	return fallback, fallback != nil
}

// RecentMessages возвращает последние limit сообщений канала, новые первыми.
func (c *Client) RecentMessages(ctx context.Context, channel domain.SourceChannel, limit int) ([]domain.SourceMessage, error) {
	api, err := c.rpc(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  &tg.InputPeerChannel{ChannelID: channel.ID, AccessHash: channel.AccessHash},
		Limit: limit,
	})
	metrics.ObserveNetworkRequest("mtproto", "messages_get_history", channel.Username, start, err)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", channel.Username, err)
	}

	var raw []tg.MessageClass
	switch v := res.(type) {
	case *tg.MessagesChannelMessages:
		raw = v.Messages
	case *tg.MessagesMessagesSlice:
		raw = v.Messages
	case *tg.MessagesMessages:
		raw = v.Messages
	default:
		return nil, fmt.Errorf("history %s: неожиданный ответ %T", channel.Username, res)
	}

	out := make([]domain.SourceMessage, 0, len(raw))
	for _, m := range raw {
		msg, ok := m.(*tg.Message)
		if !ok {
			continue
		}
		out = append(out, convertMessage(msg))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// DownloadMedia скачивает вложение в path. Файл появляется только после успешной загрузки.
func (c *Client) DownloadMedia(ctx context.Context, media domain.SourceMedia, path string) error {
	loc, ok := media.Ref.(tg.InputFileLocationClass)
	if !ok || loc == nil {
		return errors.New("mtproto: вложение нельзя скачать")
	}
	api, err := c.rpc(ctx)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return err
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	start := time.Now()
	_, err = c.downloader.Download(api, loc).Stream(ctx, tmp)
	metrics.ObserveNetworkRequest("mtproto", "download", string(kindOf(media)), start, err)
	if err != nil {
		return fmt.Errorf("download %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func kindOf(media domain.SourceMedia) domain.MediaType {
	kind, _, _ := media.Kind()
	return kind
}
