package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"my-feed-bot/internal/adapters/httpapi"
	"my-feed-bot/internal/domain"
	infrahttp "my-feed-bot/internal/infra/http"
	"my-feed-bot/internal/infra/metrics"
)

// Client реализует хранилище коллектора поверх HTTP API.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
}

var _ domain.IngestStore = (*Client)(nil)

// Option настраивает клиента.
type Option func(*Client)

// WithHTTPClient подменяет HTTP-клиент.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout задаёт таймаут запросов.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithToken задаёт значение заголовка X-API-Token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// New создаёт клиента для baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("не задан адрес API")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("разбор адреса API: %w", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}
	client := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// ListCollectChannels возвращает каналы для сбора.
func (c *Client) ListCollectChannels(ctx context.Context, tgUserID int64) ([]domain.Channel, error) {
	query := url.Values{"tg_user_id": {strconv.FormatInt(tgUserID, 10)}}
	var resp httpapi.ChannelsResponse
	if err := c.get(ctx, "/channels/collect", query, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Channel, 0, len(resp.Channels))
	for _, ch := range resp.Channels {
		out = append(out, ch.Channel())
	}
	return out, nil
}

// GetCursor возвращает курсор канала или nil.
func (c *Client) GetCursor(ctx context.Context, tgUserID int64, username string) (*int64, error) {
	query := url.Values{
		"tg_user_id": {strconv.FormatInt(tgUserID, 10)},
		"username":   {username},
	}
	var resp httpapi.CursorResponse
	if err := c.get(ctx, "/channels/cursor", query, &resp); err != nil {
		return nil, err
	}
	return resp.LastTGMessageID, nil
}

// SetCursor сохраняет курсор канала.
func (c *Client) SetCursor(ctx context.Context, tgUserID int64, username string, msgID int64) error {
	body := httpapi.CursorRequest{TGUserID: tgUserID, Username: username, LastTGMessageID: msgID}
	return c.post(ctx, "/channels/cursor", body, nil)
}

// SetChannelTitle сохраняет название канала.
func (c *Client) SetChannelTitle(ctx context.Context, tgUserID int64, username, title string) error {
	body := httpapi.ChannelRequest{TGUserID: tgUserID, Username: username, Title: title}
	return c.post(ctx, "/channels/title", body, nil)
}

// InsertPost сохраняет пост. Дубликат не считается ошибкой.
func (c *Client) InsertPost(ctx context.Context, post domain.Post) (bool, error) {
	dto := httpapi.NewPostDTO(domain.FeedPost{Post: post})
	var resp httpapi.AddPostResponse
	if err := c.post(ctx, "/posts/add", dto, &resp); err != nil {
		return false, err
	}
	return resp.Inserted, nil
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, endpoint, out)
}

func (c *Client) post(ctx context.Context, endpoint string, body any, out any) error {
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, body)
	if err != nil {
		return err
	}
	return c.do(req, endpoint, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body any) (*http.Request, error) {
	resolved := *c.baseURL
	resolved.Path = path.Clean(strings.TrimSuffix(c.baseURL.Path, "/") + endpoint)
	if query != nil {
		resolved.RawQuery = query.Encode()
	}
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("сериализация запроса: %w", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), buf)
	if err != nil {
		return nil, fmt.Errorf("сборка запроса: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(infrahttp.TokenHeader, c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, endpoint string, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("api", req.Method+" "+endpoint, c.baseURL.Host, start, err)
	if err != nil {
		return fmt.Errorf("запрос к API %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		data, _ := io.ReadAll(resp.Body)
		var apiErr infrahttp.ErrorResponse
		_ = json.Unmarshal(data, &apiErr)
		if apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return mapAPIError(resp.StatusCode, apiErr.Error)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("разбор ответа API %s: %w", endpoint, err)
	}
	return nil
}

var knownErrors = []error{
	domain.ErrUserNotFound,
	domain.ErrChannelNotFound,
	domain.ErrInvalidUsername,
}

func mapAPIError(status int, message string) error {
	for _, known := range knownErrors {
		if message == known.Error() {
			return known
		}
	}
	return fmt.Errorf("%w: status=%d message=%s", ErrAPI, status, message)
}

// ErrAPI оборачивает неожиданные ответы API.
var ErrAPI = errors.New("ошибка API")
