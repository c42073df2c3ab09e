package mtproto

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gotd/td/crypto"
	"github.com/gotd/td/session"
	"github.com/gotd/td/tg"
)

// SessionRepo хранит сериализованные сессии по имени.
type SessionRepo interface {
	LoadMTProtoSession(ctx context.Context, name string) ([]byte, error)
	StoreMTProtoSession(ctx context.Context, name string, data []byte) error
}

// SessionStorage реализует session.Storage поверх SessionRepo.
type SessionStorage struct {
	repo SessionRepo
	name string
}

var _ session.Storage = (*SessionStorage)(nil)

// NewSessionStorage создаёт хранилище сессии с именем name.
func NewSessionStorage(repo SessionRepo, name string) *SessionStorage {
	return &SessionStorage{repo: repo, name: name}
}

// LoadSession загружает сессию. Сессии в формате Telethon конвертируются на лету.
func (s *SessionStorage) LoadSession(ctx context.Context) ([]byte, error) {
	data, err := s.repo.LoadMTProtoSession(ctx, s.name)
	if err != nil {
		return nil, err
	}
	normalized, _, err := NormalizeSession(data)
	if err != nil {
		return nil, err
	}
	return normalized, nil
}

// StoreSession сохраняет сессию.
func (s *SessionStorage) StoreSession(ctx context.Context, data []byte) error {
	return s.repo.StoreMTProtoSession(ctx, s.name, data)
}

// ErrUnsupportedSession возвращается, если формат сессии не распознан.
var ErrUnsupportedSession = errors.New("mtproto: неизвестный формат сессии")

type sessionDecoder func([]byte) ([]byte, error)

// NormalizeSession приводит сессию к JSON-формату gotd.
// Поддерживаются JSON gotd, строка Telethon StringSession, JSON аккаунта
// с полем extra_params и выгрузка таблицы sessions Telethon.
// Второй результат сообщает, понадобилась ли конвертация.
func NormalizeSession(raw []byte) ([]byte, bool, error) {
	data := bytes.TrimSpace(raw)
	if len(data) == 0 {
		return nil, false, errors.New("mtproto: пустая сессия")
	}
	var probe struct {
		Version int `json:"Version"`
	}
	if json.Unmarshal(data, &probe) == nil && probe.Version != 0 {
		return data, false, nil
	}
	for _, decode := range []sessionDecoder{fromAccountJSON, fromSessionRows, fromTelethonString} {
		if out, err := decode(data); err == nil {
			return out, true, nil
		}
	}
	return nil, false, ErrUnsupportedSession
}

func fromAccountJSON(raw []byte) ([]byte, error) {
	var account struct {
		ExtraParams string `json:"extra_params"`
	}
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, err
	}
	if account.ExtraParams == "" {
		return nil, errors.New("нет extra_params")
	}
	return fromTelethonString([]byte(account.ExtraParams))
}

func fromSessionRows(raw []byte) ([]byte, error) {
	var rows []struct {
		DCID          int    `json:"dc_id"`
		ServerAddress string `json:"server_address"`
		Port          int    `json:"port"`
		AuthKey       string `json:"auth_key"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.AuthKey == "" || row.ServerAddress == "" || row.Port == 0 {
			continue
		}
		key, err := parseAuthKey(row.AuthKey)
		if err != nil {
			return nil, err
		}
		return encodeSession(sessionData(row.DCID, row.ServerAddress, row.Port, key))
	}
	return nil, errors.New("нет пригодных строк сессии")
}

func fromTelethonString(raw []byte) ([]byte, error) {
	value := strings.Trim(strings.TrimSpace(string(raw)), "\"'")
	if value == "" {
		return nil, errors.New("пустая строка Telethon")
	}
	data, err := session.TelethonSession(value)
	if err != nil {
		return nil, err
	}
	if data.Config.ThisDC == 0 {
		data.Config.ThisDC = data.DC
	}
	if data.Addr != "" && len(data.Config.DCOptions) == 0 {
		if host, port, err := net.SplitHostPort(data.Addr); err == nil {
			if p, err := strconv.Atoi(port); err == nil {
				data.Config.DCOptions = []tg.DCOption{{ID: data.DC, IPAddress: host, Port: p}}
			}
		}
	}
	return encodeSession(*data)
}

func parseAuthKey(value string) (crypto.Key, error) {
	var key crypto.Key
	decoded, err := hex.DecodeString(strings.Trim(strings.TrimSpace(value), "'\""))
	if err != nil {
		return key, fmt.Errorf("auth_key: %w", err)
	}
	if len(decoded) != len(key) {
		return key, fmt.Errorf("auth_key: длина %d байт", len(decoded))
	}
	copy(key[:], decoded)
	return key, nil
}

func sessionData(dc int, host string, port int, key crypto.Key) session.Data {
	id := key.WithID().ID
	return session.Data{
		Config: session.Config{
			ThisDC:    dc,
			DCOptions: []tg.DCOption{{ID: dc, IPAddress: host, Port: port}},
		},
		DC:        dc,
		Addr:      net.JoinHostPort(host, strconv.Itoa(port)),
		AuthKey:   append([]byte(nil), key[:]...),
		AuthKeyID: append([]byte(nil), id[:]...),
	}
}

func encodeSession(data session.Data) ([]byte, error) {
	return json.Marshal(struct {
		Version int          `json:"Version"`
		Data    session.Data `json:"Data"`
	}{Version: 1, Data: data})
}
