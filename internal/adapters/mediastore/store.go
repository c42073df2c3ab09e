package mediastore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"my-feed-bot/internal/domain"
)

// Local хранит вложения в каталогах каналов под общим корнем.
type Local struct {
	root string
	now  func() time.Time
}

var _ domain.MediaStore = (*Local)(nil)

// NewLocal создаёт хранилище с корнем root.
func NewLocal(root string) *Local {
	return &Local{root: filepath.Clean(root), now: time.Now}
}

// Root возвращает корневой каталог.
func (l *Local) Root() string {
	return l.root
}

// Path возвращает путь к файлу name в каталоге канала и создаёт каталог.
func (l *Local) Path(channel, name string) (string, error) {
	dir := channelDir(channel)
	if dir == "" {
		return "", fmt.Errorf("mediastore: пустое имя канала")
	}
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("mediastore: недопустимое имя файла %q", name)
	}
	full := filepath.Join(l.root, dir)
	if err := os.MkdirAll(full, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(full, name), nil
}

// Remove удаляет файл, отсутствие файла не считается ошибкой.
func (l *Local) Remove(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// SweepResult описывает итог очистки.
type SweepResult struct {
	Files int
	Dirs  int
}

// Sweep удаляет файлы старше maxAge и затем пустые каталоги. Корень не удаляется.
func (l *Local) Sweep(maxAge time.Duration) (SweepResult, error) {
	var (
		res  SweepResult
		dirs []string
	)
	cutoff := l.now().Add(-maxAge)
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if path != l.root {
				dirs = append(dirs, path)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				res.Files++
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	// глубокие каталоги первыми
	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], string(os.PathSeparator)) > strings.Count(dirs[j], string(os.PathSeparator))
	})
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err == nil {
			res.Dirs++
		}
	}
	return res, nil
}

func channelDir(channel string) string {
	name := domain.TrimHandle(channel)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return -1
	}, name)
	return strings.ToLower(name)
}
