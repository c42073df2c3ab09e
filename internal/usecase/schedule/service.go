package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrInvalidSpec возвращается для некорректного cron-выражения.
var ErrInvalidSpec = errors.New("invalid cron spec")

// ErrDuplicateJob возвращается при повторной регистрации задачи с тем же именем.
var ErrDuplicateJob = errors.New("job already registered")

// Job выполняется планировщиком по расписанию.
type Job func(ctx context.Context) error

// Service запускает периодические задачи по cron-выражениям. Выражения
// допускают необязательное поле секунд и дескрипторы вида @hourly.
type Service struct {
	cron    *cron.Cron
	parser  cron.Parser
	log     zerolog.Logger
	timeout time.Duration

	mu   sync.Mutex
	ctx  context.Context
	jobs map[string]cron.EntryID
}

// NewService создаёт планировщик. timeout ограничивает одно выполнение задачи.
func NewService(log zerolog.Logger, timeout time.Duration) *Service {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Service{
		cron:    cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		parser:  parser,
		log:     log,
		timeout: timeout,
		ctx:     context.Background(),
		jobs:    map[string]cron.EntryID{},
	}
}

// Validate проверяет cron-выражение.
func (s *Service) Validate(spec string) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	return nil
}

// Add регистрирует задачу name по расписанию spec.
func (s *Service) Add(name, spec string, job Job) error {
	if err := s.Validate(spec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	id, err := s.cron.AddFunc(spec, func() { s.runJob(name, job) })
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	s.jobs[name] = id
	s.log.Info().Str("job", name).Str("spec", spec).Msg("schedule: задача зарегистрирована")
	return nil
}

// Next возвращает время следующего запуска задачи.
func (s *Service) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Run запускает планировщик и блокируется до отмены контекста.
func (s *Service) Run(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		s.log.Warn().Msg("schedule: задачи не завершились за 10s")
	}
}

func (s *Service) runJob(name string, job Job) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()

	ctx := parent
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, s.timeout)
		defer cancel()
	}
	start := time.Now()
	if err := job(ctx); err != nil {
		s.log.Error().Err(err).Str("job", name).Dur("took", time.Since(start)).Msg("schedule: задача завершилась ошибкой")
		return
	}
	s.log.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("schedule: задача выполнена")
}
