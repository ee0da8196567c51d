package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-ptw/internal/clock"
	common_models "go-ptw/internal/common/models"
	"go-ptw/internal/config"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// HandlerFunc runs a fired job. Returning an error schedules a retry.
type HandlerFunc func(ctx context.Context, job Job) error

// Timer is the scheduling boundary the rest of the service depends on.
// Delivery is at-least-once, so handlers must be idempotent.
type Timer interface {
	Schedule(ctx context.Context, job Job) error
	Cancel(ctx context.Context, key string) error
	Handle(kind string, handler HandlerFunc)
}

const (
	MaxAttempts  = 8
	sweepHorizon = 24 * time.Hour
	runTimeout   = 30 * time.Second
)

var ErrInvalidJob = errors.New("job needs a key, a kind and a fire time")

type armedEntry struct {
	id    cron.EntryID
	token string
}

type TimerService struct {
	repo      JobRepository
	clock     clock.Clock
	logger    *zap.Logger
	sweepSpec string

	scheduler *cron.Cron
	handlers  map[string]HandlerFunc
	hooks     []func(ctx context.Context)
	entries   map[string]armedEntry
	mu        sync.RWMutex
}

func NewTimerService(lc fx.Lifecycle, repo JobRepository, cfg *config.Config, clk clock.Clock, logger *zap.Logger) *TimerService {
	s := newTimerService(repo, clk, logger, cfg.SchedulerSweep)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return s.Stop()
		},
	})
	return s
}

func newTimerService(repo JobRepository, clk clock.Clock, logger *zap.Logger, sweepSpec string) *TimerService {
	return &TimerService{
		repo:      repo,
		clock:     clk,
		logger:    logger,
		sweepSpec: sweepSpec,
		scheduler: cron.New(cron.WithLocation(time.UTC)),
		handlers:  make(map[string]HandlerFunc),
		entries:   make(map[string]armedEntry),
	}
}

// Handle registers the handler for a job kind. Jobs of unknown kinds fail.
func (s *TimerService) Handle(kind string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = handler
}

// OnSweep registers work to run on every periodic sweep.
func (s *TimerService) OnSweep(hook func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

func (s *TimerService) Start(ctx context.Context) error {
	s.logger.Info("Starting job scheduler", zap.String("sweep", s.sweepSpec))
	if _, err := s.scheduler.AddFunc(s.sweepSpec, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		s.Sweep(sweepCtx)
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.sweepSpec, err)
	}

	s.Sweep(ctx)
	s.scheduler.Start()
	return nil
}

func (s *TimerService) Stop() error {
	stopCtx := s.scheduler.Stop()
	<-stopCtx.Done()
	return nil
}

// Schedule persists the job under its key, replacing any earlier job with the
// same key, and arms an in-process timer for it.
func (s *TimerService) Schedule(ctx context.Context, job Job) error {
	if job.Key == "" || job.Kind == "" || job.FireAt.IsZero() {
		return ErrInvalidJob
	}

	job.Token = uuid.NewString()
	job.Status = JobPending
	job.Attempts = 0
	job.FireAt = job.FireAt.UTC()

	if err := s.repo.Upsert(ctx, &job); err != nil {
		return fmt.Errorf("persist job %s: %w", job.Key, err)
	}

	s.arm(job)
	s.logger.Debug("Job scheduled",
		zap.String("job_key", job.Key),
		zap.String("kind", job.Kind),
		zap.Time("fire_at", job.FireAt),
	)
	return nil
}

func (s *TimerService) Cancel(ctx context.Context, key string) error {
	s.disarm(key, "")
	if err := s.repo.Cancel(ctx, key); err != nil {
		return fmt.Errorf("cancel job %s: %w", key, err)
	}
	return nil
}

// Sweep arms every pending job due within the horizon that has no live timer.
// This picks up jobs after a restart and jobs scheduled far in advance.
func (s *TimerService) Sweep(ctx context.Context) {
	jobs, err := s.repo.ListPending(ctx, s.clock.Now().Add(sweepHorizon))
	if err != nil {
		s.logger.Error("Failed to load pending jobs", zap.Error(err))
	} else {
		for _, job := range jobs {
			if !s.isArmed(job.Key, job.Token) {
				s.arm(job)
			}
		}
	}

	s.mu.RLock()
	hooks := append([]func(ctx context.Context){}, s.hooks...)
	s.mu.RUnlock()
	for _, hook := range hooks {
		hook(ctx)
	}
}

func (s *TimerService) arm(job Job) {
	key, token := job.Key, job.Token
	fn := cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		s.fire(ctx, key, token)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.entries[key]; ok {
		s.scheduler.Remove(prev.id)
	}
	id := s.scheduler.Schedule(&onceSchedule{at: job.FireAt}, fn)
	s.entries[key] = armedEntry{id: id, token: token}
}

// disarm removes the timer for key; a non-empty token only removes that run.
func (s *TimerService) disarm(key, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok || (token != "" && entry.token != token) {
		return
	}
	s.scheduler.Remove(entry.id)
	delete(s.entries, key)
}

func (s *TimerService) isArmed(key, token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	return ok && entry.token == token
}

func (s *TimerService) fire(ctx context.Context, key, token string) {
	s.disarm(key, token)

	// Re-read: the job may have been cancelled or replaced since it was armed.
	job, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		s.logger.Error("Failed to load fired job", zap.String("job_key", key), zap.Error(err))
		return
	}
	if job == nil || job.Status != JobPending || job.Token != token {
		s.logger.Debug("Skipping stale job", zap.String("job_key", key))
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[job.Kind]
	s.mu.RUnlock()
	if !ok {
		s.logger.Error("No handler for job kind", zap.String("job_key", key), zap.String("kind", job.Kind))
		if err := s.repo.Complete(ctx, key, token, JobFailed, "no handler for kind "+job.Kind); err != nil {
			s.logger.Error("Failed to mark job failed", zap.String("job_key", key), zap.Error(err))
		}
		return
	}

	if job.TenantID != "" {
		ctx = context.WithValue(ctx, common_models.TenantIDKey, job.TenantID)
	}

	runErr := handler(ctx, *job)
	if runErr == nil {
		if err := s.repo.Complete(ctx, key, token, JobDone, ""); err != nil {
			s.logger.Error("Failed to mark job done", zap.String("job_key", key), zap.Error(err))
		}
		return
	}

	attempts := job.Attempts + 1
	if attempts >= MaxAttempts {
		s.logger.Error("Job failed permanently",
			zap.String("job_key", key),
			zap.Int("attempts", attempts),
			zap.Error(runErr),
		)
		if err := s.repo.Complete(ctx, key, token, JobFailed, runErr.Error()); err != nil {
			s.logger.Error("Failed to mark job failed", zap.String("job_key", key), zap.Error(err))
		}
		return
	}

	next := s.clock.Now().Add(nextAttempt(job.Attempts))
	s.logger.Warn("Job failed, retrying",
		zap.String("job_key", key),
		zap.Int("attempts", attempts),
		zap.Time("next_attempt", next),
		zap.Error(runErr),
	)
	if err := s.repo.Retry(ctx, key, token, attempts, next, runErr.Error()); err != nil {
		// The sweep re-arms it from the stored fire time.
		s.logger.Error("Failed to record job retry", zap.String("job_key", key), zap.Error(err))
		return
	}
	job.Attempts = attempts
	job.FireAt = next
	s.arm(*job)
}

// nextAttempt backs off 5s, 10s, 20s... capped at 5m.
func nextAttempt(attemptCount int) time.Duration {
	base := 5 * time.Second
	if attemptCount <= 0 {
		return base
	}
	max := 5 * time.Minute
	if attemptCount > 6 {
		return max
	}
	d := base << attemptCount
	if d > max {
		return max
	}
	return d
}

// onceSchedule fires at a fixed instant and never again.
type onceSchedule struct {
	at   time.Time
	used bool
}

func (o *onceSchedule) Next(time.Time) time.Time {
	if o.used {
		return time.Time{}
	}
	o.used = true
	return o.at
}
