package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"

	"greendrake/offerdesk/internal/cache"
	"greendrake/offerdesk/internal/config"
)

// ErrInvalidCronSpec is returned for a cron expression that does not parse.
var ErrInvalidCronSpec = errors.New("invalid cron expression")

// ErrAlreadyQueued is returned when an identical run is already pending.
var ErrAlreadyQueued = errors.New("offer generation already queued")

// Registrar is the part of *asynq.Scheduler used here.
type Registrar interface {
	Register(cronspec string, task *asynq.Task, opts ...asynq.Option) (string, error)
	Unregister(entryID string) error
}

// Enqueuer is the part of *asynq.Client used here.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// IScheduler registers recurring jobs.
type IScheduler interface {
	ScheduleDaily(ctx context.Context, jobName, cronSpec string, payload []byte) (string, error)
}

// OfferScheduler registers named cron entries. Registering a name again
// replaces its previous entry.
type OfferScheduler struct {
	registrar Registrar
	redis     cache.Pinger
	uniqueTTL time.Duration

	mu      sync.Mutex
	entries map[string]string
}

// NewAsynqScheduler builds the asynq scheduler evaluating cron specs in the
// configured timezone.
func NewAsynqScheduler(cfg *config.Config) *asynq.Scheduler {
	return asynq.NewScheduler(RedisOpt(cfg), &asynq.SchedulerOpts{
		Location: cfg.OfferCronTimezone,
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
				log.Printf("Scheduled enqueue failed: %v", err)
			}
		},
	})
}

// NewOfferScheduler creates a scheduler. redis is pinged before every
// registration so a missing broker fails at startup.
func NewOfferScheduler(registrar Registrar, redis cache.Pinger) *OfferScheduler {
	return &OfferScheduler{
		registrar: registrar,
		redis:     redis,
		uniqueTTL: time.Hour,
		entries:   make(map[string]string),
	}
}

// ScheduleDaily registers jobName to enqueue an offer generation task on cronSpec.
func (s *OfferScheduler) ScheduleDaily(ctx context.Context, jobName, cronSpec string, payload []byte) (string, error) {
	if _, err := cron.ParseStandard(cronSpec); err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidCronSpec, cronSpec, err)
	}
	if err := cache.Ping(ctx, s.redis, 5*time.Second); err != nil {
		return "", fmt.Errorf("scheduler broker unavailable: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[jobName]; ok {
		if err := s.registrar.Unregister(prev); err != nil {
			return "", fmt.Errorf("failed to replace schedule %s: %w", jobName, err)
		}
		delete(s.entries, jobName)
	}

	task := asynq.NewTask(TypeOfferGenerate, payload)
	entryID, err := s.registrar.Register(cronSpec, task, asynq.Unique(s.uniqueTTL), asynq.Queue(QueueDefault))
	if err != nil {
		return "", fmt.Errorf("failed to register schedule %s: %w", jobName, err)
	}
	s.entries[jobName] = entryID
	log.Printf("Scheduled %s (%s) as entry %s", jobName, cronSpec, entryID)
	return entryID, nil
}

// EnqueueOfferGeneration queues an immediate run. A run with the same
// trigger that is still pending yields ErrAlreadyQueued.
func EnqueueOfferGeneration(ctx context.Context, client Enqueuer, trigger string) (*asynq.TaskInfo, error) {
	payload, err := NewOfferGeneratePayload(trigger)
	if err != nil {
		return nil, err
	}
	info, err := client.EnqueueContext(ctx, asynq.NewTask(TypeOfferGenerate, payload),
		asynq.Queue(QueueCritical), asynq.Unique(10*time.Minute))
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return nil, ErrAlreadyQueued
		}
		return nil, fmt.Errorf("failed to enqueue offer generation: %w", err)
	}
	return info, nil
}
