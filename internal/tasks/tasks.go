package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"greendrake/offerdesk/internal/config"
)

// TaskType defines the type of a background task.
const (
	TypeOfferGenerate = "offer:generate"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// DailyOfferJob names the recurring offer generation entry.
const DailyOfferJob = "daily-offer-generation"

// --- Task Client (Enqueuing tasks) ---

// RedisOpt builds the asynq connection options from config.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

func NewClient(cfg *config.Config) *asynq.Client {
	return asynq.NewClient(RedisOpt(cfg))
}

// --- Task Server (Processing tasks) ---

// OfferRunner executes one offer generation run.
type OfferRunner interface {
	Run(ctx context.Context) (*PipelineReport, error)
}

// TaskProcessor handles the processing of tasks.
// It holds dependencies needed by task handlers.
type TaskProcessor struct {
	pipeline OfferRunner
}

func NewTaskProcessor(pipeline OfferRunner) *TaskProcessor {
	return &TaskProcessor{pipeline: pipeline}
}

// SetupServer configures the Asynq server and its handlers. The caller runs it.
func SetupServer(cfg *config.Config, processor *TaskProcessor) (*asynq.Server, *asynq.ServeMux) {
	srv := asynq.NewServer(
		RedisOpt(cfg),
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
				QueueLow:      1,
			},
			ShutdownTimeout: cfg.WorkerShutdownTimeout,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				log.Printf("[Asynq Error] Task Type: %s, Payload: %s, Attempt: %d/%d, Error: %v", task.Type(), string(task.Payload()), retried, maxRetry, err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeOfferGenerate, processor.HandleOfferGenerateTask)
	fmt.Println("Registered offer generation task handler.")

	return srv, mux
}

// --- Task Handlers ---

// OfferGeneratePayload identifies what triggered a run.
type OfferGeneratePayload struct {
	Trigger string `json:"trigger"`
}

func NewOfferGeneratePayload(trigger string) ([]byte, error) {
	payload, err := json.Marshal(OfferGeneratePayload{Trigger: trigger})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal offer payload: %w", err)
	}
	return payload, nil
}

// HandleOfferGenerateTask runs the offer pipeline. A returned error makes
// asynq retry the whole run; already generated offers are skipped on retry.
func (p *TaskProcessor) HandleOfferGenerateTask(ctx context.Context, t *asynq.Task) error {
	var payload OfferGeneratePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("failed to unmarshal offer task payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	log.Printf("Processing offer generation task (trigger=%q)", payload.Trigger)
	report, err := p.pipeline.Run(ctx)
	if err != nil {
		return fmt.Errorf("offer generation run failed: %w", err)
	}
	log.Printf("Offer generation task processed successfully: %s", report)
	return nil
}
