package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/yifanzh/structpdf/internal/service/pipeline"
	"github.com/yifanzh/structpdf/pkg/logger"
	"github.com/yifanzh/structpdf/pkg/queue"
)

// PipelineWorker consumes queued pipeline runs and drives them through the
// service layer.
type PipelineWorker struct {
	BaseWorker
	svc pipeline.Service
}

func NewPipelineWorker(cfg *Config, svc pipeline.Service, log logger.Logger) (*PipelineWorker, error) {
	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      cfg.Queues,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Minute
			},
		},
	)

	w := &PipelineWorker{
		BaseWorker: BaseWorker{
			server:   server,
			mux:      asynq.NewServeMux(),
			logger:   log,
			stopChan: make(chan struct{}),
		},
		svc: svc,
	}

	w.registerHandlers()
	return w, nil
}

func (w *PipelineWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypePipelineRun, w.handlePipelineRun)
}

func (w *PipelineWorker) handlePipelineRun(ctx context.Context, t *asynq.Task) error {
	var task queue.Task
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		w.logger.Error("Failed to unmarshal task",
			logger.Error(err),
			logger.String("payload", string(t.Payload())),
		)
		return fmt.Errorf("failed to unmarshal task: %w", err)
	}

	w.logger.Info("Processing pipeline task",
		logger.String("taskId", task.ID),
		logger.Any("metadata", task.Metadata),
	)

	if task.ID == "" || task.Metadata == nil || task.Payload == nil {
		return fmt.Errorf("invalid task data: missing required fields")
	}

	info := t.ResultWriter()

	if _, err := info.Write([]byte(`{"status":"running","progress":0}`)); err != nil {
		w.logger.Error("Failed to write task status", logger.Error(err))
	}

	if err := w.svc.HandleTask(ctx, &task); err != nil {
		if _, writeErr := info.Write([]byte(fmt.Sprintf(`{"status":"failed","error":%q}`, err.Error()))); writeErr != nil {
			w.logger.Error("Failed to write task failure", logger.Error(writeErr))
		}
		return err
	}

	if _, err := info.Write([]byte(`{"status":"completed","progress":100}`)); err != nil {
		w.logger.Error("Failed to write task completion", logger.Error(err))
	}

	return nil
}

func (w *PipelineWorker) Start(ctx context.Context) error {
	go func() {
		if err := w.server.Run(w.mux); err != nil {
			w.logger.Error("Worker server stopped", logger.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		w.Stop()
	}()

	return nil
}
