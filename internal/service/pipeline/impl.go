package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"

	"github.com/yifanzh/structpdf/config"
	"github.com/yifanzh/structpdf/internal/extract"
	"github.com/yifanzh/structpdf/internal/models"
	"github.com/yifanzh/structpdf/internal/ocr"
	pipe "github.com/yifanzh/structpdf/internal/pipeline"
	"github.com/yifanzh/structpdf/internal/schema"
	"github.com/yifanzh/structpdf/pkg/logger"
	"github.com/yifanzh/structpdf/pkg/queue"
	"github.com/yifanzh/structpdf/pkg/storage"
)

type PipelineService struct {
	pipeline *pipe.Pipeline
	gateway  ocr.Gateway
	queue    queue.Queue
	storage  storage.Storage
	logger   logger.Logger
	config   *ServiceConfig
}

type ServiceConfig struct {
	MaxFileSize     int64
	AllowedTypes    []string
	QueuePriority   int
	RetentionPeriod time.Duration
}

func NewService(
	p *pipe.Pipeline,
	gateway ocr.Gateway,
	q queue.Queue,
	store storage.Storage,
	log logger.Logger,
	cfg *ServiceConfig,
) Service {
	if cfg == nil {
		cfg = &ServiceConfig{
			MaxFileSize:     50 * 1024 * 1024, // 50MB
			AllowedTypes:    []string{".pdf"},
			QueuePriority:   2,
			RetentionPeriod: 24 * time.Hour,
		}
	}

	return &PipelineService{
		pipeline: p,
		gateway:  gateway,
		queue:    q,
		storage:  store,
		logger:   log,
		config:   cfg,
	}
}

// GetService wires the full service from ambient configuration: storage
// backend, redis queue, OCR gateway, extraction model and schema registry.
func GetService(log logger.Logger) (Service, error) {
	store, err := storage.NewStorage(storage.StorageType(config.GetStorageConfig().Backend), log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	q, err := queue.GetQueue()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}

	pcfg := config.GetPipelineConfig()
	awsCfg := config.GetAWSConfig()

	gateway, err := ocr.NewGateway(context.Background(), ocr.GatewayConfig{
		Backend: pcfg.OCRBackend,
		HTTP: ocr.HTTPConfig{
			Endpoint:    pcfg.OCREndpoint,
			Token:       pcfg.OCRToken,
			Timeout:     pcfg.OCRTimeout,
			MaxAttempts: pcfg.OCRRetries,
		},
		Textract: ocr.TextractConfig{
			Region:    awsCfg.Region,
			AccessKey: awsCfg.AccessKey,
			SecretKey: awsCfg.SecretKey,
		},
		MaxDim: pcfg.MaxDimension,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OCR gateway: %w", err)
	}

	registry, err := schema.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to load schema registry: %w", err)
	}

	llm := config.GetLLMConfig()
	extractor := extract.NewOpenAIExtractor(llm.APIKey, llm.Model, log)

	p := pipe.New(gateway, extractor, registry, log, pipe.Config{
		BatchSize:         pcfg.BatchSize,
		Concurrency:       pcfg.BatchSize,
		DPI:               pcfg.DPI,
		MaxDimension:      pcfg.MaxDimension,
		MaxRepairAttempts: pcfg.MaxRepairAttempts,
		SchemaID:          pcfg.SchemaID,
		ChunkBytes:        pcfg.ChunkBytes,
		Timeout:           pcfg.PipelineTimeout,
	})

	return NewService(p, gateway, q, store, log, nil), nil
}

// ProcessPDF stores the upload and enqueues an async pipeline run.
func (s *PipelineService) ProcessPDF(
	ctx context.Context,
	file multipart.File,
	header *multipart.FileHeader,
) (*models.ProcessingTask, error) {
	s.logger.Info("Starting pipeline task",
		logger.String("filename", header.Filename),
		logger.Int64("size", header.Size),
	)

	if err := s.validateFile(header); err != nil {
		s.logger.Error("File validation failed",
			logger.String("filename", header.Filename),
			logger.Error(err),
		)
		return nil, err
	}

	taskID := uuid.New().String()

	task := &models.ProcessingTask{
		ID:        taskID,
		Status:    models.StatusPending,
		Type:      queue.TaskTypePipelineRun,
		Priority:  s.config.QueuePriority,
		Progress:  0,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Metadata: map[string]string{
			"filename": header.Filename,
			"size":     fmt.Sprintf("%d", header.Size),
			"type":     filepath.Ext(header.Filename),
		},
	}

	fileID, err := s.storage.Store(ctx, file, fmt.Sprintf("upload:%s", taskID))
	if err != nil {
		s.logger.Error("Failed to store file",
			logger.String("filename", header.Filename),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	queueTask := &queue.Task{
		ID:       taskID,
		Type:     task.Type,
		Priority: task.Priority,
		Payload: map[string]any{
			"fileId":   fileID,
			"filename": header.Filename,
			"size":     header.Size,
		},
		Metadata:  task.Metadata,
		CreatedAt: task.CreatedAt,
	}

	if err := s.queue.Enqueue(ctx, queueTask); err != nil {
		s.logger.Error("Failed to enqueue task",
			logger.String("taskId", taskID),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	initialStatus := &queue.TaskStatus{
		TaskID:    taskID,
		Status:    "pending",
		Progress:  0,
		StartedAt: time.Now(),
	}

	if err := s.queue.SaveFinalStatus(ctx, initialStatus); err != nil {
		s.logger.Error("Failed to save initial status",
			logger.String("taskId", taskID),
			logger.Error(err),
		)
	}

	s.logger.Info("Pipeline task created",
		logger.String("taskId", taskID),
		logger.String("filename", header.Filename),
	)

	return task, nil
}

// MarkdownSync rasterizes and OCRs the upload inline, skipping extraction.
// Partial markdown is returned alongside the error when OCR gives out.
func (s *PipelineService) MarkdownSync(
	ctx context.Context,
	file multipart.File,
	header *multipart.FileHeader,
) (*models.MarkdownDocument, error) {
	if err := s.validateFile(header); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(file, s.config.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > s.config.MaxFileSize {
		return nil, fmt.Errorf("file size exceeds maximum limit of %d bytes", s.config.MaxFileSize)
	}

	return s.pipeline.Markdown(ctx, header.Filename, data)
}

// ExtractImage runs a single raster image through the OCR gateway.
func (s *PipelineService) ExtractImage(
	ctx context.Context,
	file multipart.File,
	header *multipart.FileHeader,
) (string, error) {
	if header.Size > s.config.MaxFileSize {
		return "", fmt.Errorf("file size exceeds maximum limit of %d bytes", s.config.MaxFileSize)
	}

	img, _, err := image.Decode(file)
	if err != nil {
		return "", fmt.Errorf("%w: decode image: %v", models.ErrOCRInput, err)
	}

	return s.gateway.ExtractText(ctx, img)
}

// HandleTask is the worker entrypoint for a queued pipeline run.
func (s *PipelineService) HandleTask(ctx context.Context, task *queue.Task) error {
	if task == nil || task.Payload == nil || task.Metadata == nil {
		return fmt.Errorf("invalid task: missing required data")
	}

	s.logger.Info("Running pipeline task",
		logger.String("taskId", task.ID),
		logger.String("filename", task.Metadata["filename"]),
	)

	fileID, ok := task.Payload["fileId"].(string)
	if !ok || fileID == "" {
		return fmt.Errorf("invalid task: missing fileId")
	}

	reader, err := s.storage.Get(ctx, fileID)
	if err != nil {
		return fmt.Errorf("failed to get file: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	result, err := s.pipeline.Run(ctx, task.Metadata["filename"], data)
	if err != nil {
		s.saveStatus(ctx, task, "failed", err.Error())
		return fmt.Errorf("pipeline run failed: %w", err)
	}

	resultData, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if _, err := s.storage.Store(ctx, bytes.NewReader(resultData), fmt.Sprintf("result:%s", task.ID)); err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}

	status := "completed"
	switch result.Status {
	case models.StateFailed:
		status = "failed"
	case models.StateCancelled:
		status = "cancelled"
	}
	s.saveStatus(ctx, task, status, result.Error)

	s.logger.Info("Pipeline task finished",
		logger.String("taskId", task.ID),
		logger.String("status", status),
		logger.Int("attemptsUsed", result.AttemptsUsed),
	)

	return nil
}

func (s *PipelineService) saveStatus(ctx context.Context, task *queue.Task, status, errMsg string) {
	progress := 1.0
	if status != "completed" {
		progress = 0
	}
	final := &queue.TaskStatus{
		TaskID:     task.ID,
		Status:     status,
		Progress:   progress,
		Error:      errMsg,
		StartedAt:  task.CreatedAt,
		FinishedAt: time.Now(),
	}
	if err := s.queue.SaveFinalStatus(ctx, final); err != nil {
		s.logger.Error("Failed to save final status",
			logger.String("taskId", task.ID),
			logger.Error(err),
		)
	}
}

func (s *PipelineService) GetStatus(ctx context.Context, taskID string) (*models.ProcessingTask, error) {
	status, err := s.queue.GetTaskStatus(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get task status: %w", err)
	}

	var taskStatus models.ProcessingStatus
	switch status.Status {
	case "pending":
		taskStatus = models.StatusPending
	case "running", "active":
		taskStatus = models.StatusRunning
	case "completed":
		taskStatus = models.StatusCompleted
	case "failed":
		taskStatus = models.StatusFailed
	case "cancelled":
		taskStatus = models.StatusCancelled
	default:
		taskStatus = models.StatusPending
	}

	return &models.ProcessingTask{
		ID:        status.TaskID,
		Status:    taskStatus,
		Type:      queue.TaskTypePipelineRun,
		Progress:  status.Progress,
		Error:     status.Error,
		Metadata:  make(map[string]string),
		CreatedAt: status.StartedAt,
		UpdatedAt: status.FinishedAt,
	}, nil
}

// GetResult returns the stored pipeline result. Failed and cancelled runs
// still carry partial output, so only unfinished tasks are rejected.
func (s *PipelineService) GetResult(ctx context.Context, taskID string) (*pipe.Result, error) {
	status, err := s.GetStatus(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if status.Status == models.StatusPending || status.Status == models.StatusRunning {
		return nil, fmt.Errorf("task has not finished: %s", status.Status)
	}

	reader, err := s.storage.Get(ctx, fmt.Sprintf("result:%s", taskID))
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	defer reader.Close()

	var result pipe.Result
	if err := json.NewDecoder(reader).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}

	return &result, nil
}

func (s *PipelineService) Cancel(ctx context.Context, taskID string) error {
	if err := s.queue.CancelTask(ctx, taskID); err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}

	if err := s.queue.SaveFinalStatus(ctx, &queue.TaskStatus{
		TaskID:     taskID,
		Status:     "cancelled",
		FinishedAt: time.Now(),
	}); err != nil {
		s.logger.Error("Failed to save cancelled status",
			logger.String("taskId", taskID),
			logger.Error(err),
		)
	}

	s.logger.Info("Task cancelled",
		logger.String("taskId", taskID),
	)

	return nil
}

// Cleanup removes uploads and results older than the retention period.
func (s *PipelineService) Cleanup(ctx context.Context) error {
	threshold := time.Now().Add(-s.config.RetentionPeriod)

	if err := s.storage.CleanupBefore(ctx, threshold); err != nil {
		return fmt.Errorf("failed to cleanup storage: %w", err)
	}

	s.logger.Info("Completed tasks cleanup",
		logger.Time("threshold", threshold),
	)

	return nil
}

func (s *PipelineService) validateFile(header *multipart.FileHeader) error {
	if header.Size > s.config.MaxFileSize {
		return fmt.Errorf("file size exceeds maximum limit of %d bytes", s.config.MaxFileSize)
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	for _, t := range s.config.AllowedTypes {
		if t == ext {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", models.ErrUnsupportedFormat, ext)
}
