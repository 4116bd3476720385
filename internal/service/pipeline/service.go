package pipeline

import (
	"context"
	"mime/multipart"

	"github.com/yifanzh/structpdf/internal/models"
	pipe "github.com/yifanzh/structpdf/internal/pipeline"
	"github.com/yifanzh/structpdf/pkg/queue"
)

// Service is the application-facing surface of the document pipeline.
// ProcessPDF enqueues async work; MarkdownSync and ExtractImage run inline
// and are meant for small inputs.
type Service interface {
	ProcessPDF(ctx context.Context, file multipart.File, header *multipart.FileHeader) (*models.ProcessingTask, error)
	MarkdownSync(ctx context.Context, file multipart.File, header *multipart.FileHeader) (*models.MarkdownDocument, error)
	ExtractImage(ctx context.Context, file multipart.File, header *multipart.FileHeader) (string, error)
	GetStatus(ctx context.Context, taskID string) (*models.ProcessingTask, error)
	GetResult(ctx context.Context, taskID string) (*pipe.Result, error)
	Cancel(ctx context.Context, taskID string) error
	HandleTask(ctx context.Context, task *queue.Task) error
	Cleanup(ctx context.Context) error
}
