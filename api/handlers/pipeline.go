package handlers

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/yifanzh/structpdf/internal/models"
	"github.com/yifanzh/structpdf/internal/service/pipeline"
	"github.com/yifanzh/structpdf/pkg/logger"
)

type PipelineHandler struct {
	service pipeline.Service
	logger  logger.Logger
}

// ProcessResponse is returned when an async pipeline run is accepted.
type ProcessResponse struct {
	Success   bool   `json:"success"`
	TaskID    string `json:"taskId"`
	Status    string `json:"status"`
	Filename  string `json:"filename"`
	FileSize  int64  `json:"fileSize"`
	FileType  string `json:"fileType"`
	CreatedAt string `json:"createdAt"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewPipelineHandler(service pipeline.Service, logger logger.Logger) *PipelineHandler {
	return &PipelineHandler{
		service: service,
		logger:  logger,
	}
}

// Process accepts a PDF upload and enqueues the full pipeline run.
func (h *PipelineHandler) Process(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid file upload", err)
		return
	}
	defer file.Close()

	task, err := h.service.ProcessPDF(c.Request.Context(), file, header)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrUnsupportedFormat) {
			status = http.StatusBadRequest
		}
		h.handleError(c, status, "Failed to process file", err)
		return
	}

	c.JSON(http.StatusAccepted, ProcessResponse{
		Success:   true,
		TaskID:    task.ID,
		Status:    string(task.Status),
		Filename:  header.Filename,
		FileSize:  header.Size,
		FileType:  filepath.Ext(header.Filename),
		CreatedAt: task.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// Markdown runs rasterization and OCR inline and returns the assembled
// markdown without structured extraction.
func (h *PipelineHandler) Markdown(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid file upload", err)
		return
	}
	defer file.Close()

	md, err := h.service.MarkdownSync(c.Request.Context(), file, header)
	if err != nil {
		if md != nil {
			// Partial markdown survives OCR exhaustion.
			c.JSON(http.StatusOK, gin.H{
				"success":  false,
				"error":    err.Error(),
				"markdown": md.Content,
				"pages":    len(md.Sections),
			})
			return
		}
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrUnsupportedFormat) {
			status = http.StatusBadRequest
		}
		h.handleError(c, status, "Failed to convert file", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"markdown": md.Content,
		"title":    md.Title,
		"pages":    len(md.Sections),
	})
}

// ExtractImage runs a single image through OCR.
func (h *PipelineHandler) ExtractImage(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid file upload", err)
		return
	}
	defer file.Close()

	text, err := h.service.ExtractImage(c.Request.Context(), file, header)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrOCRInput) {
			status = http.StatusBadRequest
		}
		h.handleError(c, status, "Failed to extract text", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"text":    text,
	})
}

func (h *PipelineHandler) GetStatus(c *gin.Context) {
	taskID := c.Param("taskId")
	if taskID == "" {
		h.handleError(c, http.StatusBadRequest, "Task ID is required", nil)
		return
	}

	task, err := h.service.GetStatus(c.Request.Context(), taskID)
	if err != nil {
		h.handleError(c, http.StatusNotFound, "Failed to get status", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"taskId":    task.ID,
		"status":    string(task.Status),
		"progress":  task.Progress,
		"error":     task.Error,
		"createdAt": task.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		"updatedAt": task.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// GetResult returns the stored pipeline result, including partial output
// for failed and cancelled runs.
func (h *PipelineHandler) GetResult(c *gin.Context) {
	taskID := c.Param("taskId")
	if taskID == "" {
		h.handleError(c, http.StatusBadRequest, "Task ID is required", nil)
		return
	}

	result, err := h.service.GetResult(c.Request.Context(), taskID)
	if err != nil {
		h.handleError(c, http.StatusNotFound, "Failed to get result", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": result.Status == models.StateDone,
		"result":  result,
	})
}

func (h *PipelineHandler) CancelTask(c *gin.Context) {
	taskID := c.Param("taskId")
	if taskID == "" {
		h.handleError(c, http.StatusBadRequest, "Task ID is required", nil)
		return
	}

	if err := h.service.Cancel(c.Request.Context(), taskID); err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to cancel task", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Task cancelled successfully",
		"taskId":  taskID,
	})
}

func (h *PipelineHandler) handleError(c *gin.Context, status int, message string, err error) {
	h.logger.Error(message,
		logger.String("path", c.Request.URL.Path),
		logger.Error(err),
	)

	response := ErrorResponse{
		Message: message,
	}
	if err != nil {
		response.Error = err.Error()
	}

	c.JSON(status, response)
}
