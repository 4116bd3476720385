package config

import (
	"sync"
	"time"
)

var (
	pipelineOnce   sync.Once
	pipelineConfig *PipelineConfig
)

// PipelineConfig holds every knob of the document pipeline. It is passed
// explicitly into constructors, never read as ambient state by the
// pipeline itself.
type PipelineConfig struct {
	OCRBackend  string        // http | textract | tesseract
	OCREndpoint string        // inference endpoint for the http backend
	OCRToken    string        // bearer token for the http backend
	OCRTimeout  time.Duration // per-call timeout; first calls may hit cold starts
	OCRRetries  int           // attempts before OcrUnavailable

	BatchSize    int     // pages per batch
	DPI          float64 // rasterization resolution
	MaxDimension int     // clamp for oversized renders, pixels

	MaxRepairAttempts int
	SchemaID          string
	ChunkBytes        int // markdown above this size is chunked for extraction

	PipelineTimeout time.Duration // overall deadline; 0 disables
}

func GetPipelineConfig() *PipelineConfig {
	pipelineOnce.Do(func() {
		loadEnv()

		pipelineConfig = &PipelineConfig{
			OCRBackend:        getEnv("OCR_BACKEND", "http"),
			OCREndpoint:       getEnv("OCR_ENDPOINT", "https://api-inference.huggingface.co/models/lightonai/LightOnOCR-2-1B"),
			OCRToken:          getEnv("OCR_TOKEN", ""),
			OCRTimeout:        getEnvDuration("OCR_TIMEOUT", 60*time.Second),
			OCRRetries:        getEnvInt("OCR_RETRIES", 3),
			BatchSize:         getEnvInt("PIPELINE_BATCH_SIZE", 5),
			DPI:               float64(getEnvInt("PIPELINE_DPI", 300)),
			MaxDimension:      getEnvInt("PIPELINE_MAX_IMAGE_DIM", 2000),
			MaxRepairAttempts: getEnvInt("PIPELINE_MAX_REPAIR_ATTEMPTS", 3),
			SchemaID:          getEnv("PIPELINE_SCHEMA", "question_bank"),
			ChunkBytes:        getEnvInt("PIPELINE_CHUNK_BYTES", 120*1024),
			PipelineTimeout:   getEnvDuration("PIPELINE_TIMEOUT", 0),
		}
	})
	return pipelineConfig
}
