package handlers

import (
	"github.com/yifanzh/structpdf/internal/service/pipeline"
	"github.com/yifanzh/structpdf/pkg/logger"
)

type Handlers struct {
	Pipeline *PipelineHandler
}

func NewHandlers(
	pipelineService pipeline.Service,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Pipeline: NewPipelineHandler(pipelineService, logger),
	}
}
