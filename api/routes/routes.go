package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yifanzh/structpdf/api/handlers"
	"github.com/yifanzh/structpdf/api/middleware"
)

func SetupRoutes(r *gin.Engine, h *handlers.Handlers, allowOrigins []string) {
	r.Use(middleware.CORS(allowOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")

	pipe := v1.Group("/pipeline")
	{
		pipe.POST("/process", h.Pipeline.Process)
		pipe.POST("/markdown", h.Pipeline.Markdown)
		pipe.GET("/status/:taskId", h.Pipeline.GetStatus)
		pipe.GET("/result/:taskId", h.Pipeline.GetResult)
		pipe.DELETE("/task/:taskId", h.Pipeline.CancelTask)
	}

	v1.POST("/ocr", h.Pipeline.ExtractImage)
}
