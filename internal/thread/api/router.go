package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/coday/coday/internal/common/logger"
)

// NewRouter assembles the gin engine: middleware chain, health endpoint and
// the thread API under /api.
func NewRouter(h *Handler, authDisabled bool, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(Recovery(log))
	router.Use(RequestLogger(log))
	router.Use(ErrorHandler(log))
	router.Use(CORS())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	apiGroup.Use(Identity(authDisabled))
	h.RegisterRoutes(apiGroup)

	return router
}
