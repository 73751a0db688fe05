package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/observability"
)

type HealthHandler struct {
	metrics *observability.Metrics
}

func NewHealthHandler(m *observability.Metrics) *HealthHandler { return &HealthHandler{metrics: m} }

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// GET /metrics
func (h *HealthHandler) Metrics(c *gin.Context) {
	if h.metrics == nil {
		c.String(http.StatusNotFound, "metrics disabled")
		return
	}
	h.metrics.WriteHTTP(c.Writer, c.Request)
}
