package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	v1 "github.com/openvirt/inventory-agent/api/v1"
	"github.com/openvirt/inventory-agent/internal/store"
)

type Handler struct {
	store *store.Store
}

func New(s *store.Store) *Handler {
	return &Handler{store: s}
}

// RegisterHandlers mounts the API routes on the router group.
func RegisterHandlers(router *gin.RouterGroup, h *Handler) {
	router.GET("/status", h.GetStatus)
	router.GET("/healthz", h.GetHealth)
}

// GetStatus returns the per-source run status
// (GET /status)
func (h *Handler) GetStatus(c *gin.Context) {
	statuses, err := h.store.RunStatus().List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read run status"})
		return
	}

	resp := v1.StatusResponse{Sources: make([]v1.SourceStatus, 0, len(statuses))}
	for _, s := range statuses {
		var ws v1.SourceStatus
		ws.FromModel(s)
		resp.Sources = append(resp.Sources, ws)
	}
	c.JSON(http.StatusOK, resp)
}

// GetHealth is a liveness probe
// (GET /healthz)
func (h *Handler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
