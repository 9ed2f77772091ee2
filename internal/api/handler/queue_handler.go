package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/jobflow/internal/service"
)

// QueueHandler handles queue management endpoints.
type QueueHandler struct {
	admin *service.QueueAdminService
}

// NewQueueHandler creates a new queue handler.
// Parameters:
//   - admin: queue administration service.
// Returns:
//   - *QueueHandler: initialized handler.
func NewQueueHandler(admin *service.QueueAdminService) *QueueHandler {
	return &QueueHandler{admin: admin}
}

// Stats handles GET /api/imports/queue/stats.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *QueueHandler) Stats(c *gin.Context) {
	stats, err := h.admin.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to fetch queue statistics",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    stats,
	})
}

// Pause handles POST /api/imports/queue/pause.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *QueueHandler) Pause(c *gin.Context) {
	if err := h.admin.Pause(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to pause queue",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Queue paused successfully",
	})
}

// Resume handles POST /api/imports/queue/resume.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *QueueHandler) Resume(c *gin.Context) {
	if err := h.admin.Resume(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to resume queue",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Queue resumed successfully",
	})
}

// Retry handles POST /api/imports/queue/retry, requeueing failed messages.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *QueueHandler) Retry(c *gin.Context) {
	count, err := h.admin.RetryFailed(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to retry jobs",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Retried failed messages",
		"data":    gin.H{"retried_count": count},
	})
}

// Clean handles POST /api/imports/queue/clean. The optional grace_period body
// field is in hours; default 24.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *QueueHandler) Clean(c *gin.Context) {
	var req struct {
		GracePeriod int `json:"grace_period"`
	}
	// Body is optional
	_ = c.ShouldBindJSON(&req)
	if req.GracePeriod <= 0 {
		req.GracePeriod = 24
	}

	removed, err := h.admin.Clean(c.Request.Context(), time.Duration(req.GracePeriod)*time.Hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to clean queue",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Queue cleaned successfully",
		"data":    gin.H{"removed_count": removed},
	})
}
