package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/jobflow/internal/domain"
	"github.com/timmy/jobflow/internal/repository"
	"github.com/timmy/jobflow/internal/service"
)

// ImportHandler handles import management endpoints.
type ImportHandler struct {
	importer   *service.ImporterService
	runRepo    *repository.ImportRunRepository
	queueAdmin *service.QueueAdminService
}

// NewImportHandler creates a new import handler.
// Parameters:
//   - importer: import cycle service.
//   - runRepo: import run ledger storage.
//   - queueAdmin: queue administration facade, used for post-dispatch stats.
// Returns:
//   - *ImportHandler: initialized handler.
func NewImportHandler(importer *service.ImporterService, runRepo *repository.ImportRunRepository, queueAdmin *service.QueueAdminService) *ImportHandler {
	return &ImportHandler{
		importer:   importer,
		runRepo:    runRepo,
		queueAdmin: queueAdmin,
	}
}

// Trigger handles POST /api/imports/trigger. The cycle runs synchronously up
// to dispatch; batch processing continues in the workers after the response.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ImportHandler) Trigger(c *gin.Context) {
	runs, err := h.importer.RunImportCycle(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to trigger import",
			"error":   err.Error(),
		})
		return
	}

	data := gin.H{"runs": runs}
	if stats, err := h.queueAdmin.Stats(c.Request.Context()); err == nil {
		data["queue_stats"] = stats
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Import triggered successfully",
		"data":    data,
	})
}

// History handles GET /api/imports/history with optional status, source,
// startDate, endDate, page, and limit query parameters.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ImportHandler) History(c *gin.Context) {
	query := repository.RunQuery{
		Status: domain.RunStatus(c.Query("status")),
		Source: c.Query("source"),
		Page:   intQuery(c, "page", 1),
		Limit:  intQuery(c, "limit", 10),
	}
	if t, ok := timeQuery(c, "startDate"); ok {
		query.StartDate = &t
	}
	if t, ok := timeQuery(c, "endDate"); ok {
		query.EndDate = &t
	}

	runs, total, err := h.runRepo.List(c.Request.Context(), query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to fetch import history",
			"error":   err.Error(),
		})
		return
	}

	pages := total / int64(query.Limit)
	if total%int64(query.Limit) != 0 {
		pages++
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"runs": runs,
			"pagination": gin.H{
				"page":  query.Page,
				"limit": query.Limit,
				"total": total,
				"pages": pages,
			},
		},
	})
}

// GetByID handles GET /api/imports/history/:id, including failure details.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ImportHandler) GetByID(c *gin.Context) {
	run, err := h.runRepo.GetByIDWithFailures(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"message": "Import run not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to fetch import run",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    run,
	})
}

// Stats handles GET /api/imports/stats?days=N, aggregating runs over a
// trailing window of the given number of days (default 7).
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ImportHandler) Stats(c *gin.Context) {
	days := intQuery(c, "days", 7)
	since := time.Now().AddDate(0, 0, -days)

	overall, bySource, err := h.runRepo.Stats(c.Request.Context(), since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to fetch import statistics",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"overall":   overall,
			"by_source": bySource,
			"period": gin.H{
				"days":       days,
				"start_date": since,
				"end_date":   time.Now(),
			},
		},
	})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	if raw := c.Query(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}

func timeQuery(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
