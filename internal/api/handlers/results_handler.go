package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/andresuchdata/control-tower/internal/domain"
	"github.com/andresuchdata/control-tower/internal/service"
)

type ResultsHandler struct {
	service *service.ResultsService
}

func NewResultsHandler(service *service.ResultsService) *ResultsHandler {
	return &ResultsHandler{service: service}
}

func (h *ResultsHandler) parseFilter(c *gin.Context) domain.ResultFilter {
	filter := domain.ResultFilter{
		Channel:  strings.TrimSpace(c.Query("channel")),
		Country:  strings.TrimSpace(c.Query("country")),
		Region:   strings.TrimSpace(c.Query("region")),
		Type:     strings.TrimSpace(c.Query("type")),
		Category: strings.TrimSpace(c.Query("category")),
		Status:   strings.TrimSpace(c.Query("status")),
	}

	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}

	return filter
}

// parseAsOf reads the optional as_of day. ok is false when the value was
// present but unparseable and a response has already been written.
func parseAsOf(c *gin.Context) (*time.Time, bool) {
	raw := strings.TrimSpace(c.Query("as_of"))
	if raw == "" {
		return nil, true
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid as_of, expected YYYY-MM-DD"})
		return nil, false
	}
	return &day, true
}

func respondError(c *gin.Context, message string, err error) {
	if errors.Is(err, domain.ErrNoResults) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no published results for tenant"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": message, "details": err.Error()})
}

func (h *ResultsHandler) GetLatest(c *gin.Context) {
	snapshot, err := h.service.Latest(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		respondError(c, "failed to fetch latest results", err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

func (h *ResultsHandler) GetRecommendations(c *gin.Context) {
	asOf, ok := parseAsOf(c)
	if !ok {
		return
	}

	items, err := h.service.Recommendations(c.Request.Context(), c.Param("tenant"), asOf, h.parseFilter(c))
	if err != nil {
		respondError(c, "failed to fetch recommendations", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": len(items),
	})
}

func (h *ResultsHandler) GetAlignment(c *gin.Context) {
	asOf, ok := parseAsOf(c)
	if !ok {
		return
	}

	items, err := h.service.Alignment(c.Request.Context(), c.Param("tenant"), asOf, h.parseFilter(c))
	if err != nil {
		respondError(c, "failed to fetch alignment", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": len(items),
	})
}

func (h *ResultsHandler) GetInventoryHealth(c *gin.Context) {
	asOf, ok := parseAsOf(c)
	if !ok {
		return
	}

	items, err := h.service.InventoryHealth(c.Request.Context(), c.Param("tenant"), asOf, h.parseFilter(c))
	if err != nil {
		respondError(c, "failed to fetch inventory health", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": len(items),
	})
}

func (h *ResultsHandler) GetRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	runs, err := h.service.Runs(c.Request.Context(), c.Param("tenant"), limit)
	if err != nil {
		respondError(c, "failed to fetch runs", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": runs})
}

func (h *ResultsHandler) GetRun(c *gin.Context) {
	run, err := h.service.Run(c.Request.Context(), c.Param("tenant"), c.Param("run"))
	if err != nil {
		respondError(c, "failed to fetch run", err)
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	c.JSON(http.StatusOK, run)
}
