package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Kubendra2004/HealthForesight/forecast"
	"github.com/Kubendra2004/HealthForesight/models"
	"github.com/Kubendra2004/HealthForesight/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type AlertHandler struct {
	db    *gorm.DB
	cache *services.CacheService
}

func NewAlertHandler(db *gorm.DB, cache *services.CacheService) *AlertHandler {
	return &AlertHandler{db: db, cache: cache}
}

func (h *AlertHandler) GetAlerts(c *gin.Context) {
	p := ParsePagination(c)

	metric := c.Query("metric")
	if metric != "" {
		if _, err := forecast.ParseMetric(metric); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	direction := c.Query("direction")
	if direction != "" && direction != models.AlertIncrease && direction != models.AlertDecrease {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be increase or decrease"})
		return
	}

	beforeStr := ""
	if p.Before != nil {
		beforeStr = p.Before.Format(time.RFC3339Nano)
	}
	cacheKey := fmt.Sprintf("alerts:%s:%s:%d:%s", metric, direction, p.Limit, beforeStr)

	var cached CursorResponse
	if hit, err := h.cache.Get(c.Request.Context(), cacheKey, &cached); err == nil && hit {
		c.JSON(http.StatusOK, cached)
		return
	}

	query := h.db.WithContext(c.Request.Context()).Model(&models.CapacityAlert{}).
		Order("ts DESC").
		Limit(p.Limit + 1)
	if p.Before != nil {
		query = query.Where("ts < ?", *p.Before)
	}
	if metric != "" {
		query = query.Where("metric = ?", metric)
	}
	if direction != "" {
		query = query.Where("direction = ?", direction)
	}

	var rows []models.CapacityAlert
	if err := query.Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database query failed"})
		return
	}

	resp := cursorPage(rows, p.Limit, func(r models.CapacityAlert) time.Time { return r.TS })
	go h.cache.Set(context.Background(), cacheKey, resp, 30*time.Second)

	c.JSON(http.StatusOK, resp)
}
