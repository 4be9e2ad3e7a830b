package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Kubendra2004/HealthForesight/forecast"
	"github.com/Kubendra2004/HealthForesight/models"
	"github.com/Kubendra2004/HealthForesight/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ForecastLogHandler struct {
	db    *gorm.DB
	cache *services.CacheService
}

func NewForecastLogHandler(db *gorm.DB, cache *services.CacheService) *ForecastLogHandler {
	return &ForecastLogHandler{db: db, cache: cache}
}

func (h *ForecastLogHandler) GetForecasts(c *gin.Context) {
	p := ParsePagination(c)

	metric := c.Query("metric")
	if metric != "" {
		if _, err := forecast.ParseMetric(metric); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	// Rows of one request share a timestamp, so this listing pages by id.
	var beforeID uint64
	if s := c.Query("before"); s != "" {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before cursor"})
			return
		}
		beforeID = id
	}
	cacheKey := fmt.Sprintf("forecast_log:%s:%d:%d", metric, p.Limit, beforeID)

	var cached CursorResponse
	if hit, err := h.cache.Get(c.Request.Context(), cacheKey, &cached); err == nil && hit {
		c.JSON(http.StatusOK, cached)
		return
	}

	query := h.db.WithContext(c.Request.Context()).Model(&models.ForecastLog{}).
		Order("id DESC").
		Limit(p.Limit + 1)
	if beforeID > 0 {
		query = query.Where("id < ?", beforeID)
	}
	if metric != "" {
		query = query.Where("metric = ?", metric)
	}

	var rows []models.ForecastLog
	if err := query.Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database query failed"})
		return
	}

	hasMore := len(rows) > p.Limit
	if hasMore {
		rows = rows[:p.Limit]
	}
	var nextCursor string
	if hasMore && len(rows) > 0 {
		nextCursor = strconv.FormatUint(uint64(rows[len(rows)-1].ID), 10)
	}
	resp := CursorResponse{Data: rows, NextCursor: nextCursor, HasMore: hasMore}
	go h.cache.Set(context.Background(), cacheKey, resp, 30*time.Second)

	c.JSON(http.StatusOK, resp)
}
