package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Kubendra2004/HealthForesight/forecast"
	"github.com/Kubendra2004/HealthForesight/services"

	"github.com/gin-gonic/gin"
)

type TrainingHandler struct {
	jobs    *services.TrainingJobs
	metrics forecast.MetricsSource
}

func NewTrainingHandler(jobs *services.TrainingJobs, metrics forecast.MetricsSource) *TrainingHandler {
	return &TrainingHandler{jobs: jobs, metrics: metrics}
}

// Retrain queues a background training job and answers 202 immediately.
func (h *TrainingHandler) Retrain(c *gin.Context) {
	var names []string
	for _, v := range c.QueryArray("metric") {
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}
	var only []forecast.Metric
	if len(names) > 0 {
		parsed, err := forecast.ParseMetrics(names)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		only = parsed
	}

	job := h.jobs.Start(only)
	c.Header("Location", "/ml/resources/retrain/"+job.ID)
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (h *TrainingHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Param("id"))
	if errors.Is(err, services.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (h *TrainingHandler) GetMetrics(c *gin.Context) {
	all, err := h.metrics.LoadMetrics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load model metrics"})
		return
	}
	c.JSON(http.StatusOK, all)
}
