package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Kubendra2004/HealthForesight/forecast"
	"github.com/Kubendra2004/HealthForesight/middleware"
	"github.com/Kubendra2004/HealthForesight/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

type Forecaster interface {
	Forecast(ctx context.Context, req forecast.ForecastRequest) (*forecast.ForecastResult, error)
}

type LiveSource interface {
	Current(ctx context.Context) (map[forecast.Metric]float64, error)
}

type ForecastRecorder interface {
	Record(ctx context.Context, requestID string, res *forecast.ForecastResult, offsets map[forecast.Metric]float64) error
}

type ForecastHandlerConfig struct {
	AlignShiftBounds bool
	CacheTTL         time.Duration
}

type ForecastHandler struct {
	engine   Forecaster
	live     LiveSource
	recorder ForecastRecorder
	cache    *services.CacheService
	cfg      ForecastHandlerConfig
	logger   zerolog.Logger
	now      func() time.Time
}

// NewForecastHandler wires the serving path. live and recorder may be nil.
func NewForecastHandler(engine Forecaster, live LiveSource, recorder ForecastRecorder, cache *services.CacheService, cfg ForecastHandlerConfig, logger zerolog.Logger) *ForecastHandler {
	return &ForecastHandler{
		engine:   engine,
		live:     live,
		recorder: recorder,
		cache:    cache,
		cfg:      cfg,
		logger:   logger.With().Str("component", "forecast_handler").Logger(),
		now:      time.Now,
	}
}

// ForecastResponse is the engine result with the live offset applied.
type ForecastResponse struct {
	forecast.ForecastResult
	Live        map[forecast.Metric]float64 `json:"live,omitempty"`
	LiveOffsets map[forecast.Metric]float64 `json:"live_offsets,omitempty"`
}

// ForecastEvent is published on the forecasts channel after every served forecast.
type ForecastEvent struct {
	RequestID   string                                      `json:"request_id"`
	GeneratedAt time.Time                                   `json:"generated_at"`
	Start       string                                      `json:"start"`
	Days        int                                         `json:"days"`
	Forecasts   map[forecast.Metric][]forecast.ForecastPoint `json:"forecasts"`
}

func (h *ForecastHandler) GetForecast(c *gin.Context) {
	req, err := h.parseRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	names := make([]string, len(req.Metrics))
	for i, m := range req.Metrics {
		names[i] = string(m)
	}
	cacheKey := services.ForecastCacheKey(req.Days, req.Start.Format(dateLayout), names)

	var res *forecast.ForecastResult
	var cached forecast.ForecastResult
	if hit, err := h.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		res = &cached
		c.Header("X-Cache", "HIT")
	} else {
		res, err = h.engine.Forecast(ctx, req)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.Header("X-Cache", "MISS")
		if h.cfg.CacheTTL > 0 {
			go func(r *forecast.ForecastResult) {
				if err := h.cache.Set(context.Background(), cacheKey, r, h.cfg.CacheTTL); err != nil {
					h.logger.Debug().Err(err).Msg("forecast cache set failed")
				}
			}(res)
		}
	}

	resp := h.align(ctx, res)
	requestID := middleware.GetRequestID(c)
	h.afterServe(requestID, resp)
	c.JSON(http.StatusOK, resp)
}

func (h *ForecastHandler) parseRequest(c *gin.Context) (forecast.ForecastRequest, error) {
	var req forecast.ForecastRequest
	if s := c.Query("days"); s != "" {
		days, err := strconv.Atoi(s)
		if err != nil {
			return req, errors.New("invalid days parameter, must be an integer")
		}
		if days < 1 {
			return req, forecast.ErrInvalidHorizon
		}
		req.Days = days
	}

	req.Start = forecast.Day(h.now())
	if s := c.Query("start"); s != "" {
		start, err := time.Parse(dateLayout, s)
		if err != nil {
			return req, errors.New("invalid start parameter, expected YYYY-MM-DD")
		}
		req.Start = start
	}

	var names []string
	for _, v := range c.QueryArray("metric") {
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}
	if len(names) > 0 {
		metrics, err := forecast.ParseMetrics(names)
		if err != nil {
			return req, err
		}
		req.Metrics = metrics
	}
	return req, nil
}

// align applies the live offset to every metric that has a live value. A failed live
// read leaves the forecast unadjusted.
func (h *ForecastHandler) align(ctx context.Context, res *forecast.ForecastResult) ForecastResponse {
	resp := ForecastResponse{ForecastResult: *res}
	if h.live == nil {
		return resp
	}
	live, err := h.live.Current(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("live counts unavailable, serving unadjusted forecast")
		return resp
	}

	series := make(map[forecast.Metric][]forecast.ForecastPoint, len(res.Series))
	for m, points := range res.Series {
		series[m] = points
	}
	resp.Live = make(map[forecast.Metric]float64)
	resp.LiveOffsets = make(map[forecast.Metric]float64)
	for m, value := range live {
		points, ok := series[m]
		if !ok || len(points) == 0 {
			continue
		}
		aligned, offset := forecast.AlignToLive(points, value, h.cfg.AlignShiftBounds)
		series[m] = aligned
		resp.Live[m] = value
		resp.LiveOffsets[m] = offset
	}
	resp.Series = series
	return resp
}

func (h *ForecastHandler) afterServe(requestID string, resp ForecastResponse) {
	if h.recorder != nil {
		res := resp.ForecastResult
		go func() {
			if err := h.recorder.Record(context.Background(), requestID, &res, resp.LiveOffsets); err != nil {
				h.logger.Warn().Err(err).Str("request_id", requestID).Msg("forecast log write failed")
			}
		}()
	}
	go func() {
		event := ForecastEvent{
			RequestID:   requestID,
			GeneratedAt: resp.GeneratedAt,
			Start:       resp.Start,
			Days:        resp.Days,
			Forecasts:   resp.Series,
		}
		if err := h.cache.Publish(context.Background(), services.ChannelForecasts, event); err != nil {
			h.logger.Debug().Err(err).Msg("forecast publish failed")
		}
	}()
}

func (h *ForecastHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, forecast.ErrInvalidHorizon), errors.Is(err, forecast.ErrUnknownMetric):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, forecast.ErrDataUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "historical data unavailable"})
	default:
		h.logger.Error().Err(err).Msg("forecast failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "forecast failed"})
	}
}
