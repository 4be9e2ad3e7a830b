package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Kubendra2004/HealthForesight/forecast"
	"github.com/Kubendra2004/HealthForesight/models"
)

type ForecastLogService struct {
	db *gorm.DB
}

func NewForecastLogService(db *gorm.DB) *ForecastLogService {
	return &ForecastLogService{db: db}
}

// Record stores every point of a served forecast.
func (s *ForecastLogService) Record(ctx context.Context, requestID string, res *forecast.ForecastResult, offsets map[forecast.Metric]float64) error {
	rows := ForecastLogRows(requestID, res, offsets)
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(rows, 100).Error
}

// ForecastLogRows flattens a result into log rows ordered by metric then date.
func ForecastLogRows(requestID string, res *forecast.ForecastResult, offsets map[forecast.Metric]float64) []models.ForecastLog {
	if res == nil {
		return nil
	}
	ts := res.GeneratedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	var rows []models.ForecastLog
	for _, m := range forecast.AllMetrics {
		points, ok := res.Series[m]
		if !ok {
			continue
		}
		var offset *float64
		if o, ok := offsets[m]; ok {
			o := o
			offset = &o
		}
		for _, p := range points {
			rows = append(rows, models.ForecastLog{
				TS:           ts,
				RequestID:    requestID,
				Metric:       string(m),
				ForecastDate: p.Date,
				Yhat:         p.Yhat,
				YhatLower:    p.YhatLower,
				YhatUpper:    p.YhatUpper,
				ProbIncrease: p.ProbIncrease,
				Current:      res.Current[m],
				LiveOffset:   offset,
			})
		}
	}
	return rows
}
