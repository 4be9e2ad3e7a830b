package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/Kubendra2004/HealthForesight/forecast"
	"github.com/Kubendra2004/HealthForesight/models"
)

// LiveCountService reads current occupancy from the operational bed table.
type LiveCountService struct {
	db *gorm.DB
}

func NewLiveCountService(db *gorm.DB) *LiveCountService {
	return &LiveCountService{db: db}
}

// Current returns the live value for each metric that has one. Only beds and icu are
// tracked in the bed table.
func (l *LiveCountService) Current(ctx context.Context) (map[forecast.Metric]float64, error) {
	var beds, icu int64
	q := l.db.WithContext(ctx).Model(&models.Bed{}).Where("status = ?", models.BedStatusOccupied)
	if err := q.Count(&beds).Error; err != nil {
		return nil, fmt.Errorf("count occupied beds: %w", err)
	}
	q = l.db.WithContext(ctx).Model(&models.Bed{}).
		Where("status = ? AND ward = ?", models.BedStatusOccupied, models.WardICU)
	if err := q.Count(&icu).Error; err != nil {
		return nil, fmt.Errorf("count occupied icu beds: %w", err)
	}
	return map[forecast.Metric]float64{
		forecast.Beds: float64(beds),
		forecast.ICU:  float64(icu),
	}, nil
}
