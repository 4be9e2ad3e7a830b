package models

import "time"

// ForecastLog is one served forecast day. Rows are written per request for audit and
// for the capacity alerter; they are never read back as model state.
type ForecastLog struct {
	ID           uint      `gorm:"column:id;primaryKey" json:"id"`
	TS           time.Time `gorm:"column:ts;index" json:"ts"`
	RequestID    string    `gorm:"column:request_id;index" json:"request_id"`
	Metric       string    `gorm:"column:metric;index" json:"metric"`
	ForecastDate time.Time `gorm:"column:forecast_date;type:date" json:"forecast_date"`
	Yhat         float64   `gorm:"column:yhat" json:"yhat"`
	YhatLower    float64   `gorm:"column:yhat_lower" json:"yhat_lower"`
	YhatUpper    float64   `gorm:"column:yhat_upper" json:"yhat_upper"`
	ProbIncrease float64   `gorm:"column:prob_increase" json:"prob_increase"`
	Current      float64   `gorm:"column:current_value" json:"current_value"`
	LiveOffset   *float64  `gorm:"column:live_offset" json:"live_offset,omitempty"`
}

func (ForecastLog) TableName() string { return "resource_forecasts" }
