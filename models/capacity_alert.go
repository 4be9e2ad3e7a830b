package models

import "time"

const (
	AlertIncrease = "increase"
	AlertDecrease = "decrease"
)

type CapacityAlert struct {
	TS           time.Time `gorm:"column:ts;primaryKey" json:"ts"`
	Metric       string    `gorm:"column:metric;primaryKey" json:"metric"`
	ForecastDate time.Time `gorm:"column:forecast_date;primaryKey;type:date" json:"forecast_date"`
	Direction    string    `gorm:"column:direction" json:"direction"`
	ProbIncrease float64   `gorm:"column:prob_increase" json:"prob_increase"`
	Yhat         float64   `gorm:"column:yhat" json:"yhat"`
	Current      float64   `gorm:"column:current_value" json:"current_value"`
	Message      string    `gorm:"column:message" json:"message"`
}

func (CapacityAlert) TableName() string { return "capacity_alerts" }
