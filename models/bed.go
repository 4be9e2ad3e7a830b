package models

import "time"

const (
	BedStatusAvailable = "Available"
	BedStatusOccupied  = "Occupied"
	BedStatusCleaning  = "Cleaning"

	WardICU = "ICU"
)

// Bed is one physical bed in the operational store. Occupied beds feed the live offset.
type Bed struct {
	ID        uint      `gorm:"column:id;primaryKey" json:"id"`
	BedNumber string    `gorm:"column:bed_number;uniqueIndex" json:"bed_number"`
	Ward      string    `gorm:"column:ward;index" json:"ward"`
	Status    string    `gorm:"column:status;index;default:Available" json:"status"`
	PatientID *string   `gorm:"column:patient_id" json:"patient_id,omitempty"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Bed) TableName() string { return "beds" }
