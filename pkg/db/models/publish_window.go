package models

import "time"

// PublishWindowID is the fixed primary key of the singleton row.
const PublishWindowID = 1

// PublishWindow is a singleton row holding the daily schedule. Minute
// fields are minutes after midnight; an EndMinute below StartMinute
// means the window crosses midnight.
type PublishWindow struct {
	ID             int       `gorm:"column:id;primaryKey"`
	StartMinute    int       `gorm:"column:start_minute;not null"`
	EndMinute      int       `gorm:"column:end_minute;not null"`
	GenerateMinute int       `gorm:"column:generate_minute;not null"`
	DailyLimit     int       `gorm:"column:daily_limit;not null;default:1"`
	Enabled        bool      `gorm:"column:enabled;not null;default:true"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
