package devices

import "time"

// Device binds a push token to its current owner. The token is globally
// unique; re-registering it under a different account transfers ownership.
type Device struct {
	ID          uint      `gorm:"column:id;primaryKey"`
	UserID      uint      `gorm:"column:user_id;not null;index"`
	Platform    string    `gorm:"column:platform;size:32;not null"`
	DeviceToken string    `gorm:"column:device_token;size:512;uniqueIndex;not null"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Device) TableName() string {
	return "user_devices"
}
