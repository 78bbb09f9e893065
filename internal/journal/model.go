package journal

import "time"

// MaxSummaryLength bounds the daily summary text; enforced at the HTTP boundary.
const MaxSummaryLength = 200

// DailySummary is one user's short written summary for a calendar date.
// SummaryDate is the date in the author's timezone, stored at UTC midnight.
type DailySummary struct {
	ID          uint      `gorm:"column:id;primaryKey"`
	UserID      uint      `gorm:"column:user_id;not null;index:idx_summaries_user_date,priority:1"`
	SummaryDate time.Time `gorm:"column:summary_date;not null;index:idx_summaries_user_date,priority:2"`
	SummaryText string    `gorm:"column:summary_text;size:200;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (DailySummary) TableName() string {
	return "daily_summaries"
}
