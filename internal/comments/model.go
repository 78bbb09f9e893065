package comments

import "time"

// Comment is attached to exactly one of a generation or a summary. ParentID is
// a non-owning back-reference forming a reply tree; traversal is a query, not
// a pointer walk.
type Comment struct {
	ID        uint      `gorm:"column:id;primaryKey"`
	AIID      *uint     `gorm:"column:ai_id;index"`
	SummaryID *uint     `gorm:"column:summary_id;index"`
	AuthorID  uint      `gorm:"column:author_id;not null;index"`
	ParentID  *uint     `gorm:"column:parent_id;index"`
	Body      string    `gorm:"column:body;size:2000;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}
