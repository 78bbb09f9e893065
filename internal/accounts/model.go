package accounts

import "time"

// User is an account that owns summaries, devices, and follow edges.
type User struct {
	ID           uint      `gorm:"column:id;primaryKey"`
	Email        string    `gorm:"column:email;size:320;uniqueIndex;not null"`
	Username     string    `gorm:"column:username;size:64;uniqueIndex;not null"`
	PasswordHash string    `gorm:"column:hashed_password;size:128;not null"`
	IsActive     bool      `gorm:"column:is_active;not null;default:true"`
	Timezone     string    `gorm:"column:timezone;size:64;not null;default:''"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// Follow is a directional edge from follower to followee. The pair is unique;
// nothing prevents follower_id == followee_id.
type Follow struct {
	ID         uint      `gorm:"column:id;primaryKey"`
	FollowerID uint      `gorm:"column:follower_id;not null;uniqueIndex:idx_follow_edge,priority:1"`
	FolloweeID uint      `gorm:"column:followee_id;not null;uniqueIndex:idx_follow_edge,priority:2;index"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Follow) TableName() string {
	return "follows"
}
