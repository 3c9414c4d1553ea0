package models

import "time"

// Like is one member of a post's likedBy set.
// The combination of UserID and PostID must be unique.
type Like struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_user_post" json:"user_id"`
	PostID    uint      `gorm:"not null;uniqueIndex:idx_user_post;index" json:"post_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SavedPost is the per-user mirror record written when a post is liked.
type SavedPost struct {
	ID      uint      `gorm:"primaryKey" json:"id"`
	UserID  uint      `gorm:"not null;uniqueIndex:idx_saved_user_post" json:"user_id"`
	PostID  uint      `gorm:"not null;uniqueIndex:idx_saved_user_post" json:"post_id"`
	SavedAt time.Time `gorm:"not null" json:"saved_at"`
}
