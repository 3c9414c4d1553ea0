package models

import "time"

// Comment is an append-only entry on a post.
type Comment struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PostID     uint      `gorm:"not null;index" json:"post_id"`
	UserID     uint      `gorm:"not null" json:"user_id"`
	AuthorName string    `gorm:"not null" json:"author"`
	Text       string    `gorm:"type:text;not null" json:"text"`
	Date       string    `gorm:"size:10;not null" json:"date"`
	CreatedAt  time.Time `json:"created_at"`
}
