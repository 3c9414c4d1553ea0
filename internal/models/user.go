package models

import (
	"time"

	"gorm.io/gorm"
)

// User is an account holder. Password holds the bcrypt hash.
type User struct {
	ID                   uint           `gorm:"primaryKey" json:"id"`
	Username             string         `gorm:"uniqueIndex;not null" json:"username"`
	Email                string         `gorm:"uniqueIndex;not null" json:"email"`
	Password             string         `gorm:"not null" json:"-"`
	Bio                  string         `json:"bio"`
	Phone                string         `json:"phone"`
	NotificationsEnabled bool           `gorm:"not null;default:false" json:"notifications_enabled"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	DeletedAt            gorm.DeletedAt `gorm:"index" json:"-"`
}
