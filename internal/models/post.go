// Package models contains data structures for the application's domain models.
package models

import (
	"time"

	"cuisine/internal/geo"

	"gorm.io/gorm"
)

// DateLayout is the calendar-date encoding used for posts and comments.
const DateLayout = "2006-01-02"

// MaxPostImages caps the number of images attached to one post.
const MaxPostImages = 9

// Post is a user-authored record linking photos, text and a restaurant.
type Post struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	Title     string      `gorm:"not null" json:"title"`
	Content   string      `gorm:"type:text;not null" json:"content"`
	UserID    uint        `gorm:"not null;index" json:"user_id"`
	PlaceID   string      `gorm:"not null;index" json:"place_id"`
	PlaceName string      `json:"place_name"`
	Latitude  *float64    `json:"latitude,omitempty"`
	Longitude *float64    `json:"longitude,omitempty"`
	Date      string      `gorm:"size:10;not null;index" json:"date"`
	Images    []PostImage `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"images"`
	Likes     []Like      `gorm:"foreignKey:PostID" json:"-"`
	// CommentsCount is not persisted; computed at query time
	CommentsCount int            `gorm:"->;-:migration" json:"comments_count"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// LikedBy returns the identifiers of users who liked the post.
func (p *Post) LikedBy() []uint {
	ids := make([]uint, 0, len(p.Likes))
	for _, l := range p.Likes {
		ids = append(ids, l.UserID)
	}
	return ids
}

// IsLikedBy reports whether userID is a member of the post's likedBy set.
func (p *Post) IsLikedBy(userID uint) bool {
	if userID == 0 {
		return false
	}
	for _, l := range p.Likes {
		if l.UserID == userID {
			return true
		}
	}
	return false
}

// Location returns the post's coordinate, or nil when it has none.
func (p *Post) Location() *geo.Coordinate {
	return geo.NewCoordinate(p.Latitude, p.Longitude)
}

// ImageKeys returns storage keys in display order.
func (p *Post) ImageKeys() []string {
	keys := make([]string, 0, len(p.Images))
	for _, img := range p.Images {
		keys = append(keys, img.StorageKey)
	}
	return keys
}

// PostImage is an opaque blob-store reference attached to a post.
type PostImage struct {
	ID         uint   `gorm:"primaryKey" json:"-"`
	PostID     uint   `gorm:"not null;uniqueIndex:idx_post_image_position" json:"-"`
	Position   int    `gorm:"not null;uniqueIndex:idx_post_image_position" json:"position"`
	StorageKey string `gorm:"not null" json:"storage_key"`
}
