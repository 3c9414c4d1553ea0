package models

import (
	"time"

	"cuisine/internal/geo"
)

// FavoriteRestaurant is a per-user snapshot of a favorited place.
type FavoriteRestaurant struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	UserID         uint      `gorm:"not null;uniqueIndex:idx_fav_user_place" json:"-"`
	PlaceID        string    `gorm:"not null;uniqueIndex:idx_fav_user_place" json:"place_id"`
	Name           string    `gorm:"not null" json:"name"`
	Address        string    `json:"address"`
	Rating         float64   `json:"rating"`
	PhotoReference string    `json:"photo_reference"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	Timestamp      time.Time `gorm:"not null" json:"timestamp"`
}

// Location returns the saved coordinate, or nil when none was captured.
func (f *FavoriteRestaurant) Location() *geo.Coordinate {
	return geo.NewCoordinate(f.Latitude, f.Longitude)
}
