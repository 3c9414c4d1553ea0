package models

import (
	"fmt"
	"time"
)

// Reminder lifecycle states.
const (
	ReminderPending    = "pending"
	ReminderProcessing = "processing"
	ReminderSent       = "sent"
	ReminderCancelled  = "cancelled"
	ReminderFailed     = "failed"
)

// Reminder is a scheduled notification pointing back at a restaurant.
type Reminder struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"not null;index" json:"user_id"`
	PlaceID        string     `gorm:"not null" json:"place_id"`
	RestaurantName string     `json:"restaurant_name"`
	Title          string     `gorm:"not null" json:"title"`
	Body           string     `json:"body"`
	FireAt         time.Time  `gorm:"not null;index:idx_reminder_due" json:"fire_at"`
	Status         string     `gorm:"size:16;not null;index:idx_reminder_due" json:"status"`
	Attempts       int        `gorm:"not null;default:0" json:"-"`
	LastError      string     `json:"-"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ReminderPayload is what a client receives when a reminder fires.
type ReminderPayload struct {
	ReminderID uint                `json:"reminder_id"`
	UserID     uint                `json:"user_id"`
	Title      string              `json:"title"`
	Body       string              `json:"body"`
	Data       ReminderPayloadData `json:"data"`
}

// ReminderPayloadData carries the deep-link target.
type ReminderPayloadData struct {
	RestaurantID string `json:"restaurant_id"`
	URL          string `json:"url"`
}

// Payload builds the delivery payload for r.
func (r *Reminder) Payload() ReminderPayload {
	return ReminderPayload{
		ReminderID: r.ID,
		UserID:     r.UserID,
		Title:      r.Title,
		Body:       r.Body,
		Data: ReminderPayloadData{
			RestaurantID: r.PlaceID,
			URL:          RestaurantDeepLink(r.PlaceID),
		},
	}
}

// RestaurantDeepLink returns the client URL that opens a restaurant.
func RestaurantDeepLink(placeID string) string {
	return fmt.Sprintf("cuisine://restaurant/%s", placeID)
}
