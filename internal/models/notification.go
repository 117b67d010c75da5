// internal/models/notification.go
package models

import "time"

const (
	NotificationStatusSent   = "sent"
	NotificationStatusFailed = "failed"
)

// Notification records one delivery attempt for a match.
type Notification struct {
	ID         string    `json:"id"`
	MatchID    string    `json:"matchId"`
	UserID     string    `json:"userId"`
	ListingID  string    `json:"listingId"`
	Channel    string    `json:"channel"` // "whatsapp", "sms"
	Status     string    `json:"status"`  // "sent", "failed"
	Body       string    `json:"body"`
	ImagesSent int       `json:"imagesSent"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
