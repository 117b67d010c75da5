// internal/models/match.go
package models

import "time"

// Match is the single pairing of a user with a listing. At most one exists per pair.
type Match struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	ListingID    string     `json:"listingId"`
	Score        float64    `json:"score"`
	Reasons      []string   `json:"reasons"`
	IsNotified   bool       `json:"isNotified"`
	NotifiedAt   *time.Time `json:"notifiedAt,omitempty"`
	IsViewed     bool       `json:"isViewed"`
	IsInterested bool       `json:"isInterested"`
	CreatedAt    time.Time  `json:"createdAt"`
}
