// internal/models/conversation.go
package models

import "time"

type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// ConversationTurn is an append-only chat log entry.
type ConversationTurn struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Direction Direction `json:"direction"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
