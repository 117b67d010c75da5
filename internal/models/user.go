// internal/models/user.go
package models

import "time"

// ConversationState is the position of a user in the chat flow.
type ConversationState string

const (
	StateIdle               ConversationState = "IDLE"
	StateCollectingCriteria ConversationState = "COLLECTING_CRITERIA"
	StateConfirming         ConversationState = "CONFIRMING"
	StateActive             ConversationState = "ACTIVE"
	StatePaused             ConversationState = "PAUSED"
)

// User is a subscriber identified by their chat handle (a phone number).
type User struct {
	ID                string            `json:"id"`
	Phone             string            `json:"phone"`
	Name              string            `json:"name,omitempty"`
	State             ConversationState `json:"conversationState"`
	IsActive          bool              `json:"isActive"`
	LastInteractionAt *time.Time        `json:"lastInteractionAt,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
	DeletedAt         *time.Time        `json:"deletedAt,omitempty"`
}

// Subscriber pairs an active user with the criteria the matcher scores against.
type Subscriber struct {
	User     User     `json:"user"`
	Criteria Criteria `json:"criteria"`
}
