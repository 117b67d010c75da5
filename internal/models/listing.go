// internal/models/listing.go
package models

import "time"

// Listing is a normalized post candidate. (Source, PostID) is its dedup key.
type Listing struct {
	ID              string        `json:"id"`
	Source          string        `json:"source"`
	PostID          string        `json:"postId"`
	GroupHandle     string        `json:"groupHandle,omitempty"`
	PostURL         string        `json:"postUrl,omitempty"`
	Author          string        `json:"author,omitempty"`
	RawText         string        `json:"rawText"`
	Images          []string      `json:"images"`
	PostedAt        *time.Time    `json:"postedAt,omitempty"`
	Price           *float64      `json:"price,omitempty"`
	Location        *string       `json:"location,omitempty"`
	Surface         *float64      `json:"surface,omitempty"`
	Rooms           *int          `json:"rooms,omitempty"`
	PropertyType    *PropertyType `json:"propertyType,omitempty"`
	Furnished       *bool         `json:"furnished,omitempty"`
	ConfidenceScore *float64      `json:"confidenceScore,omitempty"`
	IsValid         bool          `json:"isValid"`
	AIEnriched      bool          `json:"aiEnriched"`
	EnrichedAt      *time.Time    `json:"enrichedAt,omitempty"`
	MatchedAt       *time.Time    `json:"matchedAt,omitempty"`
	SentToUsers     []string      `json:"sentToUsers"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// Eligible reports whether the listing may be scored.
func (l *Listing) Eligible() bool {
	return l != nil && l.IsValid && l.AIEnriched
}

// Extraction is the structured result of the external classifier.
type Extraction struct {
	Price        *float64      `json:"price,omitempty"`
	Location     *string       `json:"location,omitempty"`
	Surface      *float64      `json:"surface,omitempty"`
	Rooms        *int          `json:"rooms,omitempty"`
	PropertyType *PropertyType `json:"propertyType,omitempty"`
	Furnished    *bool         `json:"furnished,omitempty"`
	Confidence   float64       `json:"confidence"`
}

// DegradedExtraction is used when the classifier timed out or answered garbage.
func DegradedExtraction() *Extraction {
	return &Extraction{Confidence: 0}
}
