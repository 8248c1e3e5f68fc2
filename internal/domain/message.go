// Package domain contains core domain types for the CareerFlow counselling backend.
package domain

import (
	"encoding/json"
	"time"
)

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Kind is how a message renders: as prose or as a recommendation card.
type Kind string

const (
	KindPlain      Kind = "plain"
	KindStructured Kind = "structured"
)

// FallbackText replaces a bot message whose stream failed before it was classified.
const FallbackText = "Sorry, I couldn't reach the career counselor right now. Please try again in a moment."

// Message is one entry in a chat session. Bot messages are mutated in place while
// their turn streams; Kind moves from plain to structured at most once.
type Message struct {
	ID                string                `json:"id"`
	Sender            Sender                `json:"sender"`
	Text              string                `json:"text"`
	Kind              Kind                  `json:"kind"`
	StructuredPayload json.RawMessage       `json:"structured_payload,omitempty"`
	Recommendation    *CareerRecommendation `json:"recommendation,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
}

// IsStructured reports whether the message has been classified as a structured answer.
func (m *Message) IsStructured() bool {
	return m.Kind == KindStructured
}

// Clone returns a copy that shares no mutable state with m.
func (m *Message) Clone() Message {
	c := *m
	if m.StructuredPayload != nil {
		c.StructuredPayload = append(json.RawMessage(nil), m.StructuredPayload...)
	}
	if m.Recommendation != nil {
		rec := m.Recommendation.clone()
		c.Recommendation = &rec
	}
	return c
}
