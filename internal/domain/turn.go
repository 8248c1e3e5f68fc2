package domain

import "time"

// TurnRecord is the turn log entry written when a counselling turn finishes.
type TurnRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	MessageID  string    `json:"message_id"`
	State      string    `json:"state"`
	Kind       Kind      `json:"kind"`
	Chunks     int       `json:"chunks"`
	Bytes      int       `json:"bytes"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	QueryChars int       `json:"query_chars"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}
