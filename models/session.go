package models

import "time"

// ChatSession is a named, persistent conversation thread scoped to one
// assistant mode. Exactly one session may be current per process.
type ChatSession struct {
	SessionID    string    `json:"session_id"`
	Name         string    `json:"name"`
	Mode         string    `json:"mode"`
	SessionType  string    `json:"session_type"`
	Status       string    `json:"status"`
	Description  string    `json:"description,omitempty"`
	MessageCount int       `json:"message_count"`
	CostTotal    string    `json:"cost_total"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity_at"`
}

// SessionSummary is the listing shape returned by the platform for one mode.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	Name         string    `json:"name"`
	Mode         string    `json:"mode"`
	SessionType  string    `json:"session_type"`
	Status       string    `json:"status"`
	MessageCount int       `json:"message_count"`
	LastActivity time.Time `json:"last_activity_at"`
}
