package models

import "time"

const (
	Role_User      = "user"
	Role_Assistant = "assistant"
)

// ChatMessage is one entry in a session's ordered message log. Messages are
// immutable once appended except while Streaming is set, in which case Content
// is replaced wholesale on each fragment until the message is finalized.
type ChatMessage struct {
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	// Streaming marks a message still receiving fragments.
	Streaming bool `json:"streaming,omitempty"`
	// WaitingFirstChunk is set on the placeholder appended at streamStart,
	// cleared when the first fragment arrives.
	WaitingFirstChunk bool `json:"waiting_first_chunk,omitempty"`
	// ErrorKind tags assistant-role error messages with their category.
	ErrorKind string `json:"error_kind,omitempty"`
}

// StreamingState exists only while a streaming exchange is in flight. At most
// one instance exists per session at a time.
type StreamingState struct {
	RequestID          string
	AccumulatedContent string
	TargetMessageIndex int
}
