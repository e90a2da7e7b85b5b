// Package transport wraps one assistant WebSocket connection and translates
// between domain requests and wire frames. Inbound frames become a closed set
// of typed events delivered on a channel to a single consumer.
package transport

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hzfeng/StratPilot/internal/ws"
)

// ConnKey names the assistant connection inside the registry.
const ConnKey = "assistant"

type EventType string

const (
	EventStart       EventType = "start"
	EventComplexity  EventType = "complexity_analysis"
	EventProgress    EventType = "progress"
	EventSuccess     EventType = "success"
	EventStreamStart EventType = "stream_start"
	EventStreamChunk EventType = "stream_chunk"
	EventStreamEnd   EventType = "stream_end"
	EventStreamError EventType = "stream_error"
	EventError       EventType = "error"

	// EventDisconnected is synthesized locally when the connection drops, so
	// the consumer can abandon any in-flight streaming exchange. It never
	// arrives from the wire.
	EventDisconnected EventType = "disconnected"
)

// Event is one decoded protocol event. Exactly one of success or the
// streamStart..streamEnd sequence terminates a request; progress and
// complexity events are advisory.
type Event struct {
	Type       EventType
	RequestID  string
	SessionID  string
	Content    string
	Message    string
	Code       string
	Progress   float64
	Complexity string
	TokensUsed int
	CostUSD    decimal.Decimal
}

// wireFrame is the JSON shape shared by every inbound frame.
type wireFrame struct {
	Type       string          `json:"type"`
	RequestID  string          `json:"request_id,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	Content    string          `json:"content,omitempty"`
	Message    string          `json:"message,omitempty"`
	Code       string          `json:"code,omitempty"`
	Progress   float64         `json:"progress,omitempty"`
	Complexity string          `json:"complexity,omitempty"`
	TokensUsed int             `json:"tokens_used,omitempty"`
	CostUSD    decimal.Decimal `json:"cost_usd,omitempty"`
}

type chatFrame struct {
	Type        string `json:"type"`
	RequestID   string `json:"request_id"`
	Content     string `json:"content"`
	SessionID   string `json:"session_id"`
	Mode        string `json:"mode"`
	SessionType string `json:"session_type"`
}

// Adapter owns the assistant connection. It keeps no per-request state; the
// consumer correlates events by request id.
type Adapter struct {
	registry *ws.Registry
	endpoint string
	token    string
	logger   zerolog.Logger
	events   chan Event
}

func NewAdapter(registry *ws.Registry, endpoint, token string, logger zerolog.Logger) *Adapter {
	return &Adapter{
		registry: registry,
		endpoint: endpoint,
		token:    token,
		logger:   logger.With().Str("component", "transport").Logger(),
		events:   make(chan Event, 64),
	}
}

// Connect opens (or reopens) the assistant connection.
func (a *Adapter) Connect() error {
	return a.registry.Connect(ConnKey, a.endpoint, a.token, ws.Handlers{
		OnMessage: a.handleFrame,
		OnError: func(key string, err error) {
			a.logger.Warn().Err(err).Msg("transport error")
		},
		OnClose: func(key string, code int) {
			a.events <- Event{Type: EventDisconnected, Code: "connection_closed"}
		},
	})
}

// Connected reports whether the underlying connection is open.
func (a *Adapter) Connected() bool {
	return a.registry.Status(ConnKey).Connected
}

// Events is the inbound event stream. It must be drained by exactly one
// consumer loop.
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// SendChat writes one chat frame and returns its correlation id. ok is false
// when the connection is not open; nothing is queued or retried.
func (a *Adapter) SendChat(content, sessionID, mode, sessionType string) (string, bool) {
	requestID := uuid.New().String()
	ok := a.registry.Send(ConnKey, chatFrame{
		Type:        "chat",
		RequestID:   requestID,
		Content:     content,
		SessionID:   sessionID,
		Mode:        mode,
		SessionType: sessionType,
	})
	return requestID, ok
}

// Close disconnects the assistant connection, suppressing reconnection.
func (a *Adapter) Close() {
	a.registry.Disconnect(ConnKey)
}

func (a *Adapter) handleFrame(key string, data []byte) {
	var frame wireFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		a.logger.Warn().Err(err).Msg("drop undecodable frame")
		return
	}

	switch EventType(frame.Type) {
	case EventStart, EventComplexity, EventProgress, EventSuccess,
		EventStreamStart, EventStreamChunk, EventStreamEnd, EventStreamError, EventError:
	case "pong":
		return
	default:
		a.logger.Debug().Str("type", frame.Type).Msg("ignore unknown frame type")
		return
	}

	a.events <- Event{
		Type:       EventType(frame.Type),
		RequestID:  frame.RequestID,
		SessionID:  frame.SessionID,
		Content:    frame.Content,
		Message:    frame.Message,
		Code:       frame.Code,
		Progress:   frame.Progress,
		Complexity: frame.Complexity,
		TokensUsed: frame.TokensUsed,
		CostUSD:    frame.CostUSD,
	}
}
