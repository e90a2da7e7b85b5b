// Package chat holds the session state and the orchestrator that drives it:
// transport selection, retries, streaming assembly, and error classification.
package chat

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hzfeng/StratPilot/models"
)

// Store owns per-mode session lists, the current session, the ordered message
// log, and the usage quota. It is mutated only through orchestrator
// operations; the UI layer reads snapshots.
type Store struct {
	mu sync.RWMutex

	sessionsByMode map[string][]models.SessionSummary
	current        *models.ChatSession
	messages       []models.ChatMessage
	streaming      *models.StreamingState
	typing         bool
	progress       float64
	progressNote   string
	complexity     string
	usage          models.UsageQuota
}

func NewStore() *Store {
	return &Store{
		sessionsByMode: make(map[string][]models.SessionSummary),
	}
}

// SetSessions replaces the session list for one mode.
func (s *Store) SetSessions(mode string, sessions []models.SessionSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionsByMode[mode] = append([]models.SessionSummary(nil), sessions...)
}

func (s *Store) Sessions(mode string) []models.SessionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.SessionSummary(nil), s.sessionsByMode[mode]...)
}

// SetCurrent switches the current session and clears the message log; history
// for the new session is loaded separately.
func (s *Store) SetCurrent(session models.ChatSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &session
	s.messages = nil
	s.streaming = nil
	s.typing = false
}

// AdoptSession makes session current without clearing the log. Used when a
// replacement session is created mid-conversation; the transcript survives.
func (s *Store) AdoptSession(session models.ChatSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &session
}

// Current returns a copy of the current session, or nil if none exists.
func (s *Store) Current() *models.ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	out := *s.current
	return &out
}

// AppendMessage adds one message to the log and returns its index.
func (s *Store) AppendMessage(msg models.ChatMessage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.messages = append(s.messages, msg)
	if s.current != nil {
		s.current.MessageCount++
		s.current.LastActivity = msg.Timestamp
	}
	return len(s.messages) - 1
}

// ReplaceMessages swaps in a freshly loaded history.
func (s *Store) ReplaceMessages(msgs []models.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append([]models.ChatMessage(nil), msgs...)
}

func (s *Store) Messages() []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ChatMessage(nil), s.messages...)
}

func (s *Store) SetTyping(typing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = typing
	if !typing {
		s.progress = 0
		s.progressNote = ""
	}
}

func (s *Store) Typing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.typing
}

func (s *Store) SetProgress(progress float64, note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = progress
	s.progressNote = note
}

func (s *Store) Progress() (float64, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress, s.progressNote
}

func (s *Store) SetComplexityHint(hint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complexity = hint
}

func (s *Store) ComplexityHint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.complexity
}

// BeginStreaming appends the placeholder assistant message and installs the
// streaming state. Any previous streaming exchange is discarded first; at
// most one exists at a time.
func (s *Store) BeginStreaming(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, models.ChatMessage{
		Role:              models.Role_Assistant,
		Timestamp:         time.Now(),
		Streaming:         true,
		WaitingFirstChunk: true,
	})
	if s.current != nil {
		s.current.MessageCount++
	}
	s.streaming = &models.StreamingState{
		RequestID:          requestID,
		TargetMessageIndex: len(s.messages) - 1,
	}
}

// Streaming returns a copy of the in-flight streaming state, if any.
func (s *Store) Streaming() (models.StreamingState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.streaming == nil {
		return models.StreamingState{}, false
	}
	return *s.streaming, true
}

// AppendStreamChunk applies one fragment: the first chunk replaces the
// placeholder content and clears the waiting flag, later chunks append.
func (s *Store) AppendStreamChunk(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming == nil {
		return
	}
	s.streaming.AccumulatedContent += chunk
	idx := s.streaming.TargetMessageIndex
	if idx < 0 || idx >= len(s.messages) {
		return
	}
	if s.messages[idx].WaitingFirstChunk {
		s.messages[idx].Content = chunk
		s.messages[idx].WaitingFirstChunk = false
	} else {
		s.messages[idx].Content += chunk
	}
}

// FinalizeStream closes the exchange with the authoritative final content and
// destroys the streaming state.
func (s *Store) FinalizeStream(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming == nil {
		return
	}
	idx := s.streaming.TargetMessageIndex
	if idx >= 0 && idx < len(s.messages) {
		s.messages[idx].Content = content
		s.messages[idx].Streaming = false
		s.messages[idx].WaitingFirstChunk = false
	}
	s.streaming = nil
}

// AbortStream destroys the streaming state without writing an error into the
// transcript. An untouched placeholder is removed; a partially filled message
// keeps its accumulated content.
func (s *Store) AbortStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming == nil {
		return
	}
	idx := s.streaming.TargetMessageIndex
	if idx >= 0 && idx < len(s.messages) {
		if s.messages[idx].WaitingFirstChunk {
			s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
			if s.current != nil && s.current.MessageCount > 0 {
				s.current.MessageCount--
			}
		} else {
			s.messages[idx].Streaming = false
		}
	}
	s.streaming = nil
}

// AddUsage applies one successful exchange's spend optimistically, so the UI
// never under-reports between authoritative refreshes.
func (s *Store) AddUsage(cost decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage.AddCost(cost)
}

// SetUsage replaces the quota with an authoritative snapshot.
func (s *Store) SetUsage(quota models.UsageQuota) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = quota
}

func (s *Store) Usage() models.UsageQuota {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage
}
