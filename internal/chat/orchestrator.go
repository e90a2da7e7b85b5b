package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hzfeng/StratPilot/consts"
	"github.com/hzfeng/StratPilot/internal/api"
	"github.com/hzfeng/StratPilot/internal/transport"
	"github.com/hzfeng/StratPilot/models"
)

// RealtimeTransport is the streaming channel seam, satisfied by
// *transport.Adapter.
type RealtimeTransport interface {
	Connected() bool
	SendChat(content, sessionID, mode, sessionType string) (string, bool)
	Events() <-chan transport.Event
}

// NoTransport is the stand-in used when the realtime channel is disabled or
// failed to dial. It never connects and delivers no events.
type NoTransport struct{}

func (NoTransport) Connected() bool { return false }

func (NoTransport) SendChat(string, string, string, string) (string, bool) { return "", false }

func (NoTransport) Events() <-chan transport.Event { return nil }

// platformAPI is the request/response seam, satisfied by *api.Client.
type platformAPI interface {
	CreateSession(ctx context.Context, name, mode, sessionType, description string) (*models.ChatSession, error)
	ListSessions(ctx context.Context, mode string) ([]models.SessionSummary, error)
	GetSessionMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error)
	SendChatMessage(ctx context.Context, content, sessionID, mode, sessionType string) (*api.ChatReply, error)
	GetUsageStats(ctx context.Context, days int) (*models.UsageQuota, error)
}

// Options tune one orchestrator. Zero values fall back to the documented
// defaults, except MaxRetries: zero means no retries, negative values are
// clamped to zero.
type Options struct {
	Mode            string
	SessionType     string
	RealtimeEnabled bool
	MaxRetries      int
	RetryDelay      time.Duration
	HTTPTimeout     time.Duration
	UsageWindowDays int
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Mode == "" {
		out.Mode = consts.Mode_StrategyChat
	}
	if out.SessionType == "" {
		out.SessionType = consts.SessionType_General
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = 1500 * time.Millisecond
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 45 * time.Second
	}
	if out.UsageWindowDays <= 0 {
		out.UsageWindowDays = 30
	}
	return out
}

// Notice is an out-of-band failure notification, used where the transcript
// must stay clean (the streaming path).
type Notice struct {
	Kind    string
	Message string
}

// Orchestrator is the chat state machine. It decides transport per message,
// assembles streamed fragments, normalizes failures, and is the only writer
// of the Store.
type Orchestrator struct {
	store  *Store
	rt     RealtimeTransport
	api    platformAPI
	opts   Options
	logger zerolog.Logger

	notices chan Notice
}

func NewOrchestrator(store *Store, rt RealtimeTransport, platform platformAPI, opts Options, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:   store,
		rt:      rt,
		api:     platform,
		opts:    opts.withDefaults(),
		logger:  logger.With().Str("component", "orchestrator").Logger(),
		notices: make(chan Notice, 16),
	}
}

func (o *Orchestrator) Store() *Store {
	return o.store
}

// Mode returns the assistant mode this orchestrator is scoped to.
func (o *Orchestrator) Mode() string {
	return o.opts.Mode
}

// Notices delivers out-of-band failure notifications to the UI layer.
func (o *Orchestrator) Notices() <-chan Notice {
	return o.notices
}

// Run consumes realtime events until ctx is cancelled. It must be the only
// consumer of the transport's event channel.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-o.rt.Events():
			o.handleEvent(ev)
		}
	}
}

// SendMessage dispatches one user message. The user's message is appended to
// the log before any network activity and is never retracted; a failure adds
// an assistant-role error message instead.
func (o *Orchestrator) SendMessage(ctx context.Context, content string) error {
	o.store.AppendMessage(models.ChatMessage{
		Role:    models.Role_User,
		Content: content,
	})

	session, err := o.ensureSession(ctx)
	if err != nil {
		classified := Classify(err)
		o.appendErrorMessage(classified)
		return classified
	}

	if o.opts.RealtimeEnabled && o.rt.Connected() {
		if requestID, ok := o.rt.SendChat(content, session.SessionID, session.Mode, session.SessionType); ok {
			o.logger.Debug().Str("request_id", requestID).Msg("dispatched over realtime transport")
			o.store.SetTyping(true)
			return nil
		}
		// Send raced a disconnect; fall back to HTTP.
		o.logger.Warn().Msg("realtime send failed, falling back to http")
	}

	return o.sendViaHTTP(ctx, content, session)
}

// sendViaHTTP runs the request/response path: a deadline per attempt, up to
// MaxRetries extra attempts with a fixed delay, and only for transient kinds.
// Retries are strictly sequential.
func (o *Orchestrator) sendViaHTTP(ctx context.Context, content string, session *models.ChatSession) error {
	var classified *ClassifiedError

	attempts := o.opts.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, o.opts.HTTPTimeout)
		reply, err := o.api.SendChatMessage(reqCtx, content, session.SessionID, session.Mode, session.SessionType)
		cancel()

		if err == nil {
			o.store.AppendMessage(models.ChatMessage{
				Role:    models.Role_Assistant,
				Content: reply.ResponseText,
				Metadata: map[string]string{
					"tokens_used": fmt.Sprintf("%d", reply.TokensUsed),
				},
			})
			o.store.AddUsage(reply.CostUSD)
			return nil
		}

		classified = Classify(err)
		o.logger.Warn().Int("attempt", attempt).Str("kind", classified.Kind).Err(err).Msg("http chat attempt failed")

		if classified.Kind == consts.ErrKind_SessionInvalid {
			// The session went stale server-side; replace it transparently
			// and retry against the new one.
			replacement, createErr := o.createSession(ctx)
			if createErr != nil {
				classified = Classify(createErr)
				break
			}
			session = replacement
			continue
		}

		if !Retryable(classified.Kind) || attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			classified = Classify(ctx.Err())
			attempt = attempts
		case <-time.After(o.opts.RetryDelay):
		}
	}

	o.appendErrorMessage(classified)
	return classified
}

// appendErrorMessage writes the inline assistant-role failure entry used by
// the non-streaming path.
func (o *Orchestrator) appendErrorMessage(classified *ClassifiedError) {
	o.store.AppendMessage(models.ChatMessage{
		Role:      models.Role_Assistant,
		Content:   classified.Message,
		ErrorKind: classified.Kind,
	})
}

// ensureSession returns the current session, creating one when none exists so
// every message has a durable session association.
func (o *Orchestrator) ensureSession(ctx context.Context) (*models.ChatSession, error) {
	if current := o.store.Current(); current != nil {
		return current, nil
	}
	return o.createSession(ctx)
}

func (o *Orchestrator) createSession(ctx context.Context) (*models.ChatSession, error) {
	name := defaultSessionName(o.opts.Mode)
	session, err := o.api.CreateSession(ctx, name, o.opts.Mode, o.opts.SessionType, "")
	if err != nil {
		return nil, fmt.Errorf("auto-create session: %w", err)
	}
	o.store.AdoptSession(*session)
	return session, nil
}

func defaultSessionName(mode string) string {
	label := consts.ModeLabels[mode]
	if label == "" {
		label = "Assistant"
	}
	return fmt.Sprintf("%s %s", label, time.Now().Format("Jan 2 15:04"))
}

// CreateSession explicitly creates and selects a named session. An empty
// name gets the mode-and-timestamp default.
func (o *Orchestrator) CreateSession(ctx context.Context, name, description string) (*models.ChatSession, error) {
	if name == "" {
		name = defaultSessionName(o.opts.Mode)
	}
	session, err := o.api.CreateSession(ctx, name, o.opts.Mode, o.opts.SessionType, description)
	if err != nil {
		return nil, Classify(err)
	}
	o.store.SetCurrent(*session)
	return session, nil
}

// RefreshSessions reloads the session list for the orchestrator's mode.
func (o *Orchestrator) RefreshSessions(ctx context.Context) ([]models.SessionSummary, error) {
	sessions, err := o.api.ListSessions(ctx, o.opts.Mode)
	if err != nil {
		return nil, Classify(err)
	}
	o.store.SetSessions(o.opts.Mode, sessions)
	return sessions, nil
}

// SelectSession makes the given session current and loads its history. If the
// current session changes again before the load resolves, the stale result is
// discarded; the comparison is by session id, so re-selecting the same
// session still applies.
func (o *Orchestrator) SelectSession(ctx context.Context, session models.ChatSession) error {
	o.store.SetCurrent(session)

	messages, err := o.api.GetSessionMessages(ctx, session.SessionID)
	if err != nil {
		return Classify(err)
	}

	current := o.store.Current()
	if current == nil || current.SessionID != session.SessionID {
		o.logger.Debug().Str("session_id", session.SessionID).Msg("discarding stale history load")
		return nil
	}
	o.store.ReplaceMessages(messages)
	return nil
}

// RefreshUsage replaces the local quota with the platform's snapshot.
func (o *Orchestrator) RefreshUsage(ctx context.Context) error {
	quota, err := o.api.GetUsageStats(ctx, o.opts.UsageWindowDays)
	if err != nil {
		return Classify(err)
	}
	o.store.SetUsage(*quota)
	return nil
}

func (o *Orchestrator) handleEvent(ev transport.Event) {
	switch ev.Type {
	case transport.EventStart:
		o.store.SetTyping(true)

	case transport.EventComplexity:
		o.store.SetComplexityHint(ev.Complexity)

	case transport.EventProgress:
		o.store.SetProgress(ev.Progress, ev.Message)

	case transport.EventSuccess:
		o.store.SetTyping(false)
		o.store.AppendMessage(models.ChatMessage{
			Role:    models.Role_Assistant,
			Content: ev.Content,
		})
		o.recordCost(ev.CostUSD)

	case transport.EventStreamStart:
		o.store.SetTyping(true)
		o.store.BeginStreaming(ev.RequestID)

	case transport.EventStreamChunk:
		o.store.AppendStreamChunk(ev.Content)

	case transport.EventStreamEnd:
		// The final payload is authoritative; accumulated chunks are only a
		// display optimization and may have been coalesced or reordered.
		content := ev.Content
		if content == "" {
			if st, ok := o.store.Streaming(); ok {
				content = st.AccumulatedContent
			}
		}
		o.store.FinalizeStream(content)
		o.store.SetTyping(false)
		o.recordCost(ev.CostUSD)

	case transport.EventStreamError:
		o.store.AbortStream()
		o.store.SetTyping(false)
		o.notify(ClassifyCode(ev.Code, ev.Message))

	case transport.EventError:
		o.store.SetTyping(false)
		o.notify(ClassifyCode(ev.Code, ev.Message))

	case transport.EventDisconnected:
		if _, ok := o.store.Streaming(); ok {
			o.store.AbortStream()
			o.store.SetTyping(false)
			o.notify(&ClassifiedError{
				Kind:    consts.ErrKind_Network,
				Message: userMessages[consts.ErrKind_Network],
			})
		}
	}
}

func (o *Orchestrator) recordCost(cost decimal.Decimal) {
	o.store.AddUsage(cost)
}

// notify surfaces an out-of-band failure without blocking the event loop.
func (o *Orchestrator) notify(classified *ClassifiedError) {
	select {
	case o.notices <- Notice{Kind: classified.Kind, Message: classified.Message}:
	default:
		o.logger.Warn().Str("kind", classified.Kind).Msg("notice channel full, dropping")
	}
}
