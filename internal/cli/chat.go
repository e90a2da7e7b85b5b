package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hzfeng/StratPilot/config"
	"github.com/hzfeng/StratPilot/consts"
	"github.com/hzfeng/StratPilot/models"
)

// chatSession drives the interactive loop for one assistant mode.
type chatSession struct {
	app      *App
	reader   *bufio.Reader
	rendered int
}

// runChatCommand starts the interactive chat. An empty mode prompts for one.
func runChatCommand(cfg *config.Config, mode string) error {
	if mode == "" {
		selected, err := PromptForMode()
		if err != nil {
			return err
		}
		mode = selected
	}
	if _, ok := consts.ModeLabels[mode]; !ok {
		return fmt.Errorf("unknown mode %q", mode)
	}

	app, err := newApp(cfg, mode)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go app.Orchestrator.Run(ctx)

	// Pick up auth token rotations without restarting the chat. Other config
	// changes apply on the next command.
	if manager, err := config.NewManager(config.WithInitialConfig(cfg)); err == nil {
		token := cfg.AuthToken
		watchErr := manager.Watch(ctx, func(updated config.Config) {
			if updated.AuthToken != "" && updated.AuthToken != token {
				token = updated.AuthToken
				app.API.SetAuthToken(token)
				app.Logger.Info().Msg("auth token rotated from config file")
			}
		})
		if watchErr != nil {
			app.Logger.Debug().Err(watchErr).Msg("config watch unavailable")
		}
	}

	session := &chatSession{app: app, reader: bufio.NewReader(os.Stdin)}
	session.showWelcome(mode)
	return session.loop(ctx)
}

func (s *chatSession) showWelcome(mode string) {
	fmt.Println(titleStyle.Render("🚀 StratPilot — " + consts.ModeLabels[mode]))
	if s.app.Transport != nil && s.app.Transport.Connected() {
		fmt.Println(subtleStyle.Render("realtime channel connected, responses will stream"))
	} else {
		fmt.Println(subtleStyle.Render("using http transport"))
	}
	fmt.Println()
	fmt.Println("💡 Commands:")
	fmt.Println("   /sessions           - Switch to a previous session")
	fmt.Println("   /new [name]         - Start a fresh session")
	fmt.Println("   /usage              - Show request counts and spend")
	fmt.Println("   /status             - Show connection status")
	fmt.Println("   /help               - Show this help")
	fmt.Println("   /exit               - Leave the chat")
	fmt.Println()
}

func (s *chatSession) loop(ctx context.Context) error {
	for {
		s.drainNotices()
		fmt.Print(promptStyle.Render("💬 > "))

		input, err := s.reader.ReadString('\n')
		if err != nil {
			// stdin closed, leave quietly
			fmt.Println()
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if done := s.handleCommand(ctx, input); done {
				return nil
			}
			continue
		}

		s.sendAndRender(ctx, input)
	}
}

// handleCommand runs one slash command and reports whether to exit.
func (s *chatSession) handleCommand(ctx context.Context, input string) bool {
	parts := strings.Fields(input)
	switch strings.ToLower(parts[0]) {
	case "/exit", "/quit", "/q":
		fmt.Println("👋 Thank you for using StratPilot!")
		return true

	case "/help", "/h", "/?":
		s.showWelcome(s.app.Orchestrator.Mode())

	case "/sessions":
		s.switchSession(ctx)

	case "/new":
		name := strings.TrimSpace(strings.TrimPrefix(input, parts[0]))
		s.newSession(ctx, name)

	case "/usage":
		s.showUsage(ctx)

	case "/status":
		s.showStatus()

	case "/clear", "/cls":
		fmt.Print("\033[2J\033[H")
		s.showWelcome(s.app.Orchestrator.Mode())

	default:
		fmt.Printf("❌ Unknown command: %s. Type /help for available commands.\n", parts[0])
	}
	return false
}

// sendAndRender dispatches a message and waits for the reply, streaming
// partial content as it accumulates.
func (s *chatSession) sendAndRender(ctx context.Context, content string) {
	store := s.app.Orchestrator.Store()

	if err := s.app.Orchestrator.SendMessage(ctx, content); err != nil {
		// The transcript already carries the inline error entry; render it
		// below like any other message.
		s.app.Logger.Debug().Err(err).Msg("send failed")
	}

	s.waitForReply(ctx)
	s.renderNewMessages(store.Messages())
	s.drainNotices()
}

// waitForReply blocks until the assistant is idle again. On the HTTP path
// that is immediate; on the realtime path it follows typing and streaming
// state, echoing chunks as they arrive.
func (s *chatSession) waitForReply(ctx context.Context) {
	store := s.app.Orchestrator.Store()
	if !store.Typing() {
		return
	}

	deadline := time.Now().Add(5 * time.Minute)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var echoed int
	spinnerShown := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if st, ok := store.Streaming(); ok && len(st.AccumulatedContent) > echoed {
			if !spinnerShown {
				fmt.Print(assistantLabelStyle.Render("🤖 Assistant: "))
				spinnerShown = true
			}
			fmt.Print(st.AccumulatedContent[echoed:])
			echoed = len(st.AccumulatedContent)
		} else if !spinnerShown {
			if _, note := store.Progress(); note != "" {
				fmt.Printf("\r%s", subtleStyle.Render("⏳ "+note))
			}
			if hint := store.ComplexityHint(); hint != "" {
				fmt.Printf("\r%s", subtleStyle.Render("🧠 complexity: "+hint))
			}
		}

		if !store.Typing() {
			if spinnerShown {
				fmt.Println()
				// The streamed echo already showed the content; skip it in
				// the transcript render.
				s.rendered = len(store.Messages())
			} else {
				fmt.Print("\r")
			}
			return
		}
		if time.Now().After(deadline) {
			fmt.Println()
			fmt.Println(errorStyle.Render("⚠️  no reply received, giving up on this response"))
			return
		}
	}
}

// renderNewMessages prints transcript entries added since the last render.
func (s *chatSession) renderNewMessages(msgs []models.ChatMessage) {
	for ; s.rendered < len(msgs); s.rendered++ {
		renderMessage(msgs[s.rendered])
	}
}

func (s *chatSession) drainNotices() {
	for {
		select {
		case notice := <-s.app.Orchestrator.Notices():
			fmt.Println(errorStyle.Render(fmt.Sprintf("⚠️  [%s] %s", notice.Kind, notice.Message)))
		default:
			return
		}
	}
}

func (s *chatSession) switchSession(ctx context.Context) {
	sessions, err := s.app.Orchestrator.RefreshSessions(ctx)
	if err != nil {
		fmt.Printf("❌ Could not load sessions: %v\n", err)
		return
	}
	if len(sessions) == 0 {
		fmt.Println("No previous sessions for this mode.")
		return
	}

	chosen, err := PromptForSession(sessions)
	if err != nil || chosen == nil {
		return
	}

	if err := s.app.Orchestrator.SelectSession(ctx, models.ChatSession{
		SessionID:   chosen.SessionID,
		Name:        chosen.Name,
		Mode:        chosen.Mode,
		SessionType: chosen.SessionType,
		Status:      chosen.Status,
	}); err != nil {
		fmt.Printf("❌ Could not load session history: %v\n", err)
		return
	}

	msgs := s.app.Orchestrator.Store().Messages()
	fmt.Printf("📂 Switched to %q (%d messages)\n\n", chosen.Name, len(msgs))
	s.rendered = 0
	s.renderNewMessages(msgs)
}

func (s *chatSession) newSession(ctx context.Context, name string) {
	session, err := s.app.Orchestrator.CreateSession(ctx, name, "")
	if err != nil {
		fmt.Printf("❌ Could not create session: %v\n", err)
		return
	}
	s.rendered = 0
	fmt.Printf("✨ Started session %q\n", session.Name)
}

func (s *chatSession) showUsage(ctx context.Context) {
	if err := s.app.Orchestrator.RefreshUsage(ctx); err != nil {
		fmt.Printf("⚠️  Could not refresh usage, showing local tally: %v\n", err)
	}
	renderUsage(s.app.Orchestrator.Store().Usage())
}

func (s *chatSession) showStatus() {
	if s.app.Registry == nil {
		fmt.Println("Realtime channel: disabled")
		return
	}
	for key, status := range s.app.Registry.AllStatus() {
		fmt.Printf("Connection %q: state=%s reconnects=%d\n", key, status.State, status.ReconnectAttempts)
	}
}

// runSessionsCommand lists sessions for one mode.
func runSessionsCommand(cfg *config.Config, mode string) error {
	app, err := newApp(cfg, mode)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sessions, err := app.Orchestrator.RefreshSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	renderSessionList(mode, sessions)
	return nil
}

// runSessionStatusCommand updates one session's lifecycle status.
func runSessionStatusCommand(cfg *config.Config, sessionID, status string) error {
	app, err := newApp(cfg, "")
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.API.UpdateSessionStatus(ctx, sessionID, status); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	fmt.Printf("✅ Session %s marked %s\n", sessionID, status)
	return nil
}

func runSessionDeleteCommand(cfg *config.Config, sessionID string) error {
	app, err := newApp(cfg, "")
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.API.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	fmt.Printf("🗑️  Session %s deleted\n", sessionID)
	return nil
}

// runUsageCommand fetches the authoritative usage snapshot and archives it.
func runUsageCommand(cfg *config.Config) error {
	app, err := newApp(cfg, "")
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.Orchestrator.RefreshUsage(ctx); err != nil {
		if cached, cacheErr := app.Archive.LatestUsage(ctx); cacheErr == nil && cached != nil {
			fmt.Printf("⚠️  Platform unreachable (%v), showing last archived snapshot:\n\n", err)
			renderUsage(*cached)
			return nil
		}
		return fmt.Errorf("fetch usage: %w", err)
	}

	usage := app.Orchestrator.Store().Usage()
	renderUsage(usage)

	if err := app.Archive.RecordUsage(ctx, usage, cfg.UsageWindowDays); err != nil {
		app.Logger.Warn().Err(err).Msg("archive usage snapshot")
	}
	return nil
}
