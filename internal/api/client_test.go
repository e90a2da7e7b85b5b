package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hzfeng/StratPilot/config"
	"github.com/hzfeng/StratPilot/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfigWithRoot(t.TempDir())
	cfg.APIBaseURL = srv.URL
	cfg.AuthToken = "test-token"
	return NewClient(cfg, zerolog.Nop())
}

func TestSendChatMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chat" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("missing auth header, got %q", got)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["content"] != "hello" || req["session_id"] != "sess-1" {
			t.Errorf("unexpected chat request: %v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"response_text": "hi there",
			"tokens_used":   17,
			"cost_usd":      0.003,
		})
	})

	reply, err := client.SendChatMessage(context.Background(), "hello", "sess-1", "strategy_chat", "general")
	if err != nil {
		t.Fatalf("SendChatMessage: %v", err)
	}
	if reply.ResponseText != "hi there" || reply.TokensUsed != 17 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if reply.CostUSD.String() != "0.003" {
		t.Fatalf("unexpected cost: %s", reply.CostUSD)
	}
}

func TestErrorEnvelopeBecomesAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "rate_limit", "message": "slow down"},
		})
	})

	_, err := client.SendChatMessage(context.Background(), "hello", "sess-1", "strategy_chat", "general")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiError *APIError
	if !errors.As(err, &apiError) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiError.StatusCode != http.StatusTooManyRequests || apiError.Code != "rate_limit" {
		t.Fatalf("unexpected api error: %+v", apiError)
	}
}

func TestCreateAndListSessions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/sessions":
			json.NewEncoder(w).Encode(models.ChatSession{
				SessionID: "sess-9",
				Name:      "Strategy Chat",
				Mode:      "strategy_chat",
				Status:    "active",
			})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/sessions":
			if r.URL.Query().Get("mode") != "strategy_chat" {
				t.Errorf("missing mode query param")
			}
			json.NewEncoder(w).Encode([]models.SessionSummary{
				{SessionID: "sess-9", Name: "Strategy Chat", Mode: "strategy_chat"},
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	session, err := client.CreateSession(context.Background(), "Strategy Chat", "strategy_chat", "general", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.SessionID != "sess-9" {
		t.Fatalf("unexpected session: %+v", session)
	}

	sessions, err := client.ListSessions(context.Background(), "strategy_chat")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "sess-9" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
}

func TestBacktestLifecycle(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/backtests":
			json.NewEncoder(w).Encode(map[string]string{"task_id": "task-1"})
		case "/api/v1/backtests/task-1":
			json.NewEncoder(w).Encode(models.BacktestTask{TaskID: "task-1", Status: "running", Progress: 0.5})
		case "/api/v1/backtests/task-1/results":
			json.NewEncoder(w).Encode(models.BacktestResults{TaskID: "task-1", TradeCount: 12})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	ctx := context.Background()
	taskID, err := client.LaunchBacktest(ctx, models.BacktestConfig{StrategyID: "strat-1", Symbol: "AAPL"})
	if err != nil {
		t.Fatalf("LaunchBacktest: %v", err)
	}
	if taskID != "task-1" {
		t.Fatalf("unexpected task id %s", taskID)
	}

	task, err := client.GetBacktestProgress(ctx, taskID)
	if err != nil {
		t.Fatalf("GetBacktestProgress: %v", err)
	}
	if task.Status != "running" || task.Progress != 0.5 {
		t.Fatalf("unexpected task: %+v", task)
	}

	results, err := client.GetBacktestResults(ctx, taskID)
	if err != nil {
		t.Fatalf("GetBacktestResults: %v", err)
	}
	if results.TradeCount != 12 {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestContextCancellation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.GetUsageStats(ctx, 30); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
