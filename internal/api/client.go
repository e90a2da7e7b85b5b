// Package api is the HTTP client for the StratPilot platform: session CRUD,
// the request/response chat path, usage stats, and backtest control.
package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hzfeng/StratPilot/config"
	"github.com/hzfeng/StratPilot/models"
)

// APIError carries the platform's error envelope plus the HTTP status, so the
// orchestrator can classify failures without parsing message text.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("api: %s (status %d)", e.Message, e.StatusCode)
}

type errorEnvelope struct {
	Error APIError `json:"error"`
}

// ChatReply is the request/response chat result.
type ChatReply struct {
	ResponseText string          `json:"response_text"`
	TokensUsed   int             `json:"tokens_used"`
	CostUSD      decimal.Decimal `json:"cost_usd"`
}

// Client wraps the platform REST API.
type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

func NewClient(cfg *config.Config, logger zerolog.Logger) *Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.APIBaseURL, "/"))
	client.SetTimeout(cfg.HTTPTimeout())
	client.SetHeader("User-Agent", "StratPilot/1.0")
	if cfg.AuthToken != "" {
		client.SetAuthToken(cfg.AuthToken)
	}

	return &Client{
		http:   client,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// SetAuthToken replaces the bearer token used for subsequent requests.
func (c *Client) SetAuthToken(token string) {
	c.http.SetAuthToken(token)
}

// apiErr converts a non-2xx response into an *APIError.
func apiErr(resp *resty.Response, envelope *errorEnvelope) error {
	e := envelope.Error
	e.StatusCode = resp.StatusCode()
	if e.Message == "" {
		e.Message = resp.Status()
	}
	return &e
}

type createSessionRequest struct {
	Name        string `json:"name"`
	Mode        string `json:"mode"`
	SessionType string `json:"session_type"`
	Description string `json:"description,omitempty"`
}

func (c *Client) CreateSession(ctx context.Context, name, mode, sessionType, description string) (*models.ChatSession, error) {
	var (
		session  models.ChatSession
		envelope errorEnvelope
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(createSessionRequest{Name: name, Mode: mode, SessionType: sessionType, Description: description}).
		SetResult(&session).
		SetError(&envelope).
		Post("/api/v1/sessions")
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if resp.IsError() {
		return nil, apiErr(resp, &envelope)
	}
	return &session, nil
}

func (c *Client) ListSessions(ctx context.Context, mode string) ([]models.SessionSummary, error) {
	var (
		sessions []models.SessionSummary
		envelope errorEnvelope
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("mode", mode).
		SetResult(&sessions).
		SetError(&envelope).
		Get("/api/v1/sessions")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if resp.IsError() {
		return nil, apiErr(resp, &envelope)
	}
	return sessions, nil
}

func (c *Client) GetSessionMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	var (
		messages []models.ChatMessage
		envelope errorEnvelope
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&messages).
		SetError(&envelope).
		Get("/api/v1/sessions/" + sessionID + "/messages")
	if err != nil {
		return nil, fmt.Errorf("get session messages: %w", err)
	}
	if resp.IsError() {
		return nil, apiErr(resp, &envelope)
	}
	return messages, nil
}

func (c *Client) UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	var envelope errorEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"status": status}).
		SetError(&envelope).
		Patch("/api/v1/sessions/" + sessionID)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if resp.IsError() {
		return apiErr(resp, &envelope)
	}
	return nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	var envelope errorEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetError(&envelope).
		Delete("/api/v1/sessions/" + sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if resp.IsError() {
		return apiErr(resp, &envelope)
	}
	return nil
}

type chatRequest struct {
	Content     string `json:"content"`
	SessionID   string `json:"session_id"`
	Mode        string `json:"mode"`
	SessionType string `json:"session_type"`
}

// SendChatMessage is the request/response fallback for the realtime channel.
func (c *Client) SendChatMessage(ctx context.Context, content, sessionID, mode, sessionType string) (*ChatReply, error) {
	var (
		reply    ChatReply
		envelope errorEnvelope
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{Content: content, SessionID: sessionID, Mode: mode, SessionType: sessionType}).
		SetResult(&reply).
		SetError(&envelope).
		Post("/api/v1/chat")
	if err != nil {
		return nil, fmt.Errorf("send chat message: %w", err)
	}
	if resp.IsError() {
		return nil, apiErr(resp, &envelope)
	}
	return &reply, nil
}

func (c *Client) GetUsageStats(ctx context.Context, days int) (*models.UsageQuota, error) {
	var (
		quota    models.UsageQuota
		envelope errorEnvelope
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("days", fmt.Sprintf("%d", days)).
		SetResult(&quota).
		SetError(&envelope).
		Get("/api/v1/usage")
	if err != nil {
		return nil, fmt.Errorf("get usage stats: %w", err)
	}
	if resp.IsError() {
		return nil, apiErr(resp, &envelope)
	}
	return &quota, nil
}

type launchResponse struct {
	TaskID string `json:"task_id"`
}

func (c *Client) LaunchBacktest(ctx context.Context, btCfg models.BacktestConfig) (string, error) {
	var (
		launched launchResponse
		envelope errorEnvelope
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(btCfg).
		SetResult(&launched).
		SetError(&envelope).
		Post("/api/v1/backtests")
	if err != nil {
		return "", fmt.Errorf("launch backtest: %w", err)
	}
	if resp.IsError() {
		return "", apiErr(resp, &envelope)
	}
	return launched.TaskID, nil
}

func (c *Client) GetBacktestProgress(ctx context.Context, taskID string) (*models.BacktestTask, error) {
	var (
		task     models.BacktestTask
		envelope errorEnvelope
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&task).
		SetError(&envelope).
		Get("/api/v1/backtests/" + taskID)
	if err != nil {
		return nil, fmt.Errorf("get backtest progress: %w", err)
	}
	if resp.IsError() {
		return nil, apiErr(resp, &envelope)
	}
	return &task, nil
}

func (c *Client) GetBacktestResults(ctx context.Context, taskID string) (*models.BacktestResults, error) {
	var (
		results  models.BacktestResults
		envelope errorEnvelope
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&results).
		SetError(&envelope).
		Get("/api/v1/backtests/" + taskID + "/results")
	if err != nil {
		return nil, fmt.Errorf("get backtest results: %w", err)
	}
	if resp.IsError() {
		return nil, apiErr(resp, &envelope)
	}
	return &results, nil
}
