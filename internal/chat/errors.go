package chat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/hzfeng/StratPilot/consts"
	"github.com/hzfeng/StratPilot/internal/api"
)

// ClassifiedError is the single shape in which external failures cross the
// orchestrator boundary: one taxonomy kind plus a human-readable message.
type ClassifiedError struct {
	Kind    string
	Message string
	Err     error
}

func (e *ClassifiedError) Error() string {
	return e.Kind + ": " + e.Message
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a failure kind warrants a local retry (HTTP path)
// or automatic reconnect (realtime path).
func Retryable(kind string) bool {
	switch kind {
	case consts.ErrKind_Network, consts.ErrKind_Timeout, consts.ErrKind_Server:
		return true
	}
	return false
}

var userMessages = map[string]string{
	consts.ErrKind_Network:        "Connection problem. Check your network and try again.",
	consts.ErrKind_Timeout:        "The assistant took too long to respond. Please try again.",
	consts.ErrKind_Auth:           "Your session has expired. Please sign in again.",
	consts.ErrKind_RateLimit:      "Too many requests. Wait a moment before sending more.",
	consts.ErrKind_QuotaExceeded:  "You have reached your usage quota for this period.",
	consts.ErrKind_Server:         "The service hit an internal error. Please try again shortly.",
	consts.ErrKind_SessionInvalid: "This conversation is no longer available. A new one was started.",
	consts.ErrKind_Unknown:        "Something went wrong. Please try again.",
}

// Classify normalizes any failure from the transport or HTTP layer into
// exactly one taxonomy kind. It is the only place raw errors are interpreted.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	kind := classifyKind(err)
	return &ClassifiedError{Kind: kind, Message: userMessages[kind], Err: err}
}

// ClassifyCode maps a realtime error code plus message text to a kind, for
// frames that carry no Go error value.
func ClassifyCode(code, message string) *ClassifiedError {
	kind := kindFromLabel(code)
	if kind == consts.ErrKind_Unknown {
		kind = kindFromText(message)
	}
	return &ClassifiedError{Kind: kind, Message: userMessages[kind]}
}

func classifyKind(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return consts.ErrKind_Timeout
	}

	var apiError *api.APIError
	if errors.As(err, &apiError) {
		if kind := kindFromLabel(apiError.Code); kind != consts.ErrKind_Unknown {
			return kind
		}
		switch {
		case apiError.StatusCode == http.StatusUnauthorized,
			apiError.StatusCode == http.StatusForbidden:
			return consts.ErrKind_Auth
		case apiError.StatusCode == http.StatusTooManyRequests:
			return consts.ErrKind_RateLimit
		case apiError.StatusCode == http.StatusRequestTimeout:
			return consts.ErrKind_Timeout
		case apiError.StatusCode == http.StatusNotFound:
			if strings.Contains(strings.ToLower(apiError.Message), "session") {
				return consts.ErrKind_SessionInvalid
			}
		case apiError.StatusCode >= 500:
			return consts.ErrKind_Server
		}
		return kindFromText(apiError.Message)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return consts.ErrKind_Timeout
		}
		return consts.ErrKind_Network
	}

	return kindFromText(err.Error())
}

// kindFromLabel recognizes explicit error codes from the platform.
func kindFromLabel(code string) string {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "auth", "auth_failed", "unauthorized", "token_expired":
		return consts.ErrKind_Auth
	case "rate_limit", "rate_limited":
		return consts.ErrKind_RateLimit
	case "quota_exceeded", "quota":
		return consts.ErrKind_QuotaExceeded
	case "session_invalid", "session_not_found":
		return consts.ErrKind_SessionInvalid
	case "timeout":
		return consts.ErrKind_Timeout
	case "network", "connection_closed":
		return consts.ErrKind_Network
	case "server_error", "internal_error":
		return consts.ErrKind_Server
	}
	return consts.ErrKind_Unknown
}

// kindFromText is the last-resort keyword match over message content.
func kindFromText(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"),
		strings.Contains(lower, "deadline exceeded"):
		return consts.ErrKind_Timeout
	case strings.Contains(lower, "connection refused"), strings.Contains(lower, "no such host"),
		strings.Contains(lower, "unreachable"), strings.Contains(lower, "network"),
		strings.Contains(lower, "connection reset"), strings.Contains(lower, "broken pipe"):
		return consts.ErrKind_Network
	case strings.Contains(lower, "quota"):
		return consts.ErrKind_QuotaExceeded
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "too many requests"):
		return consts.ErrKind_RateLimit
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "token"),
		strings.Contains(lower, "forbidden"):
		return consts.ErrKind_Auth
	case strings.Contains(lower, "session") &&
		(strings.Contains(lower, "invalid") || strings.Contains(lower, "not found") ||
			strings.Contains(lower, "expired")):
		return consts.ErrKind_SessionInvalid
	}
	return consts.ErrKind_Unknown
}
