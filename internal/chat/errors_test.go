package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/hzfeng/StratPilot/consts"
	"github.com/hzfeng/StratPilot/internal/api"
)

func TestClassifyAPIErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"explicit code wins", &api.APIError{StatusCode: 500, Code: "quota_exceeded", Message: "x"}, consts.ErrKind_QuotaExceeded},
		{"401 is auth", &api.APIError{StatusCode: http.StatusUnauthorized, Message: "nope"}, consts.ErrKind_Auth},
		{"403 is auth", &api.APIError{StatusCode: http.StatusForbidden, Message: "nope"}, consts.ErrKind_Auth},
		{"429 is rate limit", &api.APIError{StatusCode: http.StatusTooManyRequests, Message: "slow"}, consts.ErrKind_RateLimit},
		{"5xx is server", &api.APIError{StatusCode: http.StatusBadGateway, Message: "boom"}, consts.ErrKind_Server},
		{"404 session is session_invalid", &api.APIError{StatusCode: http.StatusNotFound, Message: "session not found"}, consts.ErrKind_SessionInvalid},
		{"wrapped api error", fmt.Errorf("send chat message: %w", &api.APIError{StatusCode: 503, Message: "down"}), consts.ErrKind_Server},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err).Kind; got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestClassifyContextAndText(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"deadline exceeded", context.DeadlineExceeded, consts.ErrKind_Timeout},
		{"wrapped deadline", fmt.Errorf("request: %w", context.DeadlineExceeded), consts.ErrKind_Timeout},
		{"connection refused", errors.New("dial tcp: connection refused"), consts.ErrKind_Network},
		{"no such host", errors.New("lookup api: no such host"), consts.ErrKind_Network},
		{"quota text", errors.New("monthly quota exhausted"), consts.ErrKind_QuotaExceeded},
		{"token text", errors.New("token expired"), consts.ErrKind_Auth},
		{"session expired text", errors.New("session sess-1 expired"), consts.ErrKind_SessionInvalid},
		{"fallback", errors.New("mystery failure"), consts.ErrKind_Unknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err).Kind; got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	original := Classify(context.DeadlineExceeded)
	again := Classify(original)
	if again != original {
		t.Fatal("classifying a classified error must not re-wrap it")
	}
}

func TestClassifyCode(t *testing.T) {
	if got := ClassifyCode("rate_limit", "").Kind; got != consts.ErrKind_RateLimit {
		t.Fatalf("expected rate_limit, got %s", got)
	}
	if got := ClassifyCode("", "request timed out").Kind; got != consts.ErrKind_Timeout {
		t.Fatalf("expected timeout, got %s", got)
	}
	if got := ClassifyCode("", "???").Kind; got != consts.ErrKind_Unknown {
		t.Fatalf("expected unknown, got %s", got)
	}
}

func TestRetryable(t *testing.T) {
	for _, kind := range []string{consts.ErrKind_Network, consts.ErrKind_Timeout, consts.ErrKind_Server} {
		if !Retryable(kind) {
			t.Fatalf("%s must be retryable", kind)
		}
	}
	for _, kind := range []string{consts.ErrKind_Auth, consts.ErrKind_QuotaExceeded, consts.ErrKind_RateLimit, consts.ErrKind_Unknown} {
		if Retryable(kind) {
			t.Fatalf("%s must not be retryable", kind)
		}
	}
}

func TestClassifiedErrorMessageIsHumanReadable(t *testing.T) {
	classified := Classify(&api.APIError{StatusCode: http.StatusUnauthorized, Message: "jwt malformed"})
	if classified.Message == "" || classified.Message == "jwt malformed" {
		t.Fatalf("expected a user-facing message, got %q", classified.Message)
	}
}
