package consts

// Error categories surfaced to the UI layer. Every external failure is
// normalized to exactly one of these by the chat orchestrator.
const (
	ErrKind_Network        = "network"
	ErrKind_Timeout        = "timeout"
	ErrKind_Auth           = "auth"
	ErrKind_RateLimit      = "rate_limit"
	ErrKind_QuotaExceeded  = "quota_exceeded"
	ErrKind_Server         = "server"
	ErrKind_SessionInvalid = "session_invalid"
	ErrKind_Unknown        = "unknown"
)

// Backtest task states as reported by the platform.
const (
	Task_Pending   = "pending"
	Task_Running   = "running"
	Task_Completed = "completed"
	Task_Failed    = "failed"
)
