package consts

// Assistant interaction modes. A session is scoped to exactly one mode.
const (
	Mode_StrategyChat   = "strategy_chat"
	Mode_CodeGeneration = "code_generation"
	Mode_MarketAnalysis = "market_analysis"
	Mode_Backtest       = "backtest"
)

// ModeLabels maps a mode to its display name, used for default session names.
var ModeLabels = map[string]string{
	Mode_StrategyChat:   "Strategy Chat",
	Mode_CodeGeneration: "Code Generation",
	Mode_MarketAnalysis: "Market Analysis",
	Mode_Backtest:       "Backtest",
}

// Session types distinguish free-form chats from strategy-bound ones.
const (
	SessionType_General  = "general"
	SessionType_Strategy = "strategy"
)

const (
	SessionStatus_Active    = "active"
	SessionStatus_Completed = "completed"
	SessionStatus_Archived  = "archived"
)
