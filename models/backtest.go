package models

import (
	"time"

	"github.com/hzfeng/StratPilot/consts"
)

// BacktestConfig describes one strategy backtest run request.
type BacktestConfig struct {
	StrategyID   string `json:"strategy_id"`
	Symbol       string `json:"symbol"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
	InitialCash  string `json:"initial_cash,omitempty"`
	CommissionBp int    `json:"commission_bp,omitempty"`
}

// BacktestTask is the platform's view of a running backtest job.
type BacktestTask struct {
	TaskID       string  `json:"task_id"`
	Status       string  `json:"status"`
	Progress     float64 `json:"progress"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// Terminal reports whether the task will make no further progress.
func (t BacktestTask) Terminal() bool {
	return t.Status == consts.Task_Completed || t.Status == consts.Task_Failed
}

// BacktestResults is the final report fetched once after completion.
type BacktestResults struct {
	TaskID      string    `json:"task_id"`
	TotalReturn string    `json:"total_return"`
	SharpeRatio float64   `json:"sharpe_ratio"`
	MaxDrawdown string    `json:"max_drawdown"`
	TradeCount  int       `json:"trade_count"`
	WinRate     float64   `json:"win_rate"`
	ReportMD    string    `json:"report_md,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
