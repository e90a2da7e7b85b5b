package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hzfeng/StratPilot/internal/storage/sqlite"
	"github.com/hzfeng/StratPilot/models"
)

// UI styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6"))

	userLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6"))

	assistantLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#10B981"))

	subtleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	tableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#F59E0B"))
)

// renderMessage prints one transcript entry.
func renderMessage(msg models.ChatMessage) {
	switch {
	case msg.Role == models.Role_User:
		fmt.Println(userLabelStyle.Render("🧑 You: ") + msg.Content)

	case msg.ErrorKind != "":
		fmt.Println(errorStyle.Render("⚠️  ["+msg.ErrorKind+"] ") + msg.Content)

	default:
		fmt.Println(assistantLabelStyle.Render("🤖 Assistant: ") + msg.Content)
		if tokens, ok := msg.Metadata["tokens_used"]; ok {
			fmt.Println(subtleStyle.Render("   (" + tokens + " tokens)"))
		}
	}
}

// renderProgress draws a fixed-width progress bar for one poll update.
func renderProgress(progress float64) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	const width = 30
	filled := int(progress * width)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return fmt.Sprintf("🔄 [%s] %3.0f%%", bar, progress*100)
}

func renderUsage(usage models.UsageQuota) {
	fmt.Println(tableHeaderStyle.Render("📊 Usage"))
	fmt.Println("───────────────────────────")
	fmt.Printf("Total requests:    %d\n", usage.TotalRequests)
	fmt.Printf("Total spend:       $%s\n", usage.TotalCostUSD.StringFixed(4))
	fmt.Printf("Today:             $%s\n", usage.DailyCostUSD.StringFixed(4))
	fmt.Printf("This month:        $%s\n", usage.MonthlyCostUSD.StringFixed(4))
	if !usage.RemainingDailyQuota.IsZero() {
		fmt.Printf("Daily quota left:  $%s\n", usage.RemainingDailyQuota.StringFixed(4))
	}
	if !usage.RemainingMonthlyQuota.IsZero() {
		fmt.Printf("Monthly quota left: $%s\n", usage.RemainingMonthlyQuota.StringFixed(4))
	}
}

func renderSessionList(mode string, sessions []models.SessionSummary) {
	fmt.Println(tableHeaderStyle.Render("📂 Sessions — " + mode))
	fmt.Println("═══════════════════════════════════════")
	if len(sessions) == 0 {
		fmt.Println("No sessions yet. Start one with 'stratpilot chat'.")
		return
	}
	for _, session := range sessions {
		fmt.Printf("%-36s %-10s %4d msgs  %s\n",
			session.Name, session.Status, session.MessageCount,
			session.LastActivity.Format("2006-01-02 15:04"))
		fmt.Println(subtleStyle.Render("  id: " + session.SessionID))
	}
}

func renderRunHistory(runs []sqlite.RunRecord) {
	fmt.Println(tableHeaderStyle.Render("📈 Backtest History"))
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Printf("%-14s %-10s %-10s %-10s %-8s %s\n", "TASK", "SYMBOL", "STATUS", "RETURN", "SHARPE", "LAUNCHED")
	for _, run := range runs {
		ret := run.TotalReturn
		if ret == "" {
			ret = "-"
		}
		fmt.Printf("%-14s %-10s %-10s %-10s %-8.2f %s\n",
			run.TaskID, run.Symbol, run.Status, ret, run.SharpeRatio, run.CreatedAt)
	}
}

func renderArchivedRun(run sqlite.RunRecord) {
	fmt.Println(tableHeaderStyle.Render("📋 Backtest " + run.TaskID))
	fmt.Println("───────────────────────────")
	fmt.Printf("Strategy:       %s\n", run.StrategyID)
	fmt.Printf("Symbol:         %s\n", run.Symbol)
	fmt.Printf("Period:         %s to %s\n", run.StartDate, run.EndDate)
	fmt.Printf("Total return:   %s\n", run.TotalReturn)
	fmt.Printf("Sharpe ratio:   %.2f\n", run.SharpeRatio)
	fmt.Printf("Max drawdown:   %s\n", run.MaxDrawdown)
	fmt.Printf("Trades:         %d (win rate %.0f%%)\n", run.TradeCount, run.WinRate*100)
	if run.ReportMD != "" {
		fmt.Println()
		fmt.Println(run.ReportMD)
	}
}

func renderResults(results models.BacktestResults) {
	fmt.Println(tableHeaderStyle.Render("📋 Results"))
	fmt.Println("───────────────────────────")
	fmt.Printf("Total return:   %s\n", results.TotalReturn)
	fmt.Printf("Sharpe ratio:   %.2f\n", results.SharpeRatio)
	fmt.Printf("Max drawdown:   %s\n", results.MaxDrawdown)
	fmt.Printf("Trades:         %d (win rate %.0f%%)\n", results.TradeCount, results.WinRate*100)
	if results.ReportMD != "" {
		fmt.Println()
		fmt.Println(results.ReportMD)
	}
}
