package cli

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"

	"github.com/hzfeng/StratPilot/consts"
	"github.com/hzfeng/StratPilot/models"
)

// modeOrder fixes the menu ordering; map iteration would shuffle it.
var modeOrder = []string{
	consts.Mode_StrategyChat,
	consts.Mode_CodeGeneration,
	consts.Mode_MarketAnalysis,
	consts.Mode_Backtest,
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9.-]+$`)

// PromptForMode asks the user to pick an assistant mode.
func PromptForMode() (string, error) {
	options := make([]string, 0, len(modeOrder))
	for _, mode := range modeOrder {
		options = append(options, consts.ModeLabels[mode])
	}

	var label string
	prompt := &survey.Select{
		Message: "Select assistant mode:",
		Options: options,
		Help:    "Each mode keeps its own sessions and tunes the assistant's focus",
	}
	if err := survey.AskOne(prompt, &label); err != nil {
		return "", err
	}

	for _, mode := range modeOrder {
		if consts.ModeLabels[mode] == label {
			return mode, nil
		}
	}
	return "", fmt.Errorf("unknown mode selection %q", label)
}

// PromptForSession asks the user to pick from existing sessions. Returns nil
// when the user backs out.
func PromptForSession(sessions []models.SessionSummary) (*models.SessionSummary, error) {
	const backOption = "← back"

	options := make([]string, 0, len(sessions)+1)
	for _, session := range sessions {
		options = append(options, fmt.Sprintf("%s (%d messages, %s)",
			session.Name, session.MessageCount, session.LastActivity.Format("Jan 2 15:04")))
	}
	options = append(options, backOption)

	var choice string
	prompt := &survey.Select{
		Message:  "Select a session:",
		Options:  options,
		PageSize: 10,
	}
	if err := survey.AskOne(prompt, &choice); err != nil {
		return nil, err
	}
	if choice == backOption {
		return nil, nil
	}

	for i, option := range options[:len(sessions)] {
		if option == choice {
			return &sessions[i], nil
		}
	}
	return nil, nil
}

// PromptForBacktestConfig fills any missing backtest parameters interactively
// and validates the ones already provided.
func PromptForBacktestConfig(btCfg models.BacktestConfig) (models.BacktestConfig, error) {
	if btCfg.StrategyID == "" {
		prompt := &survey.Input{
			Message: "Strategy identifier:",
			Help:    "The platform id of the strategy to backtest",
		}
		if err := survey.AskOne(prompt, &btCfg.StrategyID, survey.WithValidator(survey.Required)); err != nil {
			return btCfg, err
		}
	}

	if btCfg.Symbol == "" {
		prompt := &survey.Input{
			Message: "Instrument symbol (e.g. AAPL, BTC-USD):",
		}
		if err := survey.AskOne(prompt, &btCfg.Symbol, survey.WithValidator(validateSymbol)); err != nil {
			return btCfg, err
		}
	}
	btCfg.Symbol = strings.ToUpper(strings.TrimSpace(btCfg.Symbol))
	if err := validateSymbol(btCfg.Symbol); err != nil {
		return btCfg, err
	}

	if btCfg.StartDate == "" {
		prompt := &survey.Input{
			Message: "Start date (YYYY-MM-DD):",
			Default: time.Now().AddDate(0, -6, 0).Format("2006-01-02"),
		}
		if err := survey.AskOne(prompt, &btCfg.StartDate, survey.WithValidator(validateDate)); err != nil {
			return btCfg, err
		}
	}

	if btCfg.EndDate == "" {
		prompt := &survey.Input{
			Message: "End date (YYYY-MM-DD):",
			Default: time.Now().Format("2006-01-02"),
		}
		if err := survey.AskOne(prompt, &btCfg.EndDate, survey.WithValidator(validateDate)); err != nil {
			return btCfg, err
		}
	}

	start, err := time.Parse("2006-01-02", btCfg.StartDate)
	if err != nil {
		return btCfg, fmt.Errorf("invalid start date, use YYYY-MM-DD: %w", err)
	}
	end, err := time.Parse("2006-01-02", btCfg.EndDate)
	if err != nil {
		return btCfg, fmt.Errorf("invalid end date, use YYYY-MM-DD: %w", err)
	}
	if !end.After(start) {
		return btCfg, fmt.Errorf("end date must be after start date")
	}

	return btCfg, nil
}

func validateSymbol(val interface{}) error {
	str, _ := val.(string)
	str = strings.TrimSpace(strings.ToUpper(str))
	if str == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if len(str) > 12 {
		return fmt.Errorf("symbol too long (max 12 characters)")
	}
	if !symbolPattern.MatchString(str) {
		return fmt.Errorf("invalid symbol format (use letters, numbers, dots, and hyphens only)")
	}
	return nil
}

func validateDate(val interface{}) error {
	str, _ := val.(string)
	str = strings.TrimSpace(str)
	if _, err := time.Parse("2006-01-02", str); err != nil {
		return fmt.Errorf("invalid date format, use YYYY-MM-DD")
	}
	return nil
}
