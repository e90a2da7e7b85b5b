package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hzfeng/StratPilot/config"
	"github.com/hzfeng/StratPilot/consts"
	"github.com/hzfeng/StratPilot/models"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cfg := config.DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "stratpilot",
		Short: "StratPilot - Realtime Strategy Assistant",
		Long: `StratPilot is the command-line companion for the strategy backtesting platform.
It provides an AI assistant for strategy design, code generation and market
analysis, plus backtest launching and monitoring, over a streaming realtime
channel with automatic HTTP fallback.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				cfg.Debug = true
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default behavior: start the interactive chat
			return runChatCommand(cfg, "")
		},
	}

	rootCmd.AddCommand(newChatCmd(cfg))
	rootCmd.AddCommand(newBacktestCmd(cfg))
	rootCmd.AddCommand(newSessionsCmd(cfg))
	rootCmd.AddCommand(newUsageCmd(cfg))
	rootCmd.AddCommand(newConfigCmd(cfg))
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	return rootCmd
}

// newChatCmd creates the chat command
func newChatCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive assistant session",
		Long: `Start an interactive chat with the strategy assistant.
Responses stream in realtime when the websocket channel is available and fall
back to plain HTTP when it is not.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, _ := cmd.Flags().GetString("mode")
			return runChatCommand(cfg, mode)
		},
	}

	cmd.Flags().String("mode", "", "Assistant mode (strategy_chat, code_generation, market_analysis, backtest)")

	return cmd
}

// newBacktestCmd creates the backtest command group
func newBacktestCmd(cfg *config.Config) *cobra.Command {
	backtestCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Launch and inspect strategy backtests",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Launch a backtest and monitor it to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			btCfg := models.BacktestConfig{}
			btCfg.StrategyID, _ = cmd.Flags().GetString("strategy")
			btCfg.Symbol, _ = cmd.Flags().GetString("symbol")
			btCfg.StartDate, _ = cmd.Flags().GetString("start")
			btCfg.EndDate, _ = cmd.Flags().GetString("end")
			return runBacktestCommand(cfg, btCfg)
		},
	}
	runCmd.Flags().String("strategy", "", "Strategy identifier")
	runCmd.Flags().String("symbol", "", "Instrument symbol, e.g. AAPL")
	runCmd.Flags().String("start", "", "Start date in YYYY-MM-DD format")
	runCmd.Flags().String("end", "", "End date in YYYY-MM-DD format")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List archived backtest runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return runBacktestHistoryCommand(cfg, limit)
		},
	}
	historyCmd.Flags().Int("limit", 20, "Maximum number of runs to show")

	resultsCmd := &cobra.Command{
		Use:   "results [TASK_ID]",
		Short: "Show the archived report for one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacktestResultsCommand(cfg, args[0])
		},
	}

	backtestCmd.AddCommand(runCmd)
	backtestCmd.AddCommand(historyCmd)
	backtestCmd.AddCommand(resultsCmd)

	return backtestCmd
}

// newSessionsCmd creates the sessions command group
func newSessionsCmd(cfg *config.Config) *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List and manage chat sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, _ := cmd.Flags().GetString("mode")
			return runSessionsCommand(cfg, mode)
		},
	}
	sessionsCmd.Flags().String("mode", consts.Mode_StrategyChat, "Assistant mode to list sessions for")

	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "archive [SESSION_ID]",
		Short: "Mark a session as archived",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionStatusCommand(cfg, args[0], consts.SessionStatus_Archived)
		},
	})

	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "delete [SESSION_ID]",
		Short: "Delete a session and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionDeleteCommand(cfg, args[0])
		},
	})

	return sessionsCmd
}

// newUsageCmd creates the usage command
func newUsageCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show request counts and spend for the current window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsageCommand(cfg)
		},
	}
}

// newConfigCmd creates the config command
func newConfigCmd(cfg *config.Config) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "Manage StratPilot configuration settings",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Run: func(cmd *cobra.Command, args []string) {
			showConfig(cfg)
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cfg)
		},
	})

	return configCmd
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("StratPilot v1.0.0")
			fmt.Println("Realtime Strategy Assistant CLI")
		},
	}
}

// showConfig displays the current configuration
func showConfig(cfg *config.Config) {
	fmt.Println("📋 Current StratPilot Configuration:")
	fmt.Println("═══════════════════════════════════════")
	if manager, err := config.NewManager(config.WithInitialConfig(cfg)); err == nil {
		fmt.Printf("Config File:          %s\n", manager.Path())
	}
	fmt.Printf("Project Directory:    %s\n", cfg.ProjectDir)
	fmt.Printf("Data Directory:       %s\n", cfg.DataDir)
	fmt.Printf("Results Directory:    %s\n", cfg.ResultsDir)
	fmt.Printf("Archive Database:     %s\n", cfg.DBPath)
	fmt.Println()
	fmt.Printf("API Base URL:         %s\n", cfg.APIBaseURL)
	fmt.Printf("Realtime URL:         %s\n", cfg.RealtimeURL)
	fmt.Printf("Realtime Enabled:     %t\n", cfg.RealtimeEnabled)
	fmt.Printf("Max Reconnects:       %d\n", cfg.MaxReconnectAttempts)
	fmt.Printf("Reconnect Base:       %s\n", cfg.ReconnectBase())
	fmt.Printf("Heartbeat Interval:   %s\n", cfg.HeartbeatInterval())
	fmt.Println()
	fmt.Printf("HTTP Timeout:         %s\n", cfg.HTTPTimeout())
	fmt.Printf("Max Retries:          %d\n", cfg.MaxRetries)
	fmt.Printf("Retry Delay:          %s\n", cfg.RetryDelay())
	fmt.Println()
	fmt.Printf("Poll Interval:        %s\n", cfg.PollInterval())
	fmt.Printf("Monitor Timeout:      %s\n", cfg.MonitorTimeout())
	fmt.Printf("Usage Window:         %d days\n", cfg.UsageWindowDays)
	fmt.Printf("Debug Mode:           %t\n", cfg.Debug)
	fmt.Println()

	fmt.Println("🔑 Credentials:")
	fmt.Println("─────────────────────")
	if cfg.AuthToken != "" {
		fmt.Println("Auth Token:           ✅ Configured")
	} else {
		fmt.Println("Auth Token:           ❌ Not configured")
	}
}

// validateConfig validates the configuration and platform connectivity
func validateConfig(cfg *config.Config) error {
	fmt.Println("🔍 Validating StratPilot Configuration...")
	fmt.Println("═══════════════════════════════════════")

	fmt.Print("⚙️  Checking configuration values... ")
	if err := cfg.Validate(); err != nil {
		fmt.Println("❌")
		return fmt.Errorf("configuration invalid: %w", err)
	}
	fmt.Println("✅")

	fmt.Print("📁 Checking directories... ")
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Println("❌")
		return fmt.Errorf("directory validation failed: %w", err)
	}
	fmt.Println("✅")

	warnings := []string{}
	if cfg.AuthToken == "" {
		warnings = append(warnings, "auth token not configured, platform requests will be rejected")
	}
	if !cfg.RealtimeEnabled {
		warnings = append(warnings, "realtime channel disabled, responses will not stream")
	}

	fmt.Print("🌐 Checking platform connectivity... ")
	app, err := newApp(cfg, "")
	if err != nil {
		fmt.Println("❌")
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Orchestrator.RefreshUsage(ctx); err != nil {
		fmt.Println("⚠️")
		warnings = append(warnings, fmt.Sprintf("platform unreachable: %v", err))
	} else {
		fmt.Println("✅")
	}

	fmt.Println()
	if len(warnings) == 0 {
		fmt.Println("✅ Configuration validation completed successfully!")
	} else {
		fmt.Printf("⚠️  Configuration validation completed with %d warnings.\n", len(warnings))
		for _, warning := range warnings {
			fmt.Printf("  ⚠️  %s\n", warning)
		}
	}

	fmt.Println()
	fmt.Println("💡 Tips:")
	fmt.Println("  • Set STRATPILOT_AUTH_TOKEN for platform access")
	fmt.Println("  • Set STRATPILOT_REALTIME_URL to enable streaming responses")
	fmt.Println("  • Use 'stratpilot chat' to start your first session")

	return nil
}
