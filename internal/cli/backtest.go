package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/hzfeng/StratPilot/config"
	"github.com/hzfeng/StratPilot/consts"
	"github.com/hzfeng/StratPilot/models"
)

// runBacktestCommand launches a backtest and monitors it to a terminal state.
// Missing parameters are prompted for interactively.
func runBacktestCommand(cfg *config.Config, btCfg models.BacktestConfig) error {
	btCfg, err := PromptForBacktestConfig(btCfg)
	if err != nil {
		return err
	}

	app, err := newApp(cfg, consts.Mode_Backtest)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	taskID, err := app.API.LaunchBacktest(ctx, btCfg)
	cancel()
	if err != nil {
		return fmt.Errorf("launch backtest: %w", err)
	}

	archiveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := app.Archive.RecordLaunch(archiveCtx, taskID, btCfg); err != nil {
		app.Logger.Warn().Err(err).Msg("archive launch")
	}
	cancel()

	fmt.Printf("🚀 Backtest %s launched for %s (%s to %s)\n", taskID, btCfg.Symbol, btCfg.StartDate, btCfg.EndDate)
	fmt.Println(subtleStyle.Render(fmt.Sprintf("polling every %s, timeout after %s", cfg.PollInterval(), cfg.MonitorTimeout())))
	fmt.Println()

	app.Monitor.StartMonitoring(taskID)
	for update := range app.Monitor.Updates() {
		switch {
		case update.TimedOut:
			fmt.Println()
			fmt.Println(errorStyle.Render("⚠️  " + update.Task.ErrorMessage))
			return fmt.Errorf("backtest %s timed out", taskID)

		case update.Task.Status == consts.Task_Failed:
			fmt.Println()
			fmt.Println(errorStyle.Render("❌ Backtest failed: " + update.Task.ErrorMessage))
			return fmt.Errorf("backtest %s failed", taskID)

		case update.Task.Status == consts.Task_Completed:
			fmt.Println()
			fmt.Println(completedStyle.Render("✅ Backtest completed"))
			if update.Results != nil {
				renderResults(*update.Results)
			}
			return nil

		default:
			fmt.Printf("\r%s", renderProgress(update.Task.Progress))
		}
	}
	return nil
}

// runBacktestHistoryCommand lists archived runs, newest first.
func runBacktestHistoryCommand(cfg *config.Config, limit int) error {
	app, err := newApp(cfg, consts.Mode_Backtest)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runs, err := app.Archive.ListRuns(ctx, limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No archived backtest runs yet. Launch one with 'stratpilot backtest run'.")
		return nil
	}
	renderRunHistory(runs)
	return nil
}

// runBacktestResultsCommand shows one run's report, fetching and archiving it
// from the platform when the local archive has no results yet.
func runBacktestResultsCommand(cfg *config.Config, taskID string) error {
	app, err := newApp(cfg, consts.Mode_Backtest)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	run, err := app.Archive.GetRun(ctx, taskID)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	if run != nil && run.Status == consts.Task_Completed {
		renderArchivedRun(*run)
		return nil
	}

	results, err := app.API.GetBacktestResults(ctx, taskID)
	if err != nil {
		return fmt.Errorf("fetch results: %w", err)
	}
	task := models.BacktestTask{TaskID: taskID, Status: consts.Task_Completed, Progress: 1}
	if err := app.Archive.SaveRun(ctx, task, results); err != nil {
		app.Logger.Warn().Err(err).Msg("archive results")
	}
	renderResults(*results)
	return nil
}
