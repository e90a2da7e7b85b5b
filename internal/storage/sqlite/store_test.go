package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/hzfeng/StratPilot/consts"
	"github.com/hzfeng/StratPilot/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestRunLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	cfg := models.BacktestConfig{
		StrategyID: "sma-cross",
		Symbol:     "AAPL",
		StartDate:  "2024-01-01",
		EndDate:    "2024-06-30",
	}
	if err := store.RecordLaunch(ctx, "bt-1", cfg); err != nil {
		t.Fatalf("record launch: %v", err)
	}

	run, err := store.GetRun(ctx, "bt-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run == nil || run.Status != consts.Task_Running || run.Symbol != "AAPL" {
		t.Fatalf("run after launch = %+v", run)
	}

	task := models.BacktestTask{TaskID: "bt-1", Status: consts.Task_Completed, Progress: 1}
	results := &models.BacktestResults{
		TaskID:      "bt-1",
		TotalReturn: "12.4%",
		SharpeRatio: 1.31,
		MaxDrawdown: "-8.2%",
		TradeCount:  57,
		WinRate:     0.58,
	}
	if err := store.SaveRun(ctx, task, results); err != nil {
		t.Fatalf("save run: %v", err)
	}

	run, err = store.GetRun(ctx, "bt-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != consts.Task_Completed {
		t.Fatalf("status = %q, want completed", run.Status)
	}
	if run.TotalReturn != "12.4%" || run.TradeCount != 57 {
		t.Fatalf("results not archived: %+v", run)
	}
	// Launch parameters survive the result upsert.
	if run.StrategyID != "sma-cross" || run.StartDate != "2024-01-01" {
		t.Fatalf("launch fields lost: %+v", run)
	}
}

func TestSaveRunFailure(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	task := models.BacktestTask{TaskID: "bt-2", Status: consts.Task_Failed, ErrorMessage: "insufficient history"}
	if err := store.SaveRun(ctx, task, nil); err != nil {
		t.Fatalf("save run: %v", err)
	}

	run, err := store.GetRun(ctx, "bt-2")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != consts.Task_Failed || run.ErrorMessage != "insufficient history" {
		t.Fatalf("run = %+v", run)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"bt-a", "bt-b", "bt-c"} {
		if err := store.RecordLaunch(ctx, id, models.BacktestConfig{Symbol: "SPY"}); err != nil {
			t.Fatalf("record launch %s: %v", id, err)
		}
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].TaskID != "bt-c" || runs[1].TaskID != "bt-b" {
		t.Fatalf("order = %s, %s", runs[0].TaskID, runs[1].TaskID)
	}
}

func TestGetRunMissing(t *testing.T) {
	store := openTestStore(t)
	run, err := store.GetRun(context.Background(), "no-such-run")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run != nil {
		t.Fatalf("expected nil, got %+v", run)
	}
}

func TestUsageSnapshots(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if latest, err := store.LatestUsage(ctx); err != nil || latest != nil {
		t.Fatalf("empty store: latest=%+v err=%v", latest, err)
	}

	first := models.UsageQuota{TotalRequests: 10, TotalCostUSD: decimal.RequireFromString("1.25")}
	second := models.UsageQuota{
		TotalRequests:  42,
		TotalCostUSD:   decimal.RequireFromString("3.105"),
		DailyCostUSD:   decimal.RequireFromString("0.40"),
		MonthlyCostUSD: decimal.RequireFromString("3.105"),
	}
	if err := store.RecordUsage(ctx, first, 30); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if err := store.RecordUsage(ctx, second, 30); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	latest, err := store.LatestUsage(ctx)
	if err != nil {
		t.Fatalf("latest usage: %v", err)
	}
	if latest.TotalRequests != 42 {
		t.Fatalf("requests = %d, want 42", latest.TotalRequests)
	}
	if !latest.TotalCostUSD.Equal(decimal.RequireFromString("3.105")) {
		t.Fatalf("cost = %s", latest.TotalCostUSD)
	}
}
