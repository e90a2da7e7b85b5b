package models

import (
	"testing"

	"github.com/hzfeng/StratPilot/consts"
)

func TestBacktestTaskTerminal(t *testing.T) {
	cases := []struct {
		status   string
		terminal bool
	}{
		{consts.Task_Pending, false},
		{consts.Task_Running, false},
		{consts.Task_Completed, true},
		{consts.Task_Failed, true},
		{"", false},
	}
	for _, c := range cases {
		task := BacktestTask{TaskID: "bt-1", Status: c.status}
		if got := task.Terminal(); got != c.terminal {
			t.Fatalf("Terminal() with status %q = %v, want %v", c.status, got, c.terminal)
		}
	}
}
