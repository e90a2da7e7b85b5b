// Package task polls one background backtest job to a terminal state without
// blocking the chat flow.
package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hzfeng/StratPilot/consts"
	"github.com/hzfeng/StratPilot/models"
)

// backtestAPI is the polling seam, satisfied by *api.Client.
type backtestAPI interface {
	GetBacktestProgress(ctx context.Context, taskID string) (*models.BacktestTask, error)
	GetBacktestResults(ctx context.Context, taskID string) (*models.BacktestResults, error)
}

// Archiver persists finished runs. May be nil when no archive is configured.
type Archiver interface {
	SaveRun(ctx context.Context, task models.BacktestTask, results *models.BacktestResults) error
}

// Update is one observation of the monitored task. Exactly one terminal
// update (Completed, Failed, or TimedOut) ends each monitoring run.
type Update struct {
	Task     models.BacktestTask
	Results  *models.BacktestResults
	TimedOut bool
}

// Terminal reports whether this update ended the monitoring run.
func (u Update) Terminal() bool {
	return u.TimedOut || u.Task.Terminal()
}

// Monitor tracks at most one backtest at a time (single-flight). Starting a
// new monitor cancels the previous one; a hard timeout bounds the whole run
// even if the job never reports completion.
type Monitor struct {
	api      backtestAPI
	archive  Archiver
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	taskID string
	cancel context.CancelFunc
	gen    uint64

	updates chan Update
}

func NewMonitor(platform backtestAPI, archive Archiver, interval, timeout time.Duration, logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Monitor{
		api:      platform,
		archive:  archive,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With().Str("component", "task-monitor").Logger(),
		updates:  make(chan Update, 32),
	}
}

// Updates delivers progress and the single terminal update per run.
func (m *Monitor) Updates() <-chan Update {
	return m.updates
}

// Active reports whether a poll loop is currently running.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// TaskID returns the task currently being monitored, if any.
func (m *Monitor) TaskID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.taskID
}

// StartMonitoring begins polling taskID. Any prior monitor is cancelled
// first, so exactly one poll loop exists afterward.
func (m *Monitor) StartMonitoring(taskID string) {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	m.cancel = cancel
	m.taskID = taskID
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.logger.Info().Str("task_id", taskID).Msg("monitoring backtest")
	go m.pollLoop(ctx, cancel, gen, taskID)
}

// StopMonitoring cancels the active poll loop. Safe to call at any time.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
		m.taskID = ""
	}
}

// clearSelf detaches the loop's cancel handle, unless a newer monitor has
// already replaced it.
func (m *Monitor) clearSelf(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen == gen {
		m.cancel = nil
		m.taskID = ""
	}
}

func (m *Monitor) pollLoop(ctx context.Context, cancel context.CancelFunc, gen uint64, taskID string) {
	defer cancel()
	defer m.clearSelf(gen)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if done := m.pollOnce(ctx, taskID); done {
			return
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				m.logger.Warn().Str("task_id", taskID).Dur("timeout", m.timeout).Msg("monitor timed out")
				m.emit(Update{
					Task: models.BacktestTask{
						TaskID:       taskID,
						Status:       consts.Task_Failed,
						ErrorMessage: "backtest monitoring timed out",
					},
					TimedOut: true,
				})
			}
			return
		case <-ticker.C:
		}
	}
}

// pollOnce fetches progress and reports whether the run is over. Transient
// poll errors keep the loop alive; the hard timeout bounds them.
func (m *Monitor) pollOnce(ctx context.Context, taskID string) bool {
	task, err := m.api.GetBacktestProgress(ctx, taskID)
	if err != nil {
		if ctx.Err() != nil {
			return false // timeout or cancellation, handled by the loop
		}
		m.logger.Warn().Str("task_id", taskID).Err(err).Msg("progress poll failed")
		return false
	}

	switch task.Status {
	case consts.Task_Completed:
		results, err := m.api.GetBacktestResults(ctx, taskID)
		if err != nil {
			m.logger.Warn().Str("task_id", taskID).Err(err).Msg("results fetch failed")
		}
		if m.archive != nil && results != nil {
			if err := m.archive.SaveRun(ctx, *task, results); err != nil {
				m.logger.Warn().Str("task_id", taskID).Err(err).Msg("archive failed")
			}
		}
		m.emit(Update{Task: *task, Results: results})
		return true

	case consts.Task_Failed:
		m.logger.Warn().Str("task_id", taskID).Str("error", task.ErrorMessage).Msg("backtest failed")
		m.emit(Update{Task: *task})
		return true

	default:
		m.emit(Update{Task: *task})
		return false
	}
}

// emit never blocks the poll loop. A slow consumer loses intermediate
// progress updates only; when the buffer is full a terminal update evicts
// the oldest queued update so the run's outcome is always delivered.
func (m *Monitor) emit(update Update) {
	if !update.Terminal() {
		select {
		case m.updates <- update:
		default:
			m.logger.Debug().Str("task_id", update.Task.TaskID).Msg("update channel full, dropping")
		}
		return
	}
	for {
		select {
		case m.updates <- update:
			return
		default:
		}
		select {
		case stale := <-m.updates:
			m.logger.Debug().Str("task_id", stale.Task.TaskID).Msg("update channel full, evicting stale update")
		default:
		}
	}
}
