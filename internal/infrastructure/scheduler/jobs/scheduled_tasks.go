// Package jobs contains implementations of scheduled jobs for the leaderboard
// worker.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMBINED SCHEDULED TASKS JOB
// ══════════════════════════════════════════════════════════════════════════════

// Runner is one leg of the combined cycle.
type Runner interface {
	Run(ctx context.Context) error
}

// CycleLock serializes cycles across worker replicas. Nil disables locking.
type CycleLock interface {
	// Acquire reports false, without error, when another replica holds the lock.
	Acquire(ctx context.Context) (bool, error)

	// Release frees the lock if this instance still owns it.
	Release(ctx context.Context) error
}

// ScheduledTasksConfig contains configuration for the combined job.
type ScheduledTasksConfig struct {
	// Timeout is the maximum duration for one combined cycle.
	Timeout time.Duration
}

// DefaultScheduledTasksConfig returns sensible defaults.
func DefaultScheduledTasksConfig() ScheduledTasksConfig {
	return ScheduledTasksConfig{
		Timeout: 2 * time.Minute,
	}
}

// ScheduledTasksJob runs the leaderboard reconciliation and the notification
// check as one cycle, the two legs concurrently. One leg failing never stops
// the other.
type ScheduledTasksJob struct {
	leaderboard Runner
	notify      Runner
	lock        CycleLock
	logger      *slog.Logger
	config      ScheduledTasksConfig
}

// NewScheduledTasksJob creates the combined job. notify and lock may be nil.
func NewScheduledTasksJob(leaderboard, notify Runner, lock CycleLock, logger *slog.Logger, config ScheduledTasksConfig) *ScheduledTasksJob {
	if logger == nil {
		logger = slog.Default()
	}

	return &ScheduledTasksJob{
		leaderboard: leaderboard,
		notify:      notify,
		lock:        lock,
		logger:      logger,
		config:      config,
	}
}

// Name returns the job name.
func (j *ScheduledTasksJob) Name() string {
	return "scheduled_tasks"
}

// Description returns a human-readable description.
func (j *ScheduledTasksJob) Description() string {
	return "Runs leaderboard reconciliation and notification checks together"
}

// Run executes one combined cycle.
func (j *ScheduledTasksJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	if j.lock != nil {
		acquired, err := j.lock.Acquire(ctx)
		if err != nil {
			// Redis being down must not stall the simulation; run unlocked.
			j.logger.Warn("invocation lock unavailable, running unlocked", "error", err)
		} else if !acquired {
			j.logger.Info("cycle skipped, another replica holds the lock")
			return nil
		} else {
			defer func() {
				if err := j.lock.Release(ctx); err != nil {
					j.logger.Warn("failed to release invocation lock", "error", err)
				}
			}()
		}
	}

	var wg sync.WaitGroup
	var leaderboardErr, notifyErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		leaderboardErr = j.leaderboard.Run(ctx)
	}()

	if j.notify != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			notifyErr = j.notify.Run(ctx)
		}()
	}

	wg.Wait()

	if leaderboardErr != nil {
		j.logger.Error("leaderboard update failed", "error", leaderboardErr)
	}
	if notifyErr != nil {
		j.logger.Error("notification check failed", "error", notifyErr)
	}

	return errors.Join(leaderboardErr, notifyErr)
}
