package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/studytime-hub/leaderboard-worker/internal/store"
	"github.com/studytime-hub/leaderboard-worker/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION PIPELINE
// ══════════════════════════════════════════════════════════════════════════════

// Pipeline runs one notification pass: the session-reminder scan always, the
// report drain only inside the nightly window.
type Pipeline struct {
	dispatcher *Dispatcher
	reports    *ReportDrainer
	logger     *slog.Logger
	now        func() time.Time

	disableReminders bool
	disableReports   bool
}

// PipelineOptions configures a notification Pipeline.
type PipelineOptions struct {
	Store     store.Store
	Messenger Messenger
	Logger    *slog.Logger

	// Now overrides the clock, for tests. Defaults to timeutil.Now.
	Now func() time.Time

	// Feature kill switches; both legs run by default.
	DisableReminders bool
	DisableReports   bool
}

// NewPipeline wires the dispatcher and the report drainer together.
func NewPipeline(opts PipelineOptions) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = timeutil.Now
	}

	return &Pipeline{
		dispatcher: NewDispatcher(opts.Store, opts.Messenger, opts.Logger),
		reports:    NewReportDrainer(opts.Store, opts.Messenger, opts.Logger),
		logger:     opts.Logger,
		now:        opts.Now,

		disableReminders: opts.DisableReminders,
		disableReports:   opts.DisableReports,
	}
}

// Run executes one notification pass. A reminder-scan failure does not block
// the report drain: the two legs are independent and the first error is
// returned after both ran.
func (p *Pipeline) Run(ctx context.Context) error {
	now := p.now()

	var dispatchErr error
	if !p.disableReminders {
		_, dispatchErr = p.dispatcher.Run(ctx, now)
	}

	if p.disableReports {
		return dispatchErr
	}

	if InReportWindow(now) {
		if _, err := p.reports.Drain(ctx, now); err != nil {
			p.logger.Error("report drain failed", "error", err)
			if dispatchErr == nil {
				dispatchErr = err
			}
		}
	} else {
		p.logger.Debug("outside auto-report window, skipping drain")
	}

	return dispatchErr
}
