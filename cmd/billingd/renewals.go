package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/billsdk/pkg/billing"
	"github.com/dmitrymomot/billsdk/pkg/logger"
)

type renewer interface {
	ProcessRenewals(ctx context.Context, now time.Time) (*billing.RenewalReport, error)
}

// sweepJob runs one renewal sweep per cron tick. The sweep time comes from
// the service's clock, so a plugin-provided clock is honored; now only
// times the run.
type sweepJob struct {
	ctx     context.Context
	svc     renewer
	metrics *sweepMetrics
	log     *slog.Logger
	now     func() time.Time
}

func (j *sweepJob) Run() {
	started := j.now()
	rep, err := j.svc.ProcessRenewals(j.ctx, time.Time{})
	switch {
	case errors.Is(err, billing.ErrSweepInProgress):
		j.metrics.skipped()
		j.log.InfoContext(j.ctx, "renewal sweep skipped, another instance holds the lock")
		return
	case err != nil:
		j.metrics.failed()
		j.log.ErrorContext(j.ctx, "renewal sweep failed", logger.Error(err))
		return
	}

	j.metrics.observe(rep, j.now().Sub(started))
	for _, e := range rep.Errors {
		j.log.WarnContext(j.ctx, "renewal skipped", logger.Error(e))
	}
	j.log.InfoContext(j.ctx, "renewal sweep finished",
		slog.Int("due", rep.Due),
		slog.Int("renewed", rep.Renewed),
		slog.Int("converted", rep.Converted),
		slog.Int("past_due", rep.PastDue),
		slog.Int("awaiting", rep.Awaiting),
		slog.Int("failed", rep.Failed),
	)
}

// scheduleRenewals registers the sweep on c. Overlapping ticks are skipped
// in-process; the sweep lock covers other instances.
func scheduleRenewals(c *cron.Cron, spec string, job *sweepJob) error {
	if _, err := c.AddJob(spec, cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(job)); err != nil {
		return errors.Join(errInvalidSchedule, err)
	}
	return nil
}

var errInvalidSchedule = errors.New("invalid renewal schedule")
