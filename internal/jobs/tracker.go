package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mlforge/internal/metrics"
	"mlforge/internal/shared"
)

// Tracker polls the job control plane until a job reaches a terminal status.
// The interval is fixed with no backoff; retries never overlap a poll in
// flight. Cancellation comes from ctx, and transient describe failures are
// tolerated up to a consecutive-failure budget before the loop gives up.
type Tracker struct {
	control JobControl
	log     *zap.SugaredLogger

	// maxConsecutiveFailures bounds how many describe errors in a row the
	// loop rides out before surfacing the last one.
	maxConsecutiveFailures int

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewTracker(control JobControl, log *zap.SugaredLogger) *Tracker {
	return &Tracker{
		control:                control,
		log:                    log,
		maxConsecutiveFailures: shared.MaxConsecutivePollFailures,
		sleep:                  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// AwaitTerminal blocks until jobID reaches a terminal status and returns it.
// A non-positive interval falls back to the default poll interval.
func (t *Tracker) AwaitTerminal(ctx context.Context, jobID string, interval time.Duration) (Status, error) {
	if jobID == "" {
		return "", errors.New("job id is required")
	}
	if interval <= 0 {
		interval = shared.DefaultPollInterval
	}
	log := t.log.With("job_id", jobID)

	failures := 0
	for {
		status, err := t.control.Describe(ctx, jobID)
		switch {
		case err != nil:
			failures++
			metrics.JobDescribeFailures.Inc()
			log.Warnw("Failed to describe job",
				"consecutive_failures", failures,
				"error", err.Error())
			if failures >= t.maxConsecutiveFailures {
				return "", errors.Join(fmt.Errorf("giving up on job %s after %d consecutive describe failures", jobID, failures), err)
			}
		default:
			failures = 0
			metrics.JobPolls.WithLabelValues(string(status)).Inc()
			if status.Terminal() {
				metrics.JobsTerminal.WithLabelValues(string(status)).Inc()
				log.Infow("Job reached terminal status", "status", string(status))
				return status, nil
			}
			log.Infow("Job still running", "status", string(status))
		}

		if err := t.sleep(ctx, interval); err != nil {
			return "", fmt.Errorf("stopped tracking job %s: %w", jobID, err)
		}
	}
}
