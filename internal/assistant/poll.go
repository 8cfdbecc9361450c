package assistant

import (
	"context"
	"sort"
	"time"

	"github.com/wolfman30/whatsapp-assistant-relay/internal/apperrors"
)

const (
	DefaultPollInterval = time.Second
	DefaultPollTimeout  = 120 * time.Second
)

// PollOptions bounds WaitForRun.
type PollOptions struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (o PollOptions) withDefaults() PollOptions {
	if o.Interval <= 0 {
		o.Interval = DefaultPollInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultPollTimeout
	}
	return o
}

// RunGetter fetches the current state of a run.
type RunGetter interface {
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)
}

// WaitForRun polls until the run leaves the queued/in_progress/cancelling
// states. Any terminal status is returned without error; callers inspect
// Status. Exceeding opts.Timeout yields a Timeout error and leaves the remote
// run untouched. Cancelling ctx stops the wait early.
func WaitForRun(ctx context.Context, getter RunGetter, threadID, runID string, opts PollOptions) (*Run, error) {
	opts = opts.withDefaults()
	start := time.Now()
	for {
		run, err := getter.GetRun(ctx, threadID, runID)
		if err != nil {
			return nil, err
		}
		if !run.Status.Active() {
			return run, nil
		}
		if time.Since(start) >= opts.Timeout {
			return run, apperrors.Timeout("run %s did not finish within %s (last status %s)", runID, opts.Timeout, run.Status)
		}

		timer := time.NewTimer(opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return run, ctx.Err()
		case <-timer.C:
		}
	}
}

// LatestAssistantMessage picks the newest assistant-authored message.
func LatestAssistantMessage(msgs []Message) (*Message, bool) {
	candidates := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleAssistant {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	latest := candidates[0]
	return &latest, true
}
