package downloader

import (
	"context"
	"time"
)

// PollPolicy describes a polling loop independently of what is being polled.
// MaxAttempts <= 0 polls until the context ends.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultPollPolicy polls once per second without an attempt limit.
var DefaultPollPolicy = PollPolicy{Interval: time.Second}

// Poll calls check every Interval until it reports done, returns an error, the context
// ends, or MaxAttempts is exhausted (ErrPollTimeout). The ticker is always released.
func (p PollPolicy) Poll(ctx context.Context, check func(ctx context.Context) (done bool, err error)) error {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		done, err := check(ctx)
		if err != nil || done {
			return err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return ErrPollTimeout
		}
	}
}
