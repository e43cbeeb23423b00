package syncengine

import (
	"context"
	"time"
)

// SleepFunc waits for d or until ctx is done. Tests inject one that records
// delays instead of sleeping.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryPolicy retries an operation with a fixed delay between attempts.
// MaxAttempts == 0 means retry forever; the only way out is success or
// context cancellation.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

func (p RetryPolicy) Do(ctx context.Context, sleep SleepFunc, op func() error) error {
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return err
		}
		if sleepErr := sleep(ctx, p.Delay); sleepErr != nil {
			return sleepErr
		}
	}
}
