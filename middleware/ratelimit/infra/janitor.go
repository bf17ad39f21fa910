package infra

import "time"

// DoneContext is the part of context.Context the janitor needs.
type DoneContext interface {
	Done() <-chan struct{}
}

func startJanitor(ctx DoneContext, every time.Duration, sweep func()) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				sweep()
			}
		}
	}()
}

func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return ((d + time.Second - 1) / time.Second) * time.Second
}
