package location

import (
	"context"
	"time"
)

// subscription is the Subscription shared by all providers. Cancelling it
// cancels the watch context; producers check it before every delivery.
type subscription struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func newSubscription(parent context.Context) *subscription {
	ctx, cancel := context.WithCancel(parent)
	return &subscription{ctx: ctx, cancel: cancel}
}

func (s *subscription) Cancel() {
	s.cancel()
}

// deliver hands pos to fn unless the subscription has been cancelled.
func (s *subscription) deliver(fn func(Position), pos Position) bool {
	if s.ctx.Err() != nil {
		return false
	}
	fn(pos)
	return true
}

// sleep waits for d or until the subscription ends. It reports whether the
// subscription is still active.
func (s *subscription) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// pollingWatch builds a continuous watch out of a one-shot sampler for
// providers that have no native stream.
func pollingWatch(ctx context.Context, every time.Duration, opts WatchOptions, now func() time.Time,
	sample func(ctx context.Context, accuracy Accuracy) (Position, error), onPosition func(Position), onError func(error)) Subscription {
	sub := newSubscription(ctx)
	filter := newEmitFilter(opts)

	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			pos, err := sample(sub.ctx, opts.Accuracy)
			switch {
			case err != nil:
				if sub.ctx.Err() != nil {
					return
				}
				if onError != nil {
					onError(err)
				}
			case filter.accept(pos, now()):
				if !sub.deliver(onPosition, pos) {
					return
				}
			}

			select {
			case <-ticker.C:
			case <-sub.ctx.Done():
				return
			}
		}
	}()

	return sub
}
