package test

import (
	"context"
	"sync"

	"github/chapool/tiered-custody/internal/events"
)

// Bus records published signals. Subscribe delivers whatever is passed to Deliver.
type Bus struct {
	mu        sync.Mutex
	published []events.Signal
	inbox     chan events.Signal

	PublishErr error
}

var _ events.Bus = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{inbox: make(chan events.Signal, 16)}
}

func (b *Bus) Publish(_ context.Context, sig events.Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.PublishErr != nil {
		return b.PublishErr
	}
	b.published = append(b.published, sig)

	return nil
}

func (b *Bus) Subscribe(ctx context.Context, handler events.Handler, channels ...events.Channel) error {
	wanted := map[events.Channel]bool{}
	for _, c := range channels {
		wanted[c] = true
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-b.inbox:
			if wanted[sig.Channel()] {
				_ = handler(ctx, sig)
			}
		}
	}
}

// Deliver queues sig for subscribers.
func (b *Bus) Deliver(sig events.Signal) {
	b.inbox <- sig
}

func (b *Bus) Published() []events.Signal {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]events.Signal(nil), b.published...)
}

// On returns the signals published on channel in order.
func (b *Bus) On(channel events.Channel) []events.Signal {
	res := make([]events.Signal, 0)
	for _, sig := range b.Published() {
		if sig.Channel() == channel {
			res = append(res, sig)
		}
	}

	return res
}

func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published = nil
}
