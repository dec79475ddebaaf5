package events

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github/chapool/tiered-custody/internal/metrics"
	"github/chapool/tiered-custody/internal/util"
)

// Publisher is the only bus capability controllers get; they never call each other directly.
type Publisher interface {
	Publish(ctx context.Context, sig Signal) error
}

// Handler processes one decoded signal. Returned errors are logged, never retried.
type Handler func(ctx context.Context, sig Signal) error

type Bus interface {
	Publisher
	// Subscribe blocks until ctx is done or the subscription breaks, dispatching every
	// message on its own goroutine. In-flight handlers are drained before it returns.
	Subscribe(ctx context.Context, handler Handler, channels ...Channel) error
}

// RedisBus carries signals over Redis pub/sub.
type RedisBus struct {
	client  redis.UniversalClient
	metrics *metrics.Service
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus publishes and subscribes over Redis pub/sub.
func NewRedisBus(client redis.UniversalClient, m *metrics.Service) *RedisBus {
	return &RedisBus{client: client, metrics: m}
}

// Publish validates sig and sends its JSON encoding on the signal's channel.
func (b *RedisBus) Publish(ctx context.Context, sig Signal) error {
	payload, err := Encode(sig)
	if err != nil {
		return err
	}

	if err := b.client.Publish(ctx, sig.Channel().String(), payload).Err(); err != nil {
		return errors.Wrapf(err, "failed to publish %s", sig.Channel())
	}

	b.metrics.SignalPublished(sig.Channel().String())
	util.LogFromContext(ctx).Debug().
		Str("channel", sig.Channel().String()).
		RawJSON("payload", payload).
		Msg("EventBus: signal published")

	return nil
}

// Subscribe blocks until ctx is done or the subscription fails. Every message is decoded
// and handled on its own goroutine; in-flight handlers are waited for before returning.
func (b *RedisBus) Subscribe(ctx context.Context, handler Handler, channels ...Channel) error {
	if len(channels) == 0 {
		return errors.New("no channels to subscribe to")
	}

	names := make([]string, 0, len(channels))
	for _, c := range channels {
		names = append(names, c.String())
	}

	pubsub := b.client.Subscribe(ctx, names...)
	defer pubsub.Close()

	// wait for the subscription confirmation so callers know we are live
	if _, err := pubsub.Receive(ctx); err != nil {
		return errors.Wrap(err, "failed to subscribe")
	}

	log.Info().Strs("channels", names).Msg("EventBus: subscribed")

	var wg sync.WaitGroup
	defer wg.Wait()

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return errors.New("subscription channel closed")
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				b.dispatch(ctx, msg.Channel, []byte(msg.Payload), handler)
			}()
		}
	}
}

// dispatch decodes at the boundary: malformed payloads are dropped here and never reach handlers.
func (b *RedisBus) dispatch(ctx context.Context, channel string, payload []byte, handler Handler) {
	ctx = util.WithLogFields(ctx, map[string]string{"signal": channel})
	l := util.LogFromContext(ctx)

	sig, err := Decode(channel, payload)
	if err != nil {
		l.Warn().Err(err).Bytes("payload", payload).Msg("EventBus: dropping invalid signal")
		b.metrics.SignalReceived(channel, metrics.ResultInvalid)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("EventBus: handler panicked")
			b.metrics.SignalReceived(channel, metrics.ResultError)
		}
	}()

	if err := handler(ctx, sig); err != nil {
		l.Error().Err(err).Msg("EventBus: handler failed")
		b.metrics.SignalReceived(channel, metrics.ResultError)
		return
	}

	b.metrics.SignalReceived(channel, metrics.ResultOK)
}
