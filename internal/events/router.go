package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPushTimeout bounds a single Notify POST.
const DefaultPushTimeout = 5 * time.Second

// Router turns raised events into messages and delivers them through the
// registry: pull subscriptions are woken, push subscriptions get a
// dispatcher that keeps at most one Notify in flight.
type Router struct {
	registry *Registry
	notifier Notifier
	timeout  time.Duration
	now      func() time.Time
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRouter wires a router to registry. Push delivery uses notifier with the
// given per-POST timeout.
func NewRouter(registry *Registry, notifier Notifier, timeout time.Duration, log zerolog.Logger) *Router {
	if timeout <= 0 {
		timeout = DefaultPushTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	rt := &Router{
		registry: registry,
		notifier: notifier,
		timeout:  timeout,
		now:      registry.now,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}

	registry.mu.Lock()
	registry.dispatch = rt.dispatch
	registry.mu.Unlock()

	return rt
}

// Publish fans msg out to every matching subscription.
func (rt *Router) Publish(msg *Message) {
	start := rt.registry.fanOut(msg)

	rt.log.Debug().Str("topic", msg.Topic).Int("push_dispatch", len(start)).Msg("Event published")

	for _, id := range start {
		rt.dispatch(id)
	}
}

// DigitalInputChanged raises a DigitalInput event.
func (rt *Router) DigitalInputChanged(inputToken string, active bool) {
	rt.Publish(NewDigitalInputMessage(inputToken, active, rt.now()))
}

// RelayChanged raises a Relay event.
func (rt *Router) RelayChanged(relayToken string, active bool) {
	rt.Publish(NewRelayMessage(relayToken, active, rt.now()))
}

// MotionChanged raises a MotionAlarm event.
func (rt *Router) MotionChanged(sourceToken string, active bool) {
	rt.Publish(NewMotionMessage(sourceToken, active, rt.now()))
}

// Close stops push dispatchers and waits for in-flight POSTs to finish.
func (rt *Router) Close() {
	rt.cancel()
	rt.wg.Wait()
}

// dispatch drains a push subscription until its queue is empty. The caller
// has already set the subscription's dispatching flag.
func (rt *Router) dispatch(id string) {
	if rt.notifier == nil {
		return
	}

	rt.wg.Add(1)

	go func() {
		defer rt.wg.Done()

		for {
			batch, consumer, reference, ok := rt.registry.nextBatch(id)
			if !ok {
				return
			}

			ctx, cancel := context.WithTimeout(rt.ctx, rt.timeout)
			err := rt.notifier.Notify(ctx, consumer, reference, batch)
			cancel()

			if err != nil {
				rt.log.Warn().Err(err).
					Str("subscription", id).
					Str("consumer", consumer).
					Int("messages", len(batch)).
					Msg("Push delivery failed")

				continue
			}

			rt.log.Debug().Str("subscription", id).Int("messages", len(batch)).Msg("Push delivered")
		}
	}()
}
