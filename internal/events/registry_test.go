package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = "http://127.0.0.1:8081/onvif/events_service"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func newRegistry(t *testing.T) (*Registry, *Router) {
	t.Helper()

	reg := NewRegistry(Options{}, zerolog.Nop())
	rt := NewRouter(reg, nil, 0, zerolog.Nop())
	t.Cleanup(rt.Close)

	return reg, rt
}

func createPull(t *testing.T, reg *Registry, filter *Filter) Info {
	t.Helper()

	info, err := reg.Create(CreateRequest{BaseAddress: base, Filter: filter})
	require.NoError(t, err)

	return info
}

func topics(msgs []*Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Topic)
	}

	return out
}

func TestCreatePullSubscription(t *testing.T) {
	reg, _ := newRegistry(t)

	info := createPull(t, reg, nil)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, ModePull, info.Mode)
	assert.Equal(t, base+"?subscription="+info.ID, info.Reference)
	assert.Equal(t, DefaultTTL, info.TerminationTime.Sub(info.CurrentTime))

	other := createPull(t, reg, nil)
	assert.NotEqual(t, info.ID, other.ID)
	assert.Len(t, reg.List(), 2)
}

func TestCreateModeSelection(t *testing.T) {
	reg, _ := newRegistry(t)

	_, err := reg.Create(CreateRequest{BaseAddress: base, Delivery: "Push"})
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = reg.Create(CreateRequest{BaseAddress: base, Delivery: "http"})
	assert.True(t, errors.Is(err, errors.NotValid))

	info, err := reg.Create(CreateRequest{BaseAddress: base, ConsumerAddress: "http://consumer/notify"})
	require.NoError(t, err)
	assert.Equal(t, ModePush, info.Mode)
	assert.Equal(t, "http://consumer/notify", info.Consumer)
}

func TestCreateRejectsPastTermination(t *testing.T) {
	reg, _ := newRegistry(t)

	_, err := reg.Create(CreateRequest{BaseAddress: base, InitialTermination: "2000-01-01T00:00:00Z"})
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = reg.Create(CreateRequest{BaseAddress: base, InitialTermination: "PT0S"})
	assert.True(t, errors.Is(err, errors.NotValid))
	assert.Empty(t, reg.List())
}

func TestPullReturnsQueuedImmediately(t *testing.T) {
	reg, rt := newRegistry(t)
	info := createPull(t, reg, nil)

	rt.DigitalInputChanged("input1", true)
	rt.RelayChanged("Relay0", true)
	rt.MotionChanged("VideoSource_1", true)

	res, err := reg.Pull(context.Background(), info.ID, time.Minute, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{TopicDigitalInput, TopicRelay}, topics(res.Messages))
	assert.Equal(t, info.Reference, res.Reference)

	res, err = reg.Pull(context.Background(), info.ID, time.Minute, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{TopicMotionAlarm}, topics(res.Messages))
}

func TestPullTimesOutEmpty(t *testing.T) {
	reg, _ := newRegistry(t)
	info := createPull(t, reg, nil)

	start := time.Now()
	res, err := reg.Pull(context.Background(), info.ID, 50*time.Millisecond, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Messages)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 0, mustGet(t, reg, info.ID).Waiting)
}

func TestPullWakesOnPublish(t *testing.T) {
	reg, rt := newRegistry(t)
	info := createPull(t, reg, nil)

	done := make(chan *PullResult, 1)

	go func() {
		res, err := reg.Pull(context.Background(), info.ID, 5*time.Second, 0)
		assert.NoError(t, err)
		done <- res
	}()

	require.Eventually(t, func() bool { return mustGet(t, reg, info.ID).Waiting == 1 }, time.Second, time.Millisecond)
	rt.DigitalInputChanged("input3", true)

	select {
	case res := <-done:
		require.Len(t, res.Messages, 1)
		assert.Equal(t, []SimpleItem{{Name: "InputToken", Value: "input3"}}, res.Messages[0].Source)
	case <-time.After(2 * time.Second):
		t.Fatal("pull was not woken")
	}
}

func TestWaitersResolvedInOrder(t *testing.T) {
	reg, rt := newRegistry(t)
	info := createPull(t, reg, nil)

	first := make(chan []*Message, 1)
	second := make(chan []*Message, 1)

	go func() {
		res, _ := reg.Pull(context.Background(), info.ID, 5*time.Second, 1)
		first <- res.Messages
	}()

	require.Eventually(t, func() bool { return mustGet(t, reg, info.ID).Waiting == 1 }, time.Second, time.Millisecond)

	go func() {
		res, _ := reg.Pull(context.Background(), info.ID, 5*time.Second, 1)
		second <- res.Messages
	}()

	require.Eventually(t, func() bool { return mustGet(t, reg, info.ID).Waiting == 2 }, time.Second, time.Millisecond)

	rt.RelayChanged("Relay0", true)
	rt.RelayChanged("Relay1", true)

	assert.Equal(t, "Relay0", (<-first)[0].Source[0].Value)
	assert.Equal(t, "Relay1", (<-second)[0].Source[0].Value)
}

func TestUnsubscribeReleasesWaiters(t *testing.T) {
	reg, _ := newRegistry(t)
	info := createPull(t, reg, nil)

	done := make(chan *PullResult, 1)

	go func() {
		res, err := reg.Pull(context.Background(), info.ID, 10*time.Second, 0)
		assert.NoError(t, err)
		done <- res
	}()

	require.Eventually(t, func() bool { return mustGet(t, reg, info.ID).Waiting == 1 }, time.Second, time.Millisecond)
	require.NoError(t, reg.Unsubscribe(info.ID))

	select {
	case res := <-done:
		assert.Empty(t, res.Messages)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not released")
	}

	_, err := reg.Pull(context.Background(), info.ID, 0, 0)
	assert.True(t, errors.Is(err, errors.NotFound))
	assert.True(t, errors.Is(reg.Unsubscribe(info.ID), errors.NotFound))
}

func TestPullCancelledByContext(t *testing.T) {
	reg, _ := newRegistry(t)
	info := createPull(t, reg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := reg.Pull(ctx, info.ID, 10*time.Second, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, mustGet(t, reg, info.ID).Waiting)
}

func TestPullTimeoutClampedToLifetime(t *testing.T) {
	reg, _ := newRegistry(t)

	info, err := reg.Create(CreateRequest{BaseAddress: base, InitialTermination: "PT0.1S"})
	require.NoError(t, err)

	start := time.Now()
	res, err := reg.Pull(context.Background(), info.ID, time.Minute, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Messages)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExpiry(t *testing.T) {
	clk := &clock{now: epoch}
	reg := NewRegistry(Options{DefaultTTL: 10 * time.Second, Now: clk.Now}, zerolog.Nop())

	info := createPull(t, reg, nil)
	assert.Equal(t, epoch.Add(10*time.Second), info.TerminationTime)

	clk.Advance(5 * time.Second)
	renewed, err := reg.Renew(info.ID, "PT10S")
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(15*time.Second), renewed.TerminationTime)
	assert.Equal(t, info.ID, renewed.ID)

	_, err = reg.Renew(info.ID, "2025-03-01T12:00:01Z")
	assert.True(t, errors.Is(err, errors.NotValid))

	clk.Advance(11 * time.Second)

	_, err = reg.Pull(context.Background(), info.ID, 0, 0)
	assert.True(t, errors.Is(err, errors.NotFound))

	_, err = reg.Renew(info.ID, "PT10S")
	assert.True(t, errors.Is(err, errors.NotFound))
	assert.Empty(t, reg.List())
}

func TestRenewKeepsQueue(t *testing.T) {
	reg, rt := newRegistry(t)
	info := createPull(t, reg, nil)

	rt.RelayChanged("Relay2", false)

	_, err := reg.Renew(info.ID, "PT5M")
	require.NoError(t, err)

	res, err := reg.Pull(context.Background(), info.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, res.Messages, 1)
}

func TestSweepReleasesWaiters(t *testing.T) {
	clk := &clock{now: time.Now()}
	reg := NewRegistry(Options{DefaultTTL: time.Hour, Now: clk.Now}, zerolog.Nop())
	info := createPull(t, reg, nil)

	done := make(chan *PullResult, 1)

	go func() {
		res, _ := reg.Pull(context.Background(), info.ID, 10*time.Second, 0)
		done <- res
	}()

	require.Eventually(t, func() bool { return mustGet(t, reg, info.ID).Waiting == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk.Advance(2 * time.Hour)

	go reg.Run(ctx, 5*time.Millisecond)

	select {
	case res := <-done:
		assert.Empty(t, res.Messages)
	case <-time.After(2 * time.Second):
		t.Fatal("expired waiter not released")
	}
}

func TestFilteredFanOut(t *testing.T) {
	reg, rt := newRegistry(t)

	inputs := createPull(t, reg, NewFilter(DialectConcreteSet, TopicDigitalInput))
	all := createPull(t, reg, nil)
	xpath := createPull(t, reg, NewFilter("urn:unsupported", TopicDigitalInput))

	rt.DigitalInputChanged("input1", true)
	rt.RelayChanged("Relay0", true)

	res, err := reg.Pull(context.Background(), inputs.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{TopicDigitalInput}, topics(res.Messages))

	res, err = reg.Pull(context.Background(), all.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{TopicDigitalInput, TopicRelay}, topics(res.Messages))

	res, err = reg.Pull(context.Background(), xpath.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Messages)
}

func TestQueueDropsOldest(t *testing.T) {
	reg := NewRegistry(Options{QueueLimit: 3}, zerolog.Nop())
	rt := NewRouter(reg, nil, 0, zerolog.Nop())
	t.Cleanup(rt.Close)

	info := createPull(t, reg, nil)

	for _, token := range []string{"r1", "r2", "r3", "r4", "r5"} {
		rt.RelayChanged(token, true)
	}

	res, err := reg.Pull(context.Background(), info.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, res.Messages, 3)
	assert.Equal(t, "r3", res.Messages[0].Source[0].Value)
	assert.Equal(t, "r5", res.Messages[2].Source[0].Value)
}

func TestPendingEventsReplayedIntoFirstSubscription(t *testing.T) {
	reg := NewRegistry(Options{PendingLimit: 2}, zerolog.Nop())
	rt := NewRouter(reg, nil, 0, zerolog.Nop())
	t.Cleanup(rt.Close)

	rt.RelayChanged("r1", true)
	rt.DigitalInputChanged("input1", true)
	rt.DigitalInputChanged("input2", true)
	assert.Equal(t, 2, reg.Pending())

	first := createPull(t, reg, NewFilter("", TopicDigitalInput))
	assert.Equal(t, 2, first.Queued)
	assert.Equal(t, 0, reg.Pending())

	second := createPull(t, reg, nil)
	assert.Equal(t, 0, second.Queued)

	res, err := reg.Pull(context.Background(), first.ID, 0, 0)
	require.NoError(t, err)

	require.Len(t, res.Messages, 2)
	assert.Equal(t, "input1", res.Messages[0].Source[0].Value)
	assert.Equal(t, "input2", res.Messages[1].Source[0].Value)
}

func TestSeekAndSynchronizationPoint(t *testing.T) {
	clk := &clock{now: epoch}
	reg := NewRegistry(Options{Now: clk.Now}, zerolog.Nop())
	rt := NewRouter(reg, nil, 0, zerolog.Nop())
	t.Cleanup(rt.Close)

	info := createPull(t, reg, nil)

	rt.RelayChanged("r1", true)
	clk.Advance(time.Second)
	rt.RelayChanged("r2", true)
	clk.Advance(time.Second)
	rt.RelayChanged("r3", true)

	res, err := reg.Pull(context.Background(), info.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, res.Messages, 3)

	require.NoError(t, reg.Seek(info.ID, epoch.Add(time.Second)))

	res, err = reg.Pull(context.Background(), info.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, res.Messages, 2)

	rt.RelayChanged("r4", true)
	require.NoError(t, reg.SetSynchronizationPoint(info.ID))

	res, err = reg.Pull(context.Background(), info.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Messages)

	require.NoError(t, reg.Seek(info.ID, epoch.Add(time.Hour)))
	assert.Equal(t, 0, mustGet(t, reg, info.ID).Queued)

	assert.True(t, errors.Is(reg.Seek("missing", epoch), errors.NotFound))
}

func TestPushSubscriptionRejectsPullOperations(t *testing.T) {
	reg, _ := newRegistry(t)

	info, err := reg.Create(CreateRequest{BaseAddress: base, ConsumerAddress: "http://consumer/"})
	require.NoError(t, err)

	_, err = reg.Pull(context.Background(), info.ID, 0, 0)
	assert.True(t, errors.Is(err, errors.NotSupported))
	assert.True(t, errors.Is(reg.Seek(info.ID, epoch), errors.NotSupported))
	assert.True(t, errors.Is(reg.SetSynchronizationPoint(info.ID), errors.NotSupported))
}

func TestCompactionKeepsOrder(t *testing.T) {
	reg, rt := newRegistry(t)
	info := createPull(t, reg, nil)

	for i := 0; i < 3*compactAfter; i++ {
		rt.RelayChanged("r", i%2 == 0)

		res, err := reg.Pull(context.Background(), info.ID, 0, 0)
		require.NoError(t, err)
		require.Len(t, res.Messages, 1)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	sub := reg.subs[info.ID]
	assert.LessOrEqual(t, sub.cursor, compactAfter)
	assert.Equal(t, len(sub.queue), sub.cursor)
}

func mustGet(t *testing.T, reg *Registry, id string) Info {
	t.Helper()

	info, err := reg.Get(id)
	require.NoError(t, err)

	return info
}
