// Package alarm watches digital alarm inputs and reports debounced state
// changes.
package alarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

const (
	// MaxChannels is the number of alarm inputs the device exposes.
	MaxChannels = 4

	DefaultPollInterval = 200 * time.Millisecond
	DefaultDebounce     = 200 * time.Millisecond

	// MinPollInterval bounds how often a source is read.
	MinPollInterval = time.Millisecond
)

// ChannelConfig describes one alarm input. A nil Source makes the channel
// simulated: it never polls and only changes through Monitor.Simulate.
// Durations are used as given: a zero Debounce commits every change at once
// and a PollInterval below MinPollInterval is raised to it.
type ChannelConfig struct {
	ID           string
	Source       Source
	PollInterval time.Duration
	Debounce     time.Duration
	ActiveHigh   bool
}

// ChannelStatus is a point-in-time view of a channel.
type ChannelStatus struct {
	ID        string `json:"id"`
	Simulated bool   `json:"simulated"`
	Known     bool   `json:"known"`
	Active    bool   `json:"active"`
}

// Handler receives committed state changes. It runs on the channel's
// goroutine.
type Handler func(channelID string, active bool)

// DefaultChannels returns simulated channels input1..inputN.
func DefaultChannels() []ChannelConfig {
	configs := make([]ChannelConfig, 0, MaxChannels)
	for i := 1; i <= MaxChannels; i++ {
		configs = append(configs, ChannelConfig{
			ID:           DefaultChannelID(i),
			PollInterval: DefaultPollInterval,
			Debounce:     DefaultDebounce,
			ActiveHigh:   true,
		})
	}

	return configs
}

// DefaultChannelID names the index-th (1-based) channel.
func DefaultChannelID(index int) string {
	return fmt.Sprintf("input%d", index)
}

// Monitor runs one goroutine per alarm channel.
type Monitor struct {
	channels []*channel
	byID     map[string]*channel
	handler  Handler
	log      zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor prepares channels from configs. Without configs the default
// simulated channels are used; configs beyond MaxChannels are ignored.
func NewMonitor(configs []ChannelConfig, handler Handler, log zerolog.Logger) *Monitor {
	if len(configs) == 0 {
		configs = DefaultChannels()
	}

	if len(configs) > MaxChannels {
		log.Warn().Int("configured", len(configs)).Int("max", MaxChannels).Msg("Ignoring extra alarm inputs")
		configs = configs[:MaxChannels]
	}

	m := &Monitor{
		byID:    make(map[string]*channel, len(configs)),
		handler: handler,
		log:     log,
	}

	for i, cfg := range configs {
		if cfg.ID == "" {
			cfg.ID = DefaultChannelID(i + 1)
		}

		if cfg.PollInterval < MinPollInterval {
			cfg.PollInterval = MinPollInterval
		}

		if cfg.Debounce < 0 {
			cfg.Debounce = 0
		}

		ch := &channel{cfg: cfg, samples: make(chan bool, 8)}
		m.channels = append(m.channels, ch)
		m.byID[cfg.ID] = ch
	}

	return m
}

// Start launches the channel goroutines. Calling Start twice is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	for _, ch := range m.channels {
		log := m.log.With().Str("channel", ch.cfg.ID).Logger()

		if ch.cfg.Source == nil {
			log.Info().Msg("Alarm input is simulated")
		} else {
			log.Info().Dur("poll", ch.cfg.PollInterval).Dur("debounce", ch.cfg.Debounce).
				Bool("active_high", ch.cfg.ActiveHigh).Msg("Watching alarm input")
		}

		m.wg.Add(1)

		go func(ch *channel) {
			defer m.wg.Done()
			ch.run(ctx, m.emit, log)
		}(ch)
	}
}

// Stop terminates every channel goroutine and waits for them.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	close(done)
	m.wg.Wait()
}

// Simulate feeds a logical sample into a channel's debounce path.
func (m *Monitor) Simulate(channelID string, active bool) error {
	ch, ok := m.byID[channelID]
	if !ok {
		return errors.NotFoundf("alarm input %q", channelID)
	}

	m.mu.Lock()
	done := m.done
	m.mu.Unlock()

	if done == nil {
		return errors.NotValidf("alarm monitor not running; input %q", channelID)
	}

	select {
	case ch.samples <- active:
		return nil
	case <-done:
		return errors.NotValidf("alarm monitor stopped; input %q", channelID)
	}
}

// Channels reports the current state of every channel in configuration order.
func (m *Monitor) Channels() []ChannelStatus {
	out := make([]ChannelStatus, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch.status())
	}

	return out
}

func (m *Monitor) emit(channelID string, active bool) {
	m.log.Info().Str("channel", channelID).Bool("active", active).Msg("Alarm input changed")

	if m.handler != nil {
		m.handler(channelID, active)
	}
}

type channel struct {
	cfg     ChannelConfig
	samples chan bool

	// state is written by the channel goroutine only.
	mu     sync.Mutex
	known  bool
	stable bool
}

func (c *channel) status() ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ChannelStatus{
		ID:        c.cfg.ID,
		Simulated: c.cfg.Source == nil,
		Known:     c.known,
		Active:    c.stable,
	}
}

func (c *channel) run(ctx context.Context, emit Handler, log zerolog.Logger) {
	var (
		tick    <-chan time.Time
		timer   *time.Timer
		fire    <-chan time.Time
		pending bool
	)

	sample := func(active bool) {
		if fire != nil && active == pending {
			return
		}

		pending = active

		if timer != nil {
			timer.Stop()
		}

		timer = time.NewTimer(c.cfg.Debounce)
		fire = timer.C
	}

	poll := func() {
		raw, err := c.cfg.Source.Read()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to read alarm input")
			return
		}

		sample(raw == c.cfg.ActiveHigh)
	}

	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	if c.cfg.Source != nil {
		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()

		tick = ticker.C

		// The first sample is taken without waiting a full interval.
		poll()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			poll()
		case active := <-c.samples:
			sample(active)
		case <-fire:
			timer, fire = nil, nil

			if c.commit(pending) {
				emit(c.cfg.ID, pending)
			}
		}
	}
}

// commit stores state as the stable value and reports whether it changed.
func (c *channel) commit(state bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.known && c.stable == state {
		return false
	}

	c.known = true
	c.stable = state

	return true
}
