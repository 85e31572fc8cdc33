package events

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// Registry defaults.
const (
	DefaultTTL          = 60 * time.Second
	DefaultQueueLimit   = 50
	DefaultPendingLimit = 50
	DefaultSweepEvery   = time.Second
)

// Options tunes a Registry. Zero values select the defaults.
type Options struct {
	DefaultTTL   time.Duration
	QueueLimit   int
	PendingLimit int
	Now          func() time.Time
}

// CreateRequest describes a new subscription.
type CreateRequest struct {
	// BaseAddress is the events service URL the reference is built from.
	BaseAddress        string
	InitialTermination string
	// Delivery is a free-form mode hint; "push" or "http" selects push.
	Delivery        string
	ConsumerAddress string
	Filter          *Filter
}

// Info is a snapshot of one subscription.
type Info struct {
	ID              string    `json:"id"`
	Reference       string    `json:"reference"`
	Mode            Mode      `json:"mode"`
	Consumer        string    `json:"consumer,omitempty"`
	Filter          *Filter   `json:"filter,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	CurrentTime     time.Time `json:"currentTime"`
	TerminationTime time.Time `json:"terminationTime"`
	Queued          int       `json:"queued"`
	Waiting         int       `json:"waiting"`
}

// PullResult is the outcome of a PullMessages call.
type PullResult struct {
	Messages        []*Message
	Reference       string
	CurrentTime     time.Time
	TerminationTime time.Time
}

// Registry owns every live subscription. All state changes happen under one
// mutex; blocked pulls wait outside it.
type Registry struct {
	mu      sync.Mutex
	subs    map[string]*subscription
	pending []*Message

	ttl          time.Duration
	queueLimit   int
	pendingLimit int
	now          func() time.Time

	// dispatch starts push delivery for a subscription; set by the Router.
	dispatch func(id string)

	log zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options, log zerolog.Logger) *Registry {
	r := &Registry{
		subs:         make(map[string]*subscription),
		ttl:          opts.DefaultTTL,
		queueLimit:   opts.QueueLimit,
		pendingLimit: opts.PendingLimit,
		now:          opts.Now,
		log:          log,
	}

	if r.ttl <= 0 {
		r.ttl = DefaultTTL
	}

	if r.queueLimit <= 0 {
		r.queueLimit = DefaultQueueLimit
	}

	if r.pendingLimit <= 0 {
		r.pendingLimit = DefaultPendingLimit
	}

	if r.now == nil {
		r.now = time.Now
	}

	return r
}

// Run sweeps expired subscriptions until ctx is done.
func (r *Registry) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = DefaultSweepEvery
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			r.sweep(r.now())
			r.mu.Unlock()
		}
	}
}

// Create registers a subscription and replays events buffered while nobody
// was subscribed.
func (r *Registry) Create(req CreateRequest) (Info, error) {
	mode := ModePull

	hint := strings.ToLower(req.Delivery)
	if strings.Contains(hint, "push") || strings.Contains(hint, "http") || req.ConsumerAddress != "" {
		mode = ModePush
	}

	if mode == ModePush && strings.TrimSpace(req.ConsumerAddress) == "" {
		return Info{}, errors.NotValidf("push subscription without consumer address")
	}

	id, err := uuid.NewV4()
	if err != nil {
		return Info{}, errors.Annotate(err, "generating subscription id")
	}

	r.mu.Lock()

	now := r.now()
	r.sweep(now)

	expires, err := ResolveTermination(req.InitialTermination, now, r.ttl)
	if err != nil {
		r.mu.Unlock()
		return Info{}, err
	}

	sub := &subscription{
		id:        id.String(),
		reference: FormatReference(req.BaseAddress, id.String()),
		mode:      mode,
		consumer:  strings.TrimSpace(req.ConsumerAddress),
		filter:    req.Filter,
		created:   now,
		expires:   expires,
	}

	for _, msg := range r.pending {
		if sub.filter.Matches(msg.Topic) {
			sub.enqueue(msg, r.queueLimit)
		}
	}

	replayed := sub.unread()
	r.pending = nil
	r.subs[sub.id] = sub

	start := mode == ModePush && replayed > 0
	if start {
		sub.dispatching = true
	}

	info := r.info(sub, now)
	dispatch := r.dispatch
	r.mu.Unlock()

	r.log.Info().
		Str("subscription", sub.id).
		Stringer("mode", mode).
		Str("consumer", sub.consumer).
		Time("expires", expires).
		Int("replayed", replayed).
		Msg("Subscription created")

	if start && dispatch != nil {
		dispatch(sub.id)
	}

	return info, nil
}

// Pull returns queued messages, waiting up to timeout for the first one.
// The wait never outlives the subscription and ends early with an empty
// result if the subscription is deleted.
func (r *Registry) Pull(ctx context.Context, id string, timeout time.Duration, limit int) (*PullResult, error) {
	r.mu.Lock()

	now := r.now()

	sub, err := r.live(id, now)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	if sub.mode == ModePush {
		r.mu.Unlock()
		return nil, errors.NotSupportedf("PullMessages on push subscription %q", id)
	}

	if msgs := sub.take(limit); len(msgs) > 0 || timeout <= 0 {
		res := r.result(sub, msgs, now)
		r.mu.Unlock()

		return res, nil
	}

	if remaining := sub.expires.Sub(now); timeout > remaining {
		timeout = remaining
	}

	w := &waiter{limit: limit, ch: make(chan []*Message, 1)}
	sub.waiters = append(sub.waiters, w)
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var msgs []*Message

	select {
	case msgs = <-w.ch:
	case <-timer.C:
		msgs = r.abandon(sub, w)
	case <-ctx.Done():
		if lost := r.abandon(sub, w); len(lost) > 0 {
			r.log.Warn().Str("subscription", id).Int("messages", len(lost)).Msg("Pull cancelled after delivery")
		}

		return nil, ctx.Err()
	}

	r.mu.Lock()
	res := r.result(sub, msgs, r.now())
	r.mu.Unlock()

	return res, nil
}

// abandon withdraws a pending pull. If the pull was already resolved its
// messages are returned.
func (r *Registry) abandon(sub *subscription, w *waiter) []*Message {
	r.mu.Lock()
	pending := sub.drop(w)
	r.mu.Unlock()

	if pending {
		return nil
	}

	return <-w.ch
}

// Renew moves the expiry of a live subscription.
func (r *Registry) Renew(id, termination string) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	sub, err := r.live(id, now)
	if err != nil {
		return Info{}, err
	}

	expires, err := ResolveTermination(termination, now, r.ttl)
	if err != nil {
		return Info{}, err
	}

	sub.expires = expires
	r.log.Debug().Str("subscription", id).Time("expires", expires).Msg("Subscription renewed")

	return r.info(sub, now), nil
}

// Unsubscribe deletes a live subscription and releases its pending pulls.
func (r *Registry) Unsubscribe(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, err := r.live(id, r.now())
	if err != nil {
		return err
	}

	r.remove(sub)
	r.log.Info().Str("subscription", id).Msg("Subscription deleted")

	return nil
}

// Seek positions a pull subscription at the first message at or after t.
func (r *Registry) Seek(id string, t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, err := r.pullOnly(id, "Seek")
	if err != nil {
		return err
	}

	sub.seek(t)

	return nil
}

// SetSynchronizationPoint skips a pull subscription to the end of its queue.
func (r *Registry) SetSynchronizationPoint(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, err := r.pullOnly(id, "SetSynchronizationPoint")
	if err != nil {
		return err
	}

	sub.cursor = len(sub.queue)

	return nil
}

// Get returns a snapshot of a live subscription.
func (r *Registry) Get(id string) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	sub, err := r.live(id, now)
	if err != nil {
		return Info{}, err
	}

	return r.info(sub, now), nil
}

// List returns snapshots of every live subscription, oldest first.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sweep(now)

	out := make([]Info, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, r.info(sub, now))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out
}

// Pending returns how many events are buffered for the next subscriber.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.pending)
}

// fanOut queues msg on every matching subscription, or buffers it when
// nobody is subscribed. It returns push subscriptions that need a
// dispatcher started.
func (r *Registry) fanOut(msg *Message) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweep(r.now())

	if len(r.subs) == 0 {
		r.pending = append(r.pending, msg)
		if len(r.pending) > r.pendingLimit {
			r.pending = r.pending[len(r.pending)-r.pendingLimit:]
		}

		return nil
	}

	var start []string

	for _, sub := range r.subs {
		if !sub.filter.Matches(msg.Topic) {
			continue
		}

		sub.enqueue(msg, r.queueLimit)

		switch {
		case sub.mode == ModePull:
			sub.wake()
		case !sub.dispatching:
			sub.dispatching = true
			start = append(start, sub.id)
		}
	}

	return start
}

// nextBatch hands a push dispatcher everything unread. When nothing is left
// it clears the dispatching flag and reports false.
func (r *Registry) nextBatch(id string) (batch []*Message, consumer, reference string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, found := r.subs[id]
	if !found {
		return nil, "", "", false
	}

	if sub.unread() == 0 {
		sub.dispatching = false
		return nil, "", "", false
	}

	return sub.take(0), sub.consumer, sub.reference, true
}

func (r *Registry) live(id string, now time.Time) (*subscription, error) {
	r.sweep(now)

	sub, ok := r.subs[id]
	if !ok {
		return nil, errors.NotFoundf("subscription %q", id)
	}

	return sub, nil
}

func (r *Registry) pullOnly(id, operation string) (*subscription, error) {
	sub, err := r.live(id, r.now())
	if err != nil {
		return nil, err
	}

	if sub.mode != ModePull {
		return nil, errors.NotSupportedf("%s on push subscription %q", operation, id)
	}

	return sub, nil
}

func (r *Registry) sweep(now time.Time) {
	for _, sub := range r.subs {
		if sub.expired(now) {
			r.remove(sub)
			r.log.Info().Str("subscription", sub.id).Msg("Subscription expired")
		}
	}
}

func (r *Registry) remove(sub *subscription) {
	sub.release()
	delete(r.subs, sub.id)
}

func (r *Registry) info(sub *subscription, now time.Time) Info {
	return Info{
		ID:              sub.id,
		Reference:       sub.reference,
		Mode:            sub.mode,
		Consumer:        sub.consumer,
		Filter:          sub.filter,
		CreatedAt:       sub.created,
		CurrentTime:     now,
		TerminationTime: sub.expires,
		Queued:          sub.unread(),
		Waiting:         len(sub.waiters),
	}
}

func (r *Registry) result(sub *subscription, msgs []*Message, now time.Time) *PullResult {
	return &PullResult{
		Messages:        msgs,
		Reference:       sub.reference,
		CurrentTime:     now,
		TerminationTime: sub.expires,
	}
}
