package events

import (
	"time"

	"github.com/juju/errors"
)

// compactAfter is how many consumed messages a queue retains for Seek.
const compactAfter = 50

// Mode is how a subscription receives messages.
type Mode int

const (
	ModePull Mode = iota
	ModePush
)

func (m Mode) String() string {
	if m == ModePush {
		return "push"
	}

	return "pull"
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pull":
		*m = ModePull
	case "push":
		*m = ModePush
	default:
		return errors.NotValidf("subscription mode %q", text)
	}

	return nil
}

type waiter struct {
	limit int
	ch    chan []*Message
}

// subscription is guarded by the registry mutex.
type subscription struct {
	id        string
	reference string
	mode      Mode
	consumer  string
	filter    *Filter
	created   time.Time
	expires   time.Time

	// queue[cursor:] is unread; queue[:cursor] is history kept for Seek.
	queue   []*Message
	cursor  int
	waiters []*waiter

	dispatching bool
}

func (s *subscription) expired(now time.Time) bool {
	return now.After(s.expires)
}

func (s *subscription) unread() int {
	return len(s.queue) - s.cursor
}

// enqueue appends msg, dropping the oldest unread message beyond limit.
func (s *subscription) enqueue(msg *Message, limit int) {
	s.queue = append(s.queue, msg)

	if limit > 0 && s.unread() > limit {
		s.cursor++
	}

	s.compact()
}

// take consumes up to limit unread messages; limit <= 0 takes all.
func (s *subscription) take(limit int) []*Message {
	n := s.unread()
	if limit > 0 && limit < n {
		n = limit
	}

	if n == 0 {
		return nil
	}

	out := make([]*Message, n)
	copy(out, s.queue[s.cursor:s.cursor+n])
	s.cursor += n
	s.compact()

	return out
}

func (s *subscription) compact() {
	if s.cursor <= compactAfter {
		return
	}

	s.queue = append([]*Message(nil), s.queue[s.cursor:]...)
	s.cursor = 0
}

// seek moves the cursor to the first retained message at or after t.
func (s *subscription) seek(t time.Time) {
	for i, msg := range s.queue {
		if !msg.UtcTime.Before(t) {
			s.cursor = i
			return
		}
	}

	s.cursor = len(s.queue)
}

// wake hands queued messages to pending pulls in arrival order.
func (s *subscription) wake() {
	for s.unread() > 0 && len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		w.ch <- s.take(w.limit)
	}
}

// release completes every pending pull with an empty result.
func (s *subscription) release() {
	for _, w := range s.waiters {
		w.ch <- nil
	}

	s.waiters = nil
}

// drop removes w if it is still pending.
func (s *subscription) drop(w *waiter) bool {
	for i, cur := range s.waiters {
		if cur == w {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return true
		}
	}

	return false
}
