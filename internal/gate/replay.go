package gate

import (
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/juju/errors"

	"github.com/SridarDhandapani/onvifd/internal/wsse"
)

// DefaultReplayWindow is how long an accepted nonce is remembered.
const DefaultReplayWindow = 5 * time.Minute

// ReplayGuard remembers recently accepted nonces.
type ReplayGuard struct {
	mu     sync.Mutex
	seen   *ristretto.Cache[string, struct{}]
	window time.Duration
}

// NewReplayGuard creates a guard that remembers up to capacity nonces for
// window.
func NewReplayGuard(capacity int64, window time.Duration) (*ReplayGuard, error) {
	if capacity <= 0 {
		capacity = 10000
	}

	if window <= 0 {
		window = DefaultReplayWindow
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters: capacity * 10,
		MaxCost:     capacity,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Annotate(err, "creating nonce cache")
	}

	return &ReplayGuard{seen: cache, window: window}, nil
}

// Admit records the token's nonce and reports whether it was new. Tokens
// without a nonce are always admitted.
func (r *ReplayGuard) Admit(token wsse.UsernameToken) bool {
	if token.Nonce == "" {
		return true
	}

	key := token.Nonce + "|" + token.Created

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, found := r.seen.Get(key); found {
		return false
	}

	r.seen.SetWithTTL(key, struct{}{}, 1, r.window)
	r.seen.Wait()

	return true
}

// Close releases the cache.
func (r *ReplayGuard) Close() {
	r.seen.Close()
}
