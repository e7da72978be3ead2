package prompts

import (
	"context"
	"strings"
	"sync"
	"time"

	"tx/internal/logging"
)

// Clock supplies the current time to the cache.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Source produces the full prompt list.
type Source interface {
	List(ctx context.Context) ([]Prompt, error)
}

// State describes the outcome of the last refresh.
type State string

const (
	StateDisabled    State = "disabled"
	StateReady       State = "ready"
	StateUnavailable State = "unavailable"
)

// Status is reported to the picker and to doctor.
type Status struct {
	State   State
	Count   int
	Message string
	Fetched time.Time
}

// Cache holds the latest Snapshot and refreshes it when older than TTL.
// A failed refresh keeps the previous snapshot.
type Cache struct {
	source    Source
	namespace string
	clock     Clock
	ttl       time.Duration

	mu       sync.Mutex
	snapshot Snapshot
	fetched  time.Time
	lastErr  error
	disabled bool
}

// slowRefresh is how long a catalog refresh may take before it is logged as slow.
const slowRefresh = 2 * time.Second

// NewCache creates a cache over source. A nil source yields a disabled cache
// whose snapshot is always empty.
func NewCache(source Source, namespace string, ttl time.Duration, clock Clock) *Cache {
	if clock == nil {
		clock = SystemClock
	}
	return &Cache{
		source:    source,
		namespace: namespace,
		clock:     clock,
		ttl:       ttl,
		snapshot:  NewSnapshot(namespace, nil),
		disabled:  source == nil,
	}
}

// Snapshot returns the cached catalog, refreshing it first when stale.
func (c *Cache) Snapshot(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled {
		return c.snapshot, nil
	}
	if !c.fetched.IsZero() && c.clock.Now().Sub(c.fetched) < c.ttl {
		logging.PromptsDebug("serving cached catalog (%d prompts, fetched %s)", c.snapshot.Len(), c.fetched.Format(time.TimeOnly))
		return c.snapshot, c.lastErr
	}
	return c.refreshLocked(ctx)
}

// Refresh fetches the catalog regardless of age.
func (c *Cache) Refresh(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled {
		return c.snapshot, nil
	}
	return c.refreshLocked(ctx)
}

func (c *Cache) refreshLocked(ctx context.Context) (Snapshot, error) {
	timer := logging.StartTimer(logging.CategoryPrompts, "prompt catalog refresh")
	prompts, err := c.source.List(ctx)
	timer.StopWithThreshold(slowRefresh)
	c.fetched = c.clock.Now()
	if err != nil {
		c.lastErr = err
		logging.PromptsWarn("prompt assembler unavailable: %v", err)
		return c.snapshot, err
	}
	c.lastErr = nil
	c.snapshot = NewSnapshot(c.namespace, prompts)
	return c.snapshot, nil
}

// Status summarizes the last refresh without triggering one.
func (c *Cache) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.disabled:
		return Status{State: StateDisabled}
	case c.lastErr != nil:
		msg := "prompt assembler unavailable: " + c.lastErr.Error()
		if i := strings.IndexByte(msg, '\n'); i >= 0 {
			msg = msg[:i]
		}
		return Status{State: StateUnavailable, Message: msg, Fetched: c.fetched, Count: c.snapshot.Len()}
	default:
		return Status{State: StateReady, Count: c.snapshot.Len(), Fetched: c.fetched}
	}
}
