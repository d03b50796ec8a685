package amc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/banshee-data/collar.amc/internal/fence"
	"github.com/banshee-data/collar.amc/internal/gnssfix"
)

// ErrCacheTimeout is returned when a cache lock could not be taken in time.
// The caller skips the cycle and tries again on the next one.
var ErrCacheTimeout = errors.New("cache lock timeout")

// acquire takes sem within timeout.
func acquire(ctx context.Context, sem *semaphore.Weighted, timeout time.Duration) error {
	if timeout <= 0 {
		if !sem.TryAcquire(1) {
			return ErrCacheTimeout
		}
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := sem.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrCacheTimeout
		}
		return err
	}
	return nil
}

// PastureCache holds the active pasture. Readers and the swapper are
// serialised by a weight-one semaphore so a distance computation never
// sees a half-installed pasture.
type PastureCache struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	pasture *fence.Pasture
}

// NewPastureCache returns an empty cache whose lock waits at most timeout.
func NewPastureCache(timeout time.Duration) *PastureCache {
	return &PastureCache{sem: semaphore.NewWeighted(1), timeout: timeout}
}

// View calls fn with the current pasture, which may be nil. fn must not
// retain the pointer.
func (c *PastureCache) View(ctx context.Context, fn func(*fence.Pasture) error) error {
	if err := acquire(ctx, c.sem, c.timeout); err != nil {
		return fmt.Errorf("pasture view: %w", err)
	}
	defer c.sem.Release(1)
	return fn(c.pasture)
}

// Swap replaces the pasture and returns the previous one.
func (c *PastureCache) Swap(ctx context.Context, p *fence.Pasture) (*fence.Pasture, error) {
	if err := acquire(ctx, c.sem, c.timeout); err != nil {
		return nil, fmt.Errorf("pasture swap: %w", err)
	}
	defer c.sem.Release(1)
	prev := c.pasture
	c.pasture = p
	return prev, nil
}

// CachedFix is the content of the fix cache.
type CachedFix struct {
	Fix gnssfix.Fix
	// OK is set once any record has been stored.
	OK bool
	// TimedOut is set by a receiver timeout and cleared by the next record.
	TimedOut bool
}

// FixCache holds the latest record from the receiver driver.
type FixCache struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	cached  CachedFix
}

// NewFixCache returns an empty cache whose lock waits at most timeout.
func NewFixCache(timeout time.Duration) *FixCache {
	return &FixCache{sem: semaphore.NewWeighted(1), timeout: timeout}
}

// Store publishes f and clears the timed-out flag.
func (c *FixCache) Store(ctx context.Context, f gnssfix.Fix) error {
	if err := acquire(ctx, c.sem, c.timeout); err != nil {
		return fmt.Errorf("fix store: %w", err)
	}
	c.cached = CachedFix{Fix: f, OK: true}
	c.sem.Release(1)
	return nil
}

// MarkTimeout records a receiver timeout.
func (c *FixCache) MarkTimeout(ctx context.Context) error {
	if err := acquire(ctx, c.sem, c.timeout); err != nil {
		return fmt.Errorf("fix timeout: %w", err)
	}
	c.cached.TimedOut = true
	c.sem.Release(1)
	return nil
}

// Load returns a copy of the cache.
func (c *FixCache) Load(ctx context.Context) (CachedFix, error) {
	if err := acquire(ctx, c.sem, c.timeout); err != nil {
		return CachedFix{}, fmt.Errorf("fix load: %w", err)
	}
	out := c.cached
	c.sem.Release(1)
	return out, nil
}
