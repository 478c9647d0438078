// Package keyalloc hands out cluster-wide unique tunnel keys from a counter
// kept in the northbound store.
package keyalloc

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
)

// ErrVersionConflict is returned by a Counter when the version guarding a
// conditional write no longer matches the stored one.
var ErrVersionConflict = errors.New("counter version conflict")

// Version is the opaque token a store returns with a counter read. Zero
// means the counter does not exist yet.
type Version int64

// Counter is the slice of the northbound store the allocator needs.
type Counter interface {
	// ReadCounter returns the current counter value and its version. A
	// missing counter reads as value 0 with version 0.
	ReadCounter(ctx context.Context) (uint64, Version, error)
	// CompareAndSwapCounter stores next only if the counter still has the
	// given version, and returns ErrVersionConflict otherwise.
	CompareAndSwapCounter(ctx context.Context, version Version, next uint64) error
}

// Allocator allocates monotonically increasing keys with optimistic
// concurrency against a shared Counter.
type Allocator struct {
	counter Counter
	logger  zerolog.Logger
}

// NewAllocator creates an allocator over the given counter
func NewAllocator(counter Counter) *Allocator {
	return &Allocator{
		counter: counter,
		logger:  log.WithComponent("keyalloc"),
	}
}

// Allocate returns the next key. Version conflicts with concurrent
// allocators are retried without limit; any other store error aborts the
// allocation with nothing written.
func (a *Allocator) Allocate(ctx context.Context) (uint64, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		current, version, err := a.counter.ReadCounter(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to read key counter: %w", err)
		}

		next := current + 1
		err = a.counter.CompareAndSwapCounter(ctx, version, next)
		if err == nil {
			metrics.KeyAllocationsTotal.Inc()
			a.logger.Debug().
				Uint64("key", next).
				Int("attempts", attempt).
				Msg("allocated tunnel key")
			return next, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return 0, fmt.Errorf("failed to write key counter: %w", err)
		}

		metrics.KeyAllocationConflictsTotal.Inc()
	}
}
