package recon

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// DedupStore durably records webhook deliveries. MarkSeen returns true when
// the id was recorded for the first time.
type DedupStore interface {
	MarkSeen(ctx context.Context, source, id string) (first bool, err error)
}

// Deduper answers "is this the first delivery of this event?". A bloom
// filter short-circuits retried deliveries this process already handled
// without a store round trip; everything else is settled by the durable
// store. Dedup gates only duplicate event publication, so the filter's false
// positive rate is tolerable.
type Deduper struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	store  DedupStore
}

// NewDeduper creates a Deduper sized for the expected number of distinct
// webhook deliveries between restarts.
func NewDeduper(store DedupStore, expected uint, fpRate float64) *Deduper {
	return &Deduper{
		filter: bloom.NewWithEstimates(expected, fpRate),
		store:  store,
	}
}

// FirstDelivery reports whether the (source, id) pair is new. Store errors
// fail open: a duplicate publication is preferable to a dropped one.
func (d *Deduper) FirstDelivery(ctx context.Context, source, id string) bool {
	if id == "" {
		return true
	}
	key := []byte(source + ":" + id)

	d.mu.Lock()
	seen := d.filter.TestAndAdd(key)
	d.mu.Unlock()
	if seen {
		return false
	}

	first, err := d.store.MarkSeen(ctx, source, id)
	if err != nil {
		return true
	}
	return first
}
