package reconcile

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/mstgnz/donatepay/provider"
)

// TemporaryPayment is a payment the process learned about and still expects to resolve
type TemporaryPayment struct {
	PaymentID     string                `json:"paymentId"`
	TransactionID string                `json:"transactionId"`
	Provider      provider.ProviderType `json:"provider,omitempty"`
	DiscoveredAt  time.Time             `json:"discoveredAt"`
	Status        provider.Outcome      `json:"status"`
}

// CacheStats represents cache metrics
type CacheStats struct {
	Size      int   `json:"size"`
	MaxSize   int   `json:"maxSize"`
	Evictions int64 `json:"evictions"`
	Swept     int64 `json:"swept"`
}

// PendingCache holds TemporaryPayments keyed by payment id. It is bounded:
// inserting into a full cache evicts the oldest tenth first.
type PendingCache struct {
	entries map[string]*TemporaryPayment
	maxSize int
	mu      sync.RWMutex

	evictions int64
	swept     int64
}

// NewPendingCache creates a cache holding at most maxSize entries
func NewPendingCache(maxSize int) *PendingCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &PendingCache{
		entries: make(map[string]*TemporaryPayment),
		maxSize: maxSize,
	}
}

// Add stores an entry. Re-adding a known payment keeps the earliest discovery time.
func (c *PendingCache) Add(entry TemporaryPayment) {
	if entry.Status == "" {
		entry.Status = provider.OutcomePending
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[entry.PaymentID]; ok {
		if existing.DiscoveredAt.Before(entry.DiscoveredAt) {
			entry.DiscoveredAt = existing.DiscoveredAt
		}
		*existing = entry
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldestUnsafe()
	}
	c.entries[entry.PaymentID] = &entry
}

// Get returns a copy of the entry for a payment
func (c *PendingCache) Get(paymentID string) (TemporaryPayment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[paymentID]
	if !ok {
		return TemporaryPayment{}, false
	}
	return *entry, true
}

// Remove deletes an entry, reporting whether it existed
func (c *PendingCache) Remove(paymentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[paymentID]; !ok {
		return false
	}
	delete(c.entries, paymentID)
	return true
}

// Snapshot returns copies of all entries, oldest discovery first
func (c *PendingCache) Snapshot() []TemporaryPayment {
	c.mu.RLock()
	out := make([]TemporaryPayment, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DiscoveredAt.Before(out[j].DiscoveredAt) })
	return out
}

// IDs returns the ids of all cached payments
func (c *PendingCache) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}

// Size returns the current number of cached entries
func (c *PendingCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns cache statistics
func (c *PendingCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		Size:      len(c.entries),
		MaxSize:   c.maxSize,
		Evictions: c.evictions,
		Swept:     c.swept,
	}
}

// Sweep removes entries discovered more than maxAge before now and entries
// that are no longer pending. It returns how many were removed.
func (c *PendingCache) Sweep(now time.Time, maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stale []string
	for id, e := range c.entries {
		if e.Status != provider.OutcomePending || now.Sub(e.DiscoveredAt) > maxAge {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(c.entries, id)
	}
	c.swept += int64(len(stale))
	return len(stale)
}

// evictOldestUnsafe removes the oldest ~10% of entries. A bounded max-heap
// collects the victims so the whole cache is never sorted. Must be called with lock held.
func (c *PendingCache) evictOldestUnsafe() {
	n := len(c.entries) / 10
	if n < 1 {
		n = 1
	}

	h := make(newestFirst, 0, n)
	for _, e := range c.entries {
		if len(h) < n {
			heap.Push(&h, e)
			continue
		}
		if e.DiscoveredAt.Before(h[0].DiscoveredAt) {
			h[0] = e
			heap.Fix(&h, 0)
		}
	}

	for _, e := range h {
		delete(c.entries, e.PaymentID)
	}
	c.evictions += int64(len(h))
}

// newestFirst is a max-heap on DiscoveredAt: the root is the newest of the
// oldest entries collected so far
type newestFirst []*TemporaryPayment

func (h newestFirst) Len() int           { return len(h) }
func (h newestFirst) Less(i, j int) bool { return h[i].DiscoveredAt.After(h[j].DiscoveredAt) }
func (h newestFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *newestFirst) Push(x any)        { *h = append(*h, x.(*TemporaryPayment)) }
func (h *newestFirst) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
