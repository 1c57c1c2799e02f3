package reconcile

import (
	"fmt"
	"testing"
	"time"

	"github.com/mstgnz/donatepay/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func entry(id string, at time.Time) TemporaryPayment {
	return TemporaryPayment{PaymentID: id, TransactionID: "tx-" + id, Provider: provider.MyFatoorah, DiscoveredAt: at}
}

func TestPendingCache_AddGetRemove(t *testing.T) {
	c := NewPendingCache(10)

	c.Add(entry("a", t0))
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, provider.OutcomePending, got.Status)
	assert.Equal(t, "tx-a", got.TransactionID)

	// re-adding keeps the earliest discovery time
	c.Add(entry("a", t0.Add(5*time.Minute)))
	got, _ = c.Get("a")
	assert.True(t, got.DiscoveredAt.Equal(t0))
	assert.Equal(t, 1, c.Size())

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestPendingCache_EvictsOldestTenth(t *testing.T) {
	c := NewPendingCache(20)
	for i := 0; i < 20; i++ {
		c.Add(entry(fmt.Sprintf("p%02d", i), t0.Add(time.Duration(i)*time.Minute)))
	}
	require.Equal(t, 20, c.Size())

	c.Add(entry("new", t0.Add(time.Hour)))

	assert.Equal(t, 19, c.Size())
	for _, id := range []string{"p00", "p01"} {
		_, ok := c.Get(id)
		assert.False(t, ok, id)
	}
	for _, id := range []string{"p02", "p19", "new"} {
		_, ok := c.Get(id)
		assert.True(t, ok, id)
	}
	assert.Equal(t, int64(2), c.Stats().Evictions)
}

func TestPendingCache_EvictsAtLeastOne(t *testing.T) {
	c := NewPendingCache(3)
	c.Add(entry("a", t0.Add(2*time.Minute)))
	c.Add(entry("b", t0))
	c.Add(entry("c", t0.Add(time.Minute)))

	c.Add(entry("d", t0.Add(3*time.Minute)))

	assert.Equal(t, 3, c.Size())
	_, ok := c.Get("b")
	assert.False(t, ok)
}

func TestPendingCache_SnapshotOrder(t *testing.T) {
	c := NewPendingCache(10)
	c.Add(entry("late", t0.Add(time.Minute)))
	c.Add(entry("early", t0))

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "early", snap[0].PaymentID)
	assert.Equal(t, "late", snap[1].PaymentID)
	assert.ElementsMatch(t, []string{"early", "late"}, c.IDs())
}

func TestPendingCache_Sweep(t *testing.T) {
	c := NewPendingCache(10)
	c.Add(entry("old", t0))
	c.Add(entry("fresh", t0.Add(25*time.Minute)))
	resolved := entry("resolved", t0.Add(25*time.Minute))
	resolved.Status = provider.OutcomePaid
	c.Add(resolved)

	removed := c.Sweep(t0.Add(31*time.Minute), 30*time.Minute)

	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{"fresh"}, c.IDs())
	assert.Equal(t, int64(2), c.Stats().Swept)
}
