package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindSlotNonExclusivePicksAnyFreeSlot(t *testing.T) {
	r := NewRegistry()
	r.Add("w1", 2)

	id, slot, ok := r.FindSlot(false)
	require.True(t, ok)
	assert.Equal(t, "w1", id)
	assert.Contains(t, []int{0, 1}, slot)
}

func TestFindSlotExclusiveRequiresFullyIdleWorker(t *testing.T) {
	r := NewRegistry()
	r.Add("w1", 2)

	_, slot, ok := r.FindSlot(false)
	require.True(t, ok)

	_, _, ok = r.FindSlot(true)
	assert.False(t, ok, "worker has one busy slot, exclusive must not match")

	r.Release("w1", slot)
	_, _, ok = r.FindSlot(true)
	assert.True(t, ok, "worker fully idle again, exclusive should match")
}

func TestFindSlotExhaustsCapacity(t *testing.T) {
	r := NewRegistry()
	r.Add("w1", 1)

	_, _, ok := r.FindSlot(false)
	require.True(t, ok)

	_, _, ok = r.FindSlot(false)
	assert.False(t, ok, "single-slot worker has no room left")
}

func TestReleaseFreesSlotForReuse(t *testing.T) {
	r := NewRegistry()
	r.Add("w1", 1)

	_, slot, ok := r.FindSlot(false)
	require.True(t, ok)
	r.Release("w1", slot)

	_, _, ok = r.FindSlot(false)
	assert.True(t, ok)
}

func TestRemoveDropsWorkerFromScheduling(t *testing.T) {
	r := NewRegistry()
	r.Add("w1", 1)
	r.Remove("w1")

	_, _, ok := r.FindSlot(false)
	assert.False(t, ok)
	assert.False(t, r.Has("w1"))
}
