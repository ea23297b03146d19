package reactor

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaAllocateReclaimRoundTrip(t *testing.T) {
	arena := NewArena[int](4, nil)
	require.Equal(t, 4, arena.Capacity())
	require.Equal(t, 0, arena.AllocatedCount())

	slot, index, err := arena.Allocate()
	require.NoError(t, err)
	require.NotNil(t, slot)
	*slot = 42

	assert.Equal(t, 1, arena.AllocatedCount())
	assert.Equal(t, 42, *arena.Get(index))

	arena.Reclaim(index)
	assert.Equal(t, 0, arena.AllocatedCount())
}

func TestArenaExhaustion(t *testing.T) {
	arena := NewArena[int](2, nil)

	_, first, err := arena.Allocate()
	require.NoError(t, err)
	_, _, err = arena.Allocate()
	require.NoError(t, err)

	_, _, err = arena.Allocate()
	assert.ErrorIs(t, err, ErrArenaExhausted)

	arena.Reclaim(first)
	_, reused, err := arena.Allocate()
	require.NoError(t, err)
	assert.Equal(t, first, reused)
}

func TestArenaCapacityZeroAlwaysExhausted(t *testing.T) {
	arena := NewArena[int](0, nil)
	for i := 0; i < 3; i++ {
		_, _, err := arena.Allocate()
		assert.ErrorIs(t, err, ErrArenaExhausted)
	}
}

func TestArenaDisposeRunsOnReclaim(t *testing.T) {
	var disposed []int
	arena := NewArena[int](2, func(v *int) { disposed = append(disposed, *v) })

	slot, index, err := arena.Allocate()
	require.NoError(t, err)
	*slot = 7

	arena.Reclaim(index)
	assert.Equal(t, []int{7}, disposed)
}

func TestArenaCloseDisposesOnlyOccupied(t *testing.T) {
	var disposed []int
	arena := NewArena[int](4, func(v *int) { disposed = append(disposed, *v) })

	a, ai, err := arena.Allocate()
	require.NoError(t, err)
	*a = 1
	b, _, err := arena.Allocate()
	require.NoError(t, err)
	*b = 2

	arena.Reclaim(ai)
	arena.Close()

	assert.ElementsMatch(t, []int{1, 2}, disposed)
	assert.Equal(t, 0, arena.AllocatedCount())
}

func TestArenaGetUnoccupiedPanics(t *testing.T) {
	arena := NewArena[int](2, nil)
	assert.Panics(t, func() { arena.Get(0) })
}

// The live-index set always equals allocations minus reclaims, with no
// index live twice.
func TestArenaLiveSetProperty(t *testing.T) {
	const capacity = 32
	arena := NewArena[uint64](capacity, nil)
	rng := rand.New(rand.NewSource(1))

	live := make(map[ArenaIndex]uint64)
	var serial uint64

	for round := 0; round < 10000; round++ {
		if len(live) == 0 || (len(live) < capacity && rng.Intn(2) == 0) {
			slot, index, err := arena.Allocate()
			require.NoError(t, err)
			_, alreadyLive := live[index]
			require.False(t, alreadyLive, "index %d live twice", index)
			serial++
			*slot = serial
			live[index] = serial
		} else {
			for index, expected := range live {
				require.Equal(t, expected, *arena.Get(index))
				arena.Reclaim(index)
				delete(live, index)
				break
			}
		}
		require.Equal(t, len(live), arena.AllocatedCount())
	}

	for index, expected := range live {
		assert.Equal(t, expected, *arena.Get(index))
	}
}
