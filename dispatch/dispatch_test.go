package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type messageA struct{ Value uint64 }
type messageB struct{ Value uint32 }
type messageC struct{}

func TestHandlerTableIdentifiersAssignedInRegistrationOrder(t *testing.T) {
	table := NewHandlerTable()

	idA := RegisterHandler(table, func(*messageA) error { return nil })
	idB := RegisterHandler(table, func(*messageB) error { return nil })
	idC := RegisterHandler(table, func(*messageC) error { return nil })

	assert.Equal(t, CompressedTypeIdentifier(0), idA)
	assert.Equal(t, CompressedTypeIdentifier(1), idB)
	assert.Equal(t, CompressedTypeIdentifier(2), idC)
	assert.Equal(t, 3, table.Len())

	found, ok := FindIdentifier[messageB](table)
	require.True(t, ok)
	assert.Equal(t, idB, found)
}

func TestHandlerTableDuplicateRegistrationPanics(t *testing.T) {
	table := NewHandlerTable()
	RegisterHandler(table, func(*messageA) error { return nil })
	assert.Panics(t, func() {
		RegisterHandler(table, func(*messageA) error { return nil })
	})
}

func TestHandlerTableFullPanics(t *testing.T) {
	table := NewHandlerTable()
	// Simulate a full table; 256 distinct Go types would otherwise be
	// needed.
	table.entries = make([]handlerEntry, TableCapacity)
	assert.Panics(t, func() {
		RegisterHandler(table, func(*messageA) error { return nil })
	})
}

func TestHandlerTableRejectsPointerfulPayloads(t *testing.T) {
	type bad struct{ P *int }
	table := NewHandlerTable()
	assert.Panics(t, func() {
		RegisterHandler(table, func(*bad) error { return nil })
	})
}

func TestHandlerTableCallRoutesByIdentifier(t *testing.T) {
	table := NewHandlerTable()
	var got uint64
	idA := RegisterHandler(table, func(m *messageA) error {
		got = m.Value
		return nil
	})

	ring, err := NewRing(MinimumRingCapacity)
	require.NoError(t, err)
	require.NoError(t, Publish(ring, idA, messageA{Value: 99}))

	consumed, err := ring.Consume(table.Call, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, consumed)
	assert.Equal(t, uint64(99), got)
}

func TestHandlerTableDropRoutine(t *testing.T) {
	table := NewHandlerTable()
	var dropped []uint64
	id := RegisterHandlerWithDrop(table,
		func(*messageA) error { return nil },
		func(m *messageA) { dropped = append(dropped, m.Value) },
	)

	ring, err := NewRing(MinimumRingCapacity)
	require.NoError(t, err)
	require.NoError(t, Publish(ring, id, messageA{Value: 5}))

	subscriber := NewPerThreadSubscriber(ring, table)
	subscriber.Close()
	assert.Equal(t, []uint64{5}, dropped)
}
