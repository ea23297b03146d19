//go:build linux

package reactor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// testReactor reacts with a configurable outcome and counts invocations.
type testReactor struct {
	react func(r *testReactor, flags EventFlags) (bool, error)
	fd    int
	calls int
}

func (r *testReactor) React(flags EventFlags, _ *Terminate) (bool, error) {
	r.calls++
	return r.react(r, flags)
}

func newTestReactorArena() *Arena[testReactor] {
	return NewArena[testReactor](8, func(r *testReactor) {
		if r.fd > 0 {
			_ = unix.Close(r.fd)
		}
	})
}

func TestAttachArenaIdentifiers(t *testing.T) {
	ep, err := NewEventPoll()
	require.NoError(t, err)
	defer func() { _ = ep.Close() }()

	first := newTestReactorArena()
	second := newTestReactorArena()

	assert.Equal(t, CompressedTypeIdentifier(0), AttachArena[testReactor](ep, first))
	assert.Equal(t, CompressedTypeIdentifier(1), AttachArena[testReactor](ep, second))

	assert.Panics(t, func() { AttachArena[testReactor](ep, first) })
}

func TestEmptyEventLoopIteration(t *testing.T) {
	ep, err := NewEventPoll(WithTimeoutMilliseconds(1))
	require.NoError(t, err)
	defer func() { _ = ep.Close() }()

	var terminate Terminate
	assert.NoError(t, ep.EventLoopIteration(&terminate))
	assert.True(t, terminate.ShouldContinue())
}

func TestRegisterRollsBackAllocationWhenAddFails(t *testing.T) {
	ep, err := NewEventPoll()
	require.NoError(t, err)
	defer func() { _ = ep.Close() }()

	arena := newTestReactorArena()
	id := AttachArena[testReactor](ep, arena)

	// A freshly closed descriptor makes the interest-list add fail EBADF.
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.Close(fds[0]))
	_ = unix.Close(fds[1])

	before := arena.AllocatedCount()
	err = Register(ep, arena, id, fds[0], EdgeTriggeredInput, func(*testReactor, int) error {
		t.Fatal("initializer must not run when the add fails")
		return nil
	})

	var registration *RegistrationError
	require.ErrorAs(t, err, &registration)
	assert.Equal(t, RegistrationAdd, registration.Kind)
	assert.ErrorIs(t, err, unix.EBADF)
	assert.Equal(t, before, arena.AllocatedCount())
}

// A reactor disposed mid-batch must not see the batch's later events for
// the same descriptor: the closed-this-batch filter keys on the token.
func TestSpuriousSecondEventSuppressedAfterDisposal(t *testing.T) {
	ep, err := NewEventPoll(WithTimeoutMilliseconds(10))
	require.NoError(t, err)
	defer func() { _ = ep.Close() }()

	arena := newTestReactorArena()
	id := AttachArena[testReactor](ep, arena)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	defer func() { _ = unix.Close(fds[1]) }()

	reacted := 0
	require.NoError(t, Register(ep, arena, id, fds[0], EdgeTriggeredInput, func(slot *testReactor, fd int) error {
		slot.fd = fd
		slot.react = func(r *testReactor, _ EventFlags) (bool, error) {
			reacted++
			_ = unix.Close(r.fd)
			r.fd = -1
			return true, nil
		}
		return nil
	}))

	// A duplicate descriptor registered under the same token makes the
	// kernel report two events for one reactor in a single wait.
	duplicate, err := unix.Dup(fds[0])
	require.NoError(t, err)
	defer func() { _ = unix.Close(duplicate) }()
	token := NewToken(id, 0)
	require.NoError(t, ep.interestList.Add(duplicate, EdgeTriggeredInput, token))

	// Make both descriptors readable.
	_, err = unix.Write(fds[1], []byte{1})
	require.NoError(t, err)

	var terminate Terminate
	require.NoError(t, ep.EventLoopIteration(&terminate))

	assert.Equal(t, 1, reacted, "second event for the disposed token must be suppressed")
	_, suppressed := ep.closedThisBatch[token]
	assert.True(t, suppressed)
	assert.Equal(t, 0, arena.AllocatedCount())
}

func TestReactorErrorIsFatalToWorker(t *testing.T) {
	ep, err := NewEventPoll(WithTimeoutMilliseconds(10))
	require.NoError(t, err)
	defer func() { _ = ep.Close() }()

	arena := newTestReactorArena()
	id := AttachArena[testReactor](ep, arena)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	defer func() { _ = unix.Close(fds[1]) }()

	boom := errors.New("boom")
	require.NoError(t, Register(ep, arena, id, fds[0], EdgeTriggeredInput, func(slot *testReactor, fd int) error {
		slot.fd = fd
		slot.react = func(*testReactor, EventFlags) (bool, error) { return false, boom }
		return nil
	}))

	_, err = unix.Write(fds[1], []byte{1})
	require.NoError(t, err)

	var terminate Terminate
	err = ep.EventLoopIteration(&terminate)
	assert.ErrorIs(t, err, boom)
	assert.True(t, terminate.HasTerminated())
	assert.ErrorIs(t, terminate.TerminationReason(), boom)
}

// Disposing a reactor frees its index for a later registration; the filter
// only suppresses within the batch that closed it.
func TestArenaIndexReuseAcrossBatches(t *testing.T) {
	ep, err := NewEventPoll(WithTimeoutMilliseconds(10))
	require.NoError(t, err)
	defer func() { _ = ep.Close() }()

	arena := newTestReactorArena()
	id := AttachArena[testReactor](ep, arena)

	register := func() (int, ArenaIndex) {
		fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
		require.NoError(t, err)
		var index ArenaIndex
		require.NoError(t, Register(ep, arena, id, fds[0], EdgeTriggeredInput, func(slot *testReactor, fd int) error {
			slot.fd = fd
			slot.react = func(r *testReactor, _ EventFlags) (bool, error) {
				_ = unix.Close(r.fd)
				r.fd = -1
				return true, nil
			}
			// Recover the slot's index from its address.
			for i := range arena.elements {
				if &arena.elements[i].value == slot {
					index = ArenaIndex(i)
				}
			}
			return nil
		}))
		return fds[1], index
	}

	peer, index := register()
	_, err = unix.Write(peer, []byte{1})
	require.NoError(t, err)

	var terminate Terminate
	require.NoError(t, ep.EventLoopIteration(&terminate))
	require.Equal(t, 0, arena.AllocatedCount())
	_ = unix.Close(peer)

	peer2, index2 := register()
	defer func() { _ = unix.Close(peer2) }()
	assert.Equal(t, index, index2)
	assert.Equal(t, 1, arena.AllocatedCount())

	// The new occupant still receives events under the reused token.
	_, err = unix.Write(peer2, []byte{1})
	require.NoError(t, err)
	require.NoError(t, ep.EventLoopIteration(&terminate))
	assert.Equal(t, 0, arena.AllocatedCount())
}
