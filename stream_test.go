//go:build linux

package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func nonblockingPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Close(fds[0]) })
	t.Cleanup(func() { _ = unix.Close(fds[1]) })
	return fds[0], fds[1]
}

// A read against an idle socket yields; a resume that only reports write
// readiness yields again without retrying; a read-ready resume retries and
// returns the data.
func TestGenericStreamReadYieldsUntilReadReady(t *testing.T) {
	local, peer := nonblockingPair(t)

	var got []byte
	coroutine, completed, _ := startCoroutine(nil, func(yielder *Yielder) *CompleteError {
		stream := NewUnencryptedStream(newGenericStream(local, yielder))
		buffer := make([]byte, 16)
		n, err := stream.ReadData(buffer)
		if err != nil {
			return asCompleteError(err)
		}
		got = buffer[:n]
		return nil
	})
	require.False(t, completed, "no data yet: the read must yield")

	// Write readiness alone must not complete the read.
	done, cerr := coroutine.resumeWith(ReactEdgeTriggeredStatus{
		Kind:          StatusInputOrOutputNowAvailable,
		WriteNowReady: true,
	})
	require.False(t, done)
	require.Nil(t, cerr)

	_, err := unix.Write(peer, []byte("data"))
	require.NoError(t, err)

	done, cerr = coroutine.resumeWith(ReactEdgeTriggeredStatus{
		Kind:         StatusInputOrOutputNowAvailable,
		ReadNowReady: true,
	})
	require.True(t, done)
	require.Nil(t, cerr)
	assert.Equal(t, "data", string(got))
}

func TestGenericStreamReadReportsCleanClose(t *testing.T) {
	local, peer := nonblockingPair(t)

	var failure *CompleteError
	coroutine, completed, _ := startCoroutine(nil, func(yielder *Yielder) *CompleteError {
		stream := NewUnencryptedStream(newGenericStream(local, yielder))
		_, err := stream.ReadData(make([]byte, 4))
		failure = asCompleteError(err)
		return failure
	})
	require.False(t, completed)

	require.NoError(t, unix.Close(peer))
	done, cerr := coroutine.resumeWith(ReactEdgeTriggeredStatus{Kind: StatusRemotePeerClosedCleanly})
	require.True(t, done)
	require.NotNil(t, cerr)
	assert.Equal(t, CompleteSocketRead, cerr.Kind)
	assert.ErrorIs(t, cerr, ErrRemotePeerClosed)
}

func TestGenericStreamKilledOnTermination(t *testing.T) {
	local, _ := nonblockingPair(t)

	var terminate Terminate
	coroutine, completed, _ := startCoroutine(&terminate, func(yielder *Yielder) *CompleteError {
		stream := NewUnencryptedStream(newGenericStream(local, yielder))
		_, err := stream.ReadData(make([]byte, 4))
		return asCompleteError(err)
	})
	require.False(t, completed)

	terminate.BeginTermination()
	done, cerr := coroutine.resumeWith(ReactEdgeTriggeredStatus{
		Kind:         StatusInputOrOutputNowAvailable,
		ReadNowReady: true,
	})
	require.True(t, done)
	require.NotNil(t, cerr)
	assert.Equal(t, CompleteKilled, cerr.Kind)
	assert.ErrorIs(t, cerr, ErrKilled)
}

func TestByteCounterTracksTraffic(t *testing.T) {
	local, peer := nonblockingPair(t)

	var counter ByteCounter
	_, completed, cerr := startCoroutine(nil, func(yielder *Yielder) *CompleteError {
		generic := newGenericStream(local, yielder)
		stream := NewUnencryptedStream(generic)
		if _, err := stream.WriteData([]byte("abcde")); err != nil {
			return asCompleteError(err)
		}
		counter = *generic.Counter()
		return nil
	})
	require.True(t, completed)
	require.Nil(t, cerr)
	assert.Equal(t, uint64(5), counter.BytesWritten)
	assert.Equal(t, uint64(0), counter.BytesRead)

	received := make([]byte, 5)
	n, err := unix.Read(peer, received)
	require.NoError(t, err)
	assert.Equal(t, "abcde", string(received[:n]))
}
