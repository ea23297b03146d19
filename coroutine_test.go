package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoroutineCompletesWithoutYielding(t *testing.T) {
	coroutine, completed, err := startCoroutine(nil, func(*Yielder) *CompleteError {
		return nil
	})
	assert.Nil(t, coroutine)
	assert.True(t, completed)
	assert.Nil(t, err)
}

func TestCoroutineCompletesWithError(t *testing.T) {
	_, completed, err := startCoroutine(nil, func(*Yielder) *CompleteError {
		return completeInvalidData("bad")
	})
	assert.True(t, completed)
	require.NotNil(t, err)
	assert.Equal(t, CompleteInvalidData, err.Kind)
}

// The number of resumes equals the number of yields until completion.
func TestCoroutineResumeYieldLockstep(t *testing.T) {
	const yields = 5
	var observed []ReactStatusKind

	coroutine, completed, _ := startCoroutine(nil, func(yielder *Yielder) *CompleteError {
		for i := 0; i < yields; i++ {
			status := yielder.Yields()
			observed = append(observed, status.Kind)
		}
		return nil
	})
	require.False(t, completed)
	require.NotNil(t, coroutine)

	// First yield already happened inside startCoroutine; resume the
	// remaining yields-1 times before the final resume completes.
	for i := 0; i < yields-1; i++ {
		done, err := coroutine.resumeWith(ReactEdgeTriggeredStatus{Kind: StatusInputOrOutputNowAvailable, ReadNowReady: true})
		require.False(t, done)
		require.Nil(t, err)
	}
	done, err := coroutine.resumeWith(ReactEdgeTriggeredStatus{Kind: StatusRemotePeerClosedCleanly})
	assert.True(t, done)
	assert.Nil(t, err)

	require.Len(t, observed, yields)
	assert.Equal(t, StatusRemotePeerClosedCleanly, observed[yields-1])
}

func TestCoroutineKillUnwindsSuspendedBody(t *testing.T) {
	var terminate Terminate
	coroutine, completed, _ := startCoroutine(&terminate, func(yielder *Yielder) *CompleteError {
		for {
			yielder.Yields()
			if yielder.killed() {
				return completeKilled()
			}
		}
	})
	require.False(t, completed)

	terminate.BeginTermination()
	coroutine.kill()
	assert.True(t, coroutine.done)
}

func TestCoroutineResumeAfterCompletionPanics(t *testing.T) {
	coroutine, completed, _ := startCoroutine(nil, func(yielder *Yielder) *CompleteError {
		yielder.Yields()
		return nil
	})
	require.False(t, completed)
	done, _ := coroutine.resumeWith(ReactEdgeTriggeredStatus{Kind: StatusInputOrOutputNowAvailable})
	require.True(t, done)

	assert.Panics(t, func() {
		_, _ = coroutine.resumeWith(ReactEdgeTriggeredStatus{Kind: StatusInputOrOutputNowAvailable})
	})
}
