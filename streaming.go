//go:build linux

package reactor

import (
	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

// StreamUser is the application callback handed a completed (handshaken)
// stream. It runs inside the connection's coroutine: reads and writes look
// blocking and yield internally. Returning nil or an error both end the
// connection; the error is logged, never propagated past the connection.
type StreamUser func(stream Stream) error

// StreamingSocketReactor turns one TCP or Unix stream into a stackful
// cooperative coroutine. Outside React the coroutine is always suspended on
// a yield inside the I/O layer; each React resumes it with the readiness
// status decoded from the kernel's event flags.
type StreamingSocketReactor struct {
	coroutine *startedCoroutine
	fd        int
}

// React implements Reactor.
func (r *StreamingSocketReactor) React(flags EventFlags, _ *Terminate) (bool, error) {
	switch {
	case flags.ClosedWithError():
		r.resumeExpectingCompletion(ReactEdgeTriggeredStatus{Kind: StatusClosedWithError})
		return true, nil

	case flags.RemotePeerClosedCleanly() && !flags.Input():
		r.resumeExpectingCompletion(ReactEdgeTriggeredStatus{Kind: StatusRemotePeerClosedCleanly})
		return true, nil

	default:
		completed, _ := r.coroutine.resumeWith(ReactEdgeTriggeredStatus{
			Kind:          StatusInputOrOutputNowAvailable,
			ReadNowReady:  flags.Input() || flags.RemotePeerClosedCleanly(),
			WriteNowReady: flags.Output(),
		})
		return completed, nil
	}
}

// resumeExpectingCompletion delivers a terminal status. Yielding again
// instead of completing is a programming bug in the I/O layer.
func (r *StreamingSocketReactor) resumeExpectingCompletion(status ReactEdgeTriggeredStatus) {
	if completed, _ := r.coroutine.resumeWith(status); !completed {
		panic("reactor: coroutine should have completed after a terminal status")
	}
}

func disposeStreamingSocketReactor(r *StreamingSocketReactor) {
	if r.coroutine != nil {
		r.coroutine.kill()
	}
	if r.fd > 0 {
		_ = unix.Close(r.fd)
	}
}

// NewStreamingSocketArena creates an arena for coroutine-backed streaming
// sockets. Reclamation kills any still-suspended coroutine and closes the
// descriptor.
func NewStreamingSocketArena(capacity int) *Arena[StreamingSocketReactor] {
	return NewArena[StreamingSocketReactor](capacity, disposeStreamingSocketReactor)
}

// RegisterStreamingSocket performs the streaming socket's initial input and
// output and registers it with the event poll if necessary: the coroutine
// runs immediately (handshakes usually begin with a write that succeeds
// straight away), and only if it yields — waiting for readiness — is the
// descriptor added to the interest list. A coroutine that completes
// synchronously never registers; its descriptor is closed here.
//
// On any return the no-leaked-fd, no-leaked-slot invariant holds.
func RegisterStreamingSocket(
	ep *EventPoll,
	arena *Arena[StreamingSocketReactor],
	id CompressedTypeIdentifier,
	fd int,
	factory StreamFactory,
	args any,
	user StreamUser,
	terminate *Terminate,
	logger *logiface.Logger[logiface.Event],
) error {
	body := func(yielder *Yielder) *CompleteError {
		generic := newGenericStream(fd, yielder)
		stream, err := factory.NewStreamAndHandshake(generic, args)
		if err != nil {
			cerr := asCompleteError(err)
			logger.Debug().
				Err(cerr).
				Uint64("bytesRead", generic.counter.BytesRead).
				Uint64("bytesWritten", generic.counter.BytesWritten).
				Log("stream handshake failed")
			return cerr
		}
		if err := user(stream); err != nil {
			cerr := asCompleteError(err)
			logger.Debug().
				Err(cerr).
				Uint64("bytesRead", generic.counter.BytesRead).
				Uint64("bytesWritten", generic.counter.BytesWritten).
				Log("stream user failed")
			return cerr
		}
		return nil
	}

	coroutine, completed, _ := startCoroutine(terminate, body)
	if completed {
		_ = unix.Close(fd)
		return nil
	}

	if err := Register(ep, arena, id, fd, EdgeTriggeredInputAndOutput, func(slot *StreamingSocketReactor, fd int) error {
		slot.coroutine = coroutine
		slot.fd = fd
		return nil
	}); err != nil {
		coroutine.kill()
		_ = unix.Close(fd)
		return err
	}
	return nil
}

// asCompleteError coerces a stream error to *CompleteError, wrapping
// foreign errors as undifferentiated.
func asCompleteError(err error) *CompleteError {
	if err == nil {
		return nil
	}
	if complete, ok := err.(*CompleteError); ok {
		return complete
	}
	return &CompleteError{Kind: CompleteUndifferentiated, Cause: err}
}
