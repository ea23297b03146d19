//go:build linux

package reactor

import (
	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

// StreamingServerListenerReactor accepts streaming connections, consults
// access control, and publishes each accepted descriptor to the ring of the
// core the kernel steered it to.
//
// Listeners register with exclusive edge-triggered input so a fleet of
// workers sharing a port via SO_REUSEPORT avoids thundering-herd wake-ups.
type StreamingServerListenerReactor struct {
	accessControl     AccessControl
	distributor       *FileDescriptorDistributor
	logger            *logiface.Logger[logiface.Event]
	fd                int
	serviceIdentifier uint8
}

// React implements Reactor: loop accepting until EAGAIN, classify errors,
// then distribute the batch.
func (r *StreamingServerListenerReactor) React(_ EventFlags, terminate *Terminate) (bool, error) {
	for terminate.ShouldContinue() {
		fd, peer, err := unix.Accept4(r.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				r.distributor.Distribute()
				return false, nil
			case unix.EINTR,
				unix.EMFILE, unix.ENFILE, unix.ENOMEM, unix.ENOBUFS,
				unix.ECONNABORTED, unix.EPROTO, unix.EPERM, unix.ETIMEDOUT:
				// Interrupted, resource exhaustion, and per-connection
				// failures all leave the listener healthy.
				continue
			default:
				return false, err
			}
		}

		if !r.accessControl.IsRemotePeerAllowed(peer, fd) {
			r.logger.Debug().
				Int("service", int(r.serviceIdentifier)).
				Log("remote peer denied by access control")
			_ = unix.Close(fd)
			continue
		}

		r.distributor.Assign(acceptedStreamingSocketMessage(fd, r.serviceIdentifier, peer), incomingCPU(fd))
	}

	r.distributor.Distribute()
	return false, nil
}

func disposeStreamingServerListenerReactor(r *StreamingServerListenerReactor) {
	if r.fd > 0 {
		_ = unix.Close(r.fd)
	}
}

// NewStreamingServerListenerArena creates an arena for listener reactors.
func NewStreamingServerListenerArena(capacity int) *Arena[StreamingServerListenerReactor] {
	return NewArena[StreamingServerListenerReactor](capacity, disposeStreamingServerListenerReactor)
}

// RegisterStreamingServerListener registers an already bound and listening
// descriptor (from NewStreamingServerListenerSocket or the Unix variant)
// with the event poll. On failure the descriptor is closed.
func RegisterStreamingServerListener(
	ep *EventPoll,
	arena *Arena[StreamingServerListenerReactor],
	id CompressedTypeIdentifier,
	listenerFD int,
	accessControl AccessControl,
	distributor *FileDescriptorDistributor,
	serviceIdentifier uint8,
	logger *logiface.Logger[logiface.Event],
) error {
	err := Register(ep, arena, id, listenerFD, EdgeTriggeredInputExclusive, func(slot *StreamingServerListenerReactor, fd int) error {
		slot.accessControl = accessControl
		slot.distributor = distributor
		slot.logger = logger
		slot.fd = fd
		slot.serviceIdentifier = serviceIdentifier
		return nil
	})
	if err != nil {
		_ = unix.Close(listenerFD)
		return err
	}
	return nil
}
