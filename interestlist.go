//go:build linux

package reactor

import (
	"errors"

	"golang.org/x/sys/unix"
)

// MaximumEvents bounds the batch returned by a single InterestList.Wait.
const MaximumEvents = 1024

// Standard errors.
var (
	// ErrInterestListClosed is returned for operations on a closed list.
	ErrInterestListClosed = errors.New("reactor: interest list closed")
)

// AddFlags selects how a descriptor is observed. Fixed at registration time.
type AddFlags uint32

const (
	// EdgeTriggeredInput observes input readiness transitions.
	EdgeTriggeredInput AddFlags = unix.EPOLLIN | unix.EPOLLET

	// EdgeTriggeredInputExclusive additionally requests exclusive wake-up,
	// for accept listeners shared across workers via SO_REUSEPORT.
	EdgeTriggeredInputExclusive AddFlags = unix.EPOLLIN | unix.EPOLLET | unix.EPOLLEXCLUSIVE

	// EdgeTriggeredInputAndOutput observes both directions plus peer
	// half-close, for bidirectional streams.
	EdgeTriggeredInputAndOutput AddFlags = unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET
)

// EventFlags is the readiness report for one descriptor, as delivered by the
// kernel.
type EventFlags uint32

// Input reports read readiness.
func (f EventFlags) Input() bool { return f&unix.EPOLLIN != 0 }

// Output reports write readiness.
func (f EventFlags) Output() bool { return f&unix.EPOLLOUT != 0 }

// RemotePeerClosedCleanly reports a half- or full-close on the peer side
// with no error.
func (f EventFlags) RemotePeerClosedCleanly() bool {
	return f&(unix.EPOLLRDHUP|unix.EPOLLHUP) != 0 && f&unix.EPOLLERR == 0
}

// ClosedWithError reports an error condition on the descriptor.
func (f EventFlags) ClosedWithError() bool { return f&unix.EPOLLERR != 0 }

// InterestList wraps the kernel's edge-triggered readiness interface
// (epoll). One per worker; never shared.
type InterestList struct {
	eventBuf [MaximumEvents]unix.EpollEvent
	epfd     int
	closed   bool
}

// NewInterestList creates the kernel interest list.
func NewInterestList() (*InterestList, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &InterestList{epfd: epfd}, nil
}

// Add registers fd with the given flags and token. The kernel echoes the
// token verbatim in readiness reports.
func (l *InterestList) Add(fd int, flags AddFlags, token Token) error {
	if l.closed {
		return ErrInterestListClosed
	}
	event := tokenToEpollEvent(token, uint32(flags))
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &event)
}

// Modify updates the flags and token associated with fd.
func (l *InterestList) Modify(fd int, flags AddFlags, token Token) error {
	if l.closed {
		return ErrInterestListClosed
	}
	event := tokenToEpollEvent(token, uint32(flags))
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, &event)
}

// Remove deregisters fd. Unnecessary before close(2): the kernel removes
// closed descriptors itself.
func (l *InterestList) Remove(fd int) error {
	if l.closed {
		return ErrInterestListClosed
	}
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks for up to timeoutMilliseconds and returns the ready batch,
// at most MaximumEvents entries. EINTR is reported as ErrInterrupted so the
// caller can consult its Terminate flag before re-waiting.
//
// The returned slice aliases an internal buffer valid until the next Wait.
func (l *InterestList) Wait(timeoutMilliseconds int) ([]unix.EpollEvent, error) {
	if l.closed {
		return nil, ErrInterestListClosed
	}
	n, err := unix.EpollWait(l.epfd, l.eventBuf[:], timeoutMilliseconds)
	if err != nil {
		if err == unix.EINTR {
			return nil, ErrInterrupted
		}
		return nil, err
	}
	return l.eventBuf[:n], nil
}

// Close releases the epoll descriptor.
func (l *InterestList) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	return unix.Close(l.epfd)
}
