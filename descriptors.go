//go:build linux

package reactor

import (
	"encoding/binary"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// drainReadable is the steady-state shape shared by the simple descriptor
// reactors: read until EAGAIN, handing each chunk to visit. Interrupted
// reads retry; visit errors are fatal to the worker.
func drainReadable(fd int, buffer []byte, terminate *Terminate, visit func(data []byte) error) error {
	for terminate.ShouldContinue() {
		n, err := unix.Read(fd, buffer)
		switch err {
		case nil:
			if n == 0 {
				return nil
			}
			if err := visit(buffer[:n]); err != nil {
				return err
			}
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return nil
		default:
			return err
		}
	}
	return nil
}

// --- eventfd ---

// EventFdVisitor receives the counter value drained from an eventfd.
type EventFdVisitor func(value uint64) error

// EventFdReactor drains an eventfd counter.
type EventFdReactor struct {
	visitor EventFdVisitor
	fd      int
}

// React implements Reactor.
func (r *EventFdReactor) React(_ EventFlags, terminate *Terminate) (bool, error) {
	var buffer [8]byte
	return false, drainReadable(r.fd, buffer[:], terminate, func(data []byte) error {
		if len(data) != 8 {
			return nil
		}
		return r.visitor(binary.NativeEndian.Uint64(data))
	})
}

func disposeFdReactor[R any](fd func(*R) int) func(*R) {
	return func(r *R) {
		if descriptor := fd(r); descriptor > 0 {
			_ = unix.Close(descriptor)
		}
	}
}

// NewEventFdArena creates an arena for eventfd reactors.
func NewEventFdArena(capacity int) *Arena[EventFdReactor] {
	return NewArena[EventFdReactor](capacity, disposeFdReactor(func(r *EventFdReactor) int { return r.fd }))
}

// RegisterEventFdReactor creates a non-blocking eventfd and registers it.
func RegisterEventFdReactor(ep *EventPoll, arena *Arena[EventFdReactor], id CompressedTypeIdentifier, initialValue uint, visitor EventFdVisitor) error {
	fd, err := unix.Eventfd(initialValue, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return newRegistrationError(RegistrationCreation, err)
	}
	if err := Register(ep, arena, id, fd, EdgeTriggeredInput, func(slot *EventFdReactor, fd int) error {
		slot.visitor = visitor
		slot.fd = fd
		return nil
	}); err != nil {
		_ = unix.Close(fd)
		return err
	}
	return nil
}

// --- timerfd ---

// TimerVisitor receives the number of timer expirations since the last
// drain.
type TimerVisitor func(expirations uint64) error

// TimerReactor drains a timerfd.
type TimerReactor struct {
	visitor TimerVisitor
	fd      int
}

// React implements Reactor.
func (r *TimerReactor) React(_ EventFlags, terminate *Terminate) (bool, error) {
	var buffer [8]byte
	return false, drainReadable(r.fd, buffer[:], terminate, func(data []byte) error {
		if len(data) != 8 {
			return nil
		}
		return r.visitor(binary.NativeEndian.Uint64(data))
	})
}

// NewTimerArena creates an arena for timerfd reactors.
func NewTimerArena(capacity int) *Arena[TimerReactor] {
	return NewArena[TimerReactor](capacity, disposeFdReactor(func(r *TimerReactor) int { return r.fd }))
}

// RegisterTimerReactor creates a monotonic timerfd with the given initial
// delay and interval (zero interval means one-shot) and registers it.
func RegisterTimerReactor(ep *EventPoll, arena *Arena[TimerReactor], id CompressedTypeIdentifier, initial, interval time.Duration, visitor TimerVisitor) error {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return newRegistrationError(RegistrationCreation, err)
	}
	specification := unix.ItimerSpec{
		Interval: unix.NsecToTimespec(interval.Nanoseconds()),
		Value:    unix.NsecToTimespec(initial.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(fd, 0, &specification, nil); err != nil {
		_ = unix.Close(fd)
		return newRegistrationError(RegistrationCreation, err)
	}
	if err := Register(ep, arena, id, fd, EdgeTriggeredInput, func(slot *TimerReactor, fd int) error {
		slot.visitor = visitor
		slot.fd = fd
		return nil
	}); err != nil {
		_ = unix.Close(fd)
		return err
	}
	return nil
}

// --- inotify ---

// INotifyVisitor receives one inotify event and its decoded name.
type INotifyVisitor func(event *unix.InotifyEvent, name string) error

// INotifyReactor drains an inotify descriptor.
type INotifyReactor struct {
	visitor INotifyVisitor
	fd      int
}

const inotifyEventSize = int(unsafe.Sizeof(unix.InotifyEvent{}))

// React implements Reactor.
func (r *INotifyReactor) React(_ EventFlags, terminate *Terminate) (bool, error) {
	buffer := make([]byte, 4096)
	return false, drainReadable(r.fd, buffer, terminate, func(data []byte) error {
		for offset := 0; offset+inotifyEventSize <= len(data); {
			event := (*unix.InotifyEvent)(unsafe.Pointer(&data[offset]))
			nameStart := offset + inotifyEventSize
			nameEnd := nameStart + int(event.Len)
			if nameEnd > len(data) {
				break
			}
			name := string(trimNul(data[nameStart:nameEnd]))
			if err := r.visitor(event, name); err != nil {
				return err
			}
			offset = nameEnd
		}
		return nil
	})
}

func trimNul(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

// NewINotifyArena creates an arena for inotify reactors.
func NewINotifyArena(capacity int) *Arena[INotifyReactor] {
	return NewArena[INotifyReactor](capacity, disposeFdReactor(func(r *INotifyReactor) int { return r.fd }))
}

// RegisterINotifyReactor creates an inotify instance watching path with
// mask and registers it.
func RegisterINotifyReactor(ep *EventPoll, arena *Arena[INotifyReactor], id CompressedTypeIdentifier, path string, mask uint32, visitor INotifyVisitor) error {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return newRegistrationError(RegistrationCreation, err)
	}
	if _, err := unix.InotifyAddWatch(fd, path, mask); err != nil {
		_ = unix.Close(fd)
		return newRegistrationError(RegistrationCreation, err)
	}
	if err := Register(ep, arena, id, fd, EdgeTriggeredInput, func(slot *INotifyReactor, fd int) error {
		slot.visitor = visitor
		slot.fd = fd
		return nil
	}); err != nil {
		_ = unix.Close(fd)
		return err
	}
	return nil
}

// --- fanotify ---

// FANotifyVisitor receives one fanotify event metadata record. The visitor
// owns the event's file descriptor and must close it.
type FANotifyVisitor func(metadata *unix.FanotifyEventMetadata) error

// FANotifyReactor drains a fanotify descriptor.
type FANotifyReactor struct {
	visitor FANotifyVisitor
	fd      int
}

const fanotifyMetadataSize = int(unsafe.Sizeof(unix.FanotifyEventMetadata{}))

// React implements Reactor.
func (r *FANotifyReactor) React(_ EventFlags, terminate *Terminate) (bool, error) {
	buffer := make([]byte, 4096)
	return false, drainReadable(r.fd, buffer, terminate, func(data []byte) error {
		for offset := 0; offset+fanotifyMetadataSize <= len(data); {
			metadata := (*unix.FanotifyEventMetadata)(unsafe.Pointer(&data[offset]))
			if metadata.Event_len < uint32(fanotifyMetadataSize) || offset+int(metadata.Event_len) > len(data) {
				break
			}
			if err := r.visitor(metadata); err != nil {
				return err
			}
			offset += int(metadata.Event_len)
		}
		return nil
	})
}

// NewFANotifyArena creates an arena for fanotify reactors.
func NewFANotifyArena(capacity int) *Arena[FANotifyReactor] {
	return NewArena[FANotifyReactor](capacity, disposeFdReactor(func(r *FANotifyReactor) int { return r.fd }))
}

// RegisterFANotifyReactor creates a fanotify instance, marks path, and
// registers it. Requires CAP_SYS_ADMIN.
func RegisterFANotifyReactor(ep *EventPoll, arena *Arena[FANotifyReactor], id CompressedTypeIdentifier, path string, markFlags uint, eventMask uint64, visitor FANotifyVisitor) error {
	fd, err := unix.FanotifyInit(unix.FAN_CLOEXEC|unix.FAN_NONBLOCK, uint(unix.O_RDONLY|unix.O_CLOEXEC))
	if err != nil {
		return newRegistrationError(RegistrationCreation, err)
	}
	if err := unix.FanotifyMark(fd, unix.FAN_MARK_ADD|markFlags, eventMask, unix.AT_FDCWD, path); err != nil {
		_ = unix.Close(fd)
		return newRegistrationError(RegistrationCreation, err)
	}
	if err := Register(ep, arena, id, fd, EdgeTriggeredInput, func(slot *FANotifyReactor, fd int) error {
		slot.visitor = visitor
		slot.fd = fd
		return nil
	}); err != nil {
		_ = unix.Close(fd)
		return err
	}
	return nil
}

// --- pipes, character devices, terminals, nested event polls ---

// DataVisitor receives raw drained bytes; the slice is only valid for the
// duration of the call.
type DataVisitor func(data []byte) error

// ReceiveDescriptorReactor drains any plain readable descriptor: the
// receive end of a pipe, a character device, or a terminal.
type ReceiveDescriptorReactor struct {
	visitor DataVisitor
	fd      int
}

// React implements Reactor.
func (r *ReceiveDescriptorReactor) React(_ EventFlags, terminate *Terminate) (bool, error) {
	buffer := make([]byte, 4096)
	return false, drainReadable(r.fd, buffer, terminate, r.visitor)
}

// NewReceiveDescriptorArena creates an arena for readable-descriptor
// reactors.
func NewReceiveDescriptorArena(capacity int) *Arena[ReceiveDescriptorReactor] {
	return NewArena[ReceiveDescriptorReactor](capacity, disposeFdReactor(func(r *ReceiveDescriptorReactor) int { return r.fd }))
}

// RegisterReceiveDescriptorReactor registers an existing non-blocking
// readable descriptor (pipe read end, character device, terminal). The
// reactor takes ownership of fd.
func RegisterReceiveDescriptorReactor(ep *EventPoll, arena *Arena[ReceiveDescriptorReactor], id CompressedTypeIdentifier, fd int, visitor DataVisitor) error {
	if err := Register(ep, arena, id, fd, EdgeTriggeredInput, func(slot *ReceiveDescriptorReactor, fd int) error {
		slot.visitor = visitor
		slot.fd = fd
		return nil
	}); err != nil {
		_ = unix.Close(fd)
		return err
	}
	return nil
}

// SendDescriptorSource produces the next bytes to write, or an empty slice
// when nothing is pending.
type SendDescriptorSource func() []byte

// SendDescriptorReactor writes pending bytes whenever the descriptor (the
// send end of a pipe, typically) reports writability.
type SendDescriptorReactor struct {
	source  SendDescriptorSource
	pending []byte
	fd      int
}

// React implements Reactor: write until EAGAIN or nothing is pending.
func (r *SendDescriptorReactor) React(_ EventFlags, terminate *Terminate) (bool, error) {
	for terminate.ShouldContinue() {
		if len(r.pending) == 0 {
			r.pending = r.source()
			if len(r.pending) == 0 {
				return false, nil
			}
		}
		n, err := unix.Write(r.fd, r.pending)
		switch err {
		case nil:
			r.pending = r.pending[n:]
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return false, nil
		case unix.EPIPE:
			return true, nil
		default:
			return false, err
		}
	}
	return false, nil
}

// NewSendDescriptorArena creates an arena for writable-descriptor reactors.
func NewSendDescriptorArena(capacity int) *Arena[SendDescriptorReactor] {
	return NewArena[SendDescriptorReactor](capacity, disposeFdReactor(func(r *SendDescriptorReactor) int { return r.fd }))
}

// RegisterSendDescriptorReactor registers an existing non-blocking writable
// descriptor. The reactor takes ownership of fd.
func RegisterSendDescriptorReactor(ep *EventPoll, arena *Arena[SendDescriptorReactor], id CompressedTypeIdentifier, fd int, source SendDescriptorSource) error {
	if err := Register(ep, arena, id, fd, AddFlags(unix.EPOLLOUT|unix.EPOLLET), func(slot *SendDescriptorReactor, fd int) error {
		slot.source = source
		slot.fd = fd
		return nil
	}); err != nil {
		_ = unix.Close(fd)
		return err
	}
	return nil
}

// NestedEventPollVisitor is notified when a nested event poll descriptor
// becomes ready.
type NestedEventPollVisitor func() error

// NestedEventPollReactor observes another epoll descriptor as an ordinary
// pollable file descriptor.
type NestedEventPollReactor struct {
	visitor NestedEventPollVisitor
	fd      int
}

// React implements Reactor.
func (r *NestedEventPollReactor) React(_ EventFlags, _ *Terminate) (bool, error) {
	return false, r.visitor()
}

// NewNestedEventPollArena creates an arena for nested event poll reactors.
func NewNestedEventPollArena(capacity int) *Arena[NestedEventPollReactor] {
	return NewArena[NestedEventPollReactor](capacity, disposeFdReactor(func(r *NestedEventPollReactor) int { return r.fd }))
}

// RegisterNestedEventPollReactor registers another epoll descriptor. The
// reactor takes ownership of fd.
func RegisterNestedEventPollReactor(ep *EventPoll, arena *Arena[NestedEventPollReactor], id CompressedTypeIdentifier, fd int, visitor NestedEventPollVisitor) error {
	if err := Register(ep, arena, id, fd, EdgeTriggeredInput, func(slot *NestedEventPollReactor, fd int) error {
		slot.visitor = visitor
		slot.fd = fd
		return nil
	}); err != nil {
		_ = unix.Close(fd)
		return err
	}
	return nil
}
