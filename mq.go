//go:build linux

package reactor

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// POSIX message queues have no wrappers in x/sys/unix; the raw syscall
// numbers are stable ABI.

func mqOpen(name string, flags int, mode uint32, maxMessages, messageSize int) (int, error) {
	nameBytes, err := unix.BytePtrFromString(name)
	if err != nil {
		return -1, err
	}
	attributes := struct {
		flags   int64
		maxMsg  int64
		msgSize int64
		curMsgs int64
		_       [4]int64
	}{
		maxMsg:  int64(maxMessages),
		msgSize: int64(messageSize),
	}
	var attributesPointer unsafe.Pointer
	if maxMessages > 0 {
		attributesPointer = unsafe.Pointer(&attributes)
	}
	fd, _, errno := unix.Syscall6(
		unix.SYS_MQ_OPEN,
		uintptr(unsafe.Pointer(nameBytes)),
		uintptr(flags),
		uintptr(mode),
		uintptr(attributesPointer),
		0, 0,
	)
	if errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}

func mqReceive(fd int, buffer []byte) (int, uint, error) {
	var priority uint
	n, _, errno := unix.Syscall6(
		unix.SYS_MQ_TIMEDRECEIVE,
		uintptr(fd),
		uintptr(unsafe.Pointer(&buffer[0])),
		uintptr(len(buffer)),
		uintptr(unsafe.Pointer(&priority)),
		0, 0,
	)
	if errno != 0 {
		return 0, 0, errno
	}
	return int(n), priority, nil
}

func mqSend(fd int, data []byte, priority uint) error {
	var pointer unsafe.Pointer
	if len(data) != 0 {
		pointer = unsafe.Pointer(&data[0])
	}
	_, _, errno := unix.Syscall6(
		unix.SYS_MQ_TIMEDSEND,
		uintptr(fd),
		uintptr(pointer),
		uintptr(len(data)),
		uintptr(priority),
		0, 0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}

// MessageQueueVisitor receives one drained message and its priority. The
// data slice is only valid for the duration of the call.
type MessageQueueVisitor func(data []byte, priority uint) error

// MessageQueueSource produces the next message to send, or ok=false when
// nothing is pending.
type MessageQueueSource func() (data []byte, priority uint, ok bool)

// ReceiveMessageQueueReactor drains a POSIX message queue opened for
// receiving.
type ReceiveMessageQueueReactor struct {
	visitor     MessageQueueVisitor
	fd          int
	messageSize int
}

// React implements Reactor.
func (r *ReceiveMessageQueueReactor) React(_ EventFlags, terminate *Terminate) (bool, error) {
	buffer := make([]byte, r.messageSize)
	for terminate.ShouldContinue() {
		n, priority, err := mqReceive(r.fd, buffer)
		switch err {
		case nil:
			if err := r.visitor(buffer[:n], priority); err != nil {
				return false, err
			}
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return false, nil
		default:
			return false, err
		}
	}
	return false, nil
}

// SendMessageQueueReactor feeds a POSIX message queue opened for sending
// whenever it has room.
type SendMessageQueueReactor struct {
	source MessageQueueSource
	fd     int
}

// React implements Reactor.
func (r *SendMessageQueueReactor) React(_ EventFlags, terminate *Terminate) (bool, error) {
	for terminate.ShouldContinue() {
		data, priority, ok := r.source()
		if !ok {
			return false, nil
		}
		switch err := mqSend(r.fd, data, priority); err {
		case nil:
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return false, nil
		default:
			return false, err
		}
	}
	return false, nil
}

// SendAndReceiveMessageQueueReactor combines both directions over a queue
// opened read-write.
type SendAndReceiveMessageQueueReactor struct {
	receive ReceiveMessageQueueReactor
	send    SendMessageQueueReactor
}

// React implements Reactor.
func (r *SendAndReceiveMessageQueueReactor) React(flags EventFlags, terminate *Terminate) (bool, error) {
	if flags.Input() {
		if _, err := r.receive.React(flags, terminate); err != nil {
			return false, err
		}
	}
	if flags.Output() {
		if _, err := r.send.React(flags, terminate); err != nil {
			return false, err
		}
	}
	return false, nil
}

func disposeMessageQueueFd(fd int) {
	if fd > 0 {
		_ = unix.Close(fd)
	}
}

// NewReceiveMessageQueueArena creates an arena for receive-side queue
// reactors.
func NewReceiveMessageQueueArena(capacity int) *Arena[ReceiveMessageQueueReactor] {
	return NewArena[ReceiveMessageQueueReactor](capacity, func(r *ReceiveMessageQueueReactor) {
		disposeMessageQueueFd(r.fd)
	})
}

// NewSendMessageQueueArena creates an arena for send-side queue reactors.
func NewSendMessageQueueArena(capacity int) *Arena[SendMessageQueueReactor] {
	return NewArena[SendMessageQueueReactor](capacity, func(r *SendMessageQueueReactor) {
		disposeMessageQueueFd(r.fd)
	})
}

// NewSendAndReceiveMessageQueueArena creates an arena for bidirectional
// queue reactors.
func NewSendAndReceiveMessageQueueArena(capacity int) *Arena[SendAndReceiveMessageQueueReactor] {
	return NewArena[SendAndReceiveMessageQueueReactor](capacity, func(r *SendAndReceiveMessageQueueReactor) {
		disposeMessageQueueFd(r.receive.fd)
	})
}

// MessageQueueSettings configure mq_open.
type MessageQueueSettings struct {
	// Name is the queue name, beginning with a slash.
	Name string

	// MaximumMessages and MessageSize set the attributes of a queue created
	// here; zero MaximumMessages leaves them to the system defaults. A queue
	// that does not exist is always created; an existing queue is opened
	// with its attributes unchanged.
	MaximumMessages int
	MessageSize     int

	// Mode is the creation mode, eg 0600.
	Mode uint32
}

// RegisterReceiveMessageQueueReactor opens (creating if absent) the
// queue for non-blocking receive and registers it.
func RegisterReceiveMessageQueueReactor(ep *EventPoll, arena *Arena[ReceiveMessageQueueReactor], id CompressedTypeIdentifier, settings MessageQueueSettings, visitor MessageQueueVisitor) error {
	fd, err := mqOpen(settings.Name, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CREAT|unix.O_CLOEXEC, settings.Mode, settings.MaximumMessages, settings.MessageSize)
	if err != nil {
		return newRegistrationError(RegistrationCreation, err)
	}
	messageSize := settings.MessageSize
	if messageSize <= 0 {
		messageSize = 8192
	}
	if err := Register(ep, arena, id, fd, EdgeTriggeredInput, func(slot *ReceiveMessageQueueReactor, fd int) error {
		slot.visitor = visitor
		slot.fd = fd
		slot.messageSize = messageSize
		return nil
	}); err != nil {
		_ = unix.Close(fd)
		return err
	}
	return nil
}

// RegisterSendMessageQueueReactor opens (creating if absent) the queue
// for non-blocking send and registers it.
func RegisterSendMessageQueueReactor(ep *EventPoll, arena *Arena[SendMessageQueueReactor], id CompressedTypeIdentifier, settings MessageQueueSettings, source MessageQueueSource) error {
	fd, err := mqOpen(settings.Name, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CREAT|unix.O_CLOEXEC, settings.Mode, settings.MaximumMessages, settings.MessageSize)
	if err != nil {
		return newRegistrationError(RegistrationCreation, err)
	}
	if err := Register(ep, arena, id, fd, AddFlags(unix.EPOLLOUT|unix.EPOLLET), func(slot *SendMessageQueueReactor, fd int) error {
		slot.source = source
		slot.fd = fd
		return nil
	}); err != nil {
		_ = unix.Close(fd)
		return err
	}
	return nil
}

// RegisterSendAndReceiveMessageQueueReactor opens (creating if absent)
// the queue read-write and registers it for both directions.
func RegisterSendAndReceiveMessageQueueReactor(ep *EventPoll, arena *Arena[SendAndReceiveMessageQueueReactor], id CompressedTypeIdentifier, settings MessageQueueSettings, visitor MessageQueueVisitor, source MessageQueueSource) error {
	fd, err := mqOpen(settings.Name, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CREAT|unix.O_CLOEXEC, settings.Mode, settings.MaximumMessages, settings.MessageSize)
	if err != nil {
		return newRegistrationError(RegistrationCreation, err)
	}
	messageSize := settings.MessageSize
	if messageSize <= 0 {
		messageSize = 8192
	}
	if err := Register(ep, arena, id, fd, EdgeTriggeredInputAndOutput, func(slot *SendAndReceiveMessageQueueReactor, fd int) error {
		slot.receive = ReceiveMessageQueueReactor{visitor: visitor, fd: fd, messageSize: messageSize}
		slot.send = SendMessageQueueReactor{source: source, fd: fd}
		return nil
	}); err != nil {
		_ = unix.Close(fd)
		return err
	}
	return nil
}
