//go:build linux

package reactor

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-reactor/dispatch"
)

// AcceptedStreamingSocket is the cross-core message conveying an accepted
// descriptor and its connection-initiation data. It is pointer-free: it
// travels through the raw byte ring.
//
// ServiceIdentifier names which service listener accepted the connection,
// so the consuming worker knows which stream-factory pipeline to
// instantiate.
type AcceptedStreamingSocket struct {
	FileDescriptor    int32
	ServiceIdentifier uint8
	AddressFamily     uint8
	Port              uint16
	Address           [16]byte
}

func acceptedStreamingSocketMessage(fd int, service uint8, peer unix.Sockaddr) AcceptedStreamingSocket {
	message := AcceptedStreamingSocket{
		FileDescriptor:    int32(fd),
		ServiceIdentifier: service,
	}
	switch peer := peer.(type) {
	case *unix.SockaddrInet4:
		message.AddressFamily = unix.AF_INET
		message.Port = uint16(peer.Port)
		copy(message.Address[:4], peer.Addr[:])
	case *unix.SockaddrInet6:
		message.AddressFamily = unix.AF_INET6
		message.Port = uint16(peer.Port)
		copy(message.Address[:], peer.Addr[:])
	case *unix.SockaddrUnix:
		message.AddressFamily = unix.AF_UNIX
	}
	return message
}

// RegisterAcceptedStreamingSocketMessage registers the accepted-socket
// message with a worker's handler table. handle consumes ownership of the
// descriptor; the drop routine closes descriptors discarded unconsumed at
// shutdown.
func RegisterAcceptedStreamingSocketMessage(handlers *dispatch.HandlerTable, handle func(*AcceptedStreamingSocket) error) CompressedTypeIdentifier {
	return dispatch.RegisterHandlerWithDrop(handlers, handle, func(message *AcceptedStreamingSocket) {
		if message.FileDescriptor > 0 {
			_ = unix.Close(int(message.FileDescriptor))
		}
	})
}

// FileDescriptorDistributor batches accepted descriptors per destination
// core during an accept loop and flushes them into the cross-core rings
// afterwards. A full destination ring is retried until it has room.
// Descriptors that cannot be distributed (publishing fails for any reason
// other than a full ring, or termination begins while the ring is full)
// are closed: a connection nobody will service must not leak.
type FileDescriptorDistributor struct {
	publisher   *dispatch.Publisher
	pending     [][]AcceptedStreamingSocket
	terminate   *Terminate
	messageID   CompressedTypeIdentifier
	currentCore int
	batchLimit  int
}

// NewFileDescriptorDistributor creates the distributor for an accepting
// worker. currentCore is the accepting worker's own logical core, the
// fallback destination when SO_INCOMING_CPU names a core outside the
// worker set.
func NewFileDescriptorDistributor(publisher *dispatch.Publisher, messageID CompressedTypeIdentifier, currentCore, batchLimit int, terminate *Terminate) *FileDescriptorDistributor {
	if batchLimit <= 0 {
		batchLimit = 64
	}
	return &FileDescriptorDistributor{
		publisher:   publisher,
		pending:     make([][]AcceptedStreamingSocket, 0),
		terminate:   terminate,
		messageID:   messageID,
		currentCore: currentCore,
		batchLimit:  batchLimit,
	}
}

// Assign buffers an accepted descriptor for the core identified by the
// kernel's steering hint.
func (d *FileDescriptorDistributor) Assign(message AcceptedStreamingSocket, hintedCore int) {
	core := hintedCore
	if core < 0 || d.publisher.Ring(core) == nil {
		core = d.currentCore
	}
	for core >= len(d.pending) {
		d.pending = append(d.pending, nil)
	}
	d.pending[core] = append(d.pending[core], message)
	if len(d.pending[core]) >= d.batchLimit {
		d.flush(core)
	}
}

// Distribute flushes every pending batch. Called once per accept wake-up,
// after the accept loop hits EAGAIN.
func (d *FileDescriptorDistributor) Distribute() {
	for core := range d.pending {
		if len(d.pending[core]) != 0 {
			d.flush(core)
		}
	}
}

func (d *FileDescriptorDistributor) flush(core int) {
	pending := d.pending[core]
	d.pending[core] = pending[:0]
	for _, message := range pending {
		for {
			err := dispatch.PublishMessage(d.publisher, core, d.currentCore, d.messageID, message)
			if err == nil {
				break
			}
			if err != dispatch.ErrRingFull || !d.terminate.ShouldContinue() {
				_ = unix.Close(int(message.FileDescriptor))
				break
			}
			// Destination ring full: the consumer is live and draining, so
			// yield the thread briefly rather than dropping the connection.
			runtime.Gosched()
		}
	}
}
