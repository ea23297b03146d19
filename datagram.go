//go:build linux

package reactor

import (
	"net/netip"

	"golang.org/x/sys/unix"
)

// DatagramVisitor receives one datagram and the peer it came from. For
// connected client sockets peer is nil. The data slice is only valid for
// the duration of the call.
type DatagramVisitor func(data []byte, peer unix.Sockaddr) error

// DatagramReactor drains datagrams from a socket, client or listener, any
// address family. The recvfrom loop is identical across all six datagram
// kinds; construction differs.
type DatagramReactor struct {
	visitor DatagramVisitor
	fd      int
}

// React implements Reactor.
func (r *DatagramReactor) React(_ EventFlags, terminate *Terminate) (bool, error) {
	buffer := make([]byte, 64*1024)
	for terminate.ShouldContinue() {
		n, peer, err := unix.Recvfrom(r.fd, buffer, 0)
		switch err {
		case nil:
			if err := r.visitor(buffer[:n], peer); err != nil {
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

func disposeDatagramReactor(r *DatagramReactor) {
	if r.fd > 0 {
		_ = unix.Close(r.fd)
	}
}

// NewDatagramArena creates an arena for datagram reactors.
func NewDatagramArena(capacity int) *Arena[DatagramReactor] {
	return NewArena[DatagramReactor](capacity, disposeDatagramReactor)
}

// RegisterDatagramClientSocket creates a UDP socket connected to remote and
// registers it.
func RegisterDatagramClientSocket(ep *EventPoll, arena *Arena[DatagramReactor], id CompressedTypeIdentifier, remote netip.AddrPort, visitor DatagramVisitor) error {
	domain := unix.AF_INET
	var sa unix.Sockaddr
	if remote.Addr().Is6() {
		domain = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: int(remote.Port())}
		sa6.Addr = remote.Addr().As16()
		sa = sa6
	} else {
		sa4 := &unix.SockaddrInet4{Port: int(remote.Port())}
		sa4.Addr = remote.Addr().As4()
		sa = sa4
	}

	fd, err := unix.Socket(domain, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_UDP)
	if err != nil {
		return newRegistrationError(RegistrationCreation, err)
	}
	if err := unix.Connect(fd, sa); err != nil {
		_ = unix.Close(fd)
		return newRegistrationError(RegistrationCreation, err)
	}
	return registerDatagram(ep, arena, id, fd, visitor)
}

// RegisterDatagramServerListenerSocket creates a UDP socket bound to local
// (with SO_REUSEPORT for fleet operation) and registers it.
func RegisterDatagramServerListenerSocket(ep *EventPoll, arena *Arena[DatagramReactor], id CompressedTypeIdentifier, local netip.AddrPort, visitor DatagramVisitor) error {
	domain := unix.AF_INET
	var sa unix.Sockaddr
	if local.Addr().Is6() {
		domain = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: int(local.Port())}
		sa6.Addr = local.Addr().As16()
		sa = sa6
	} else {
		sa4 := &unix.SockaddrInet4{Port: int(local.Port())}
		sa4.Addr = local.Addr().As4()
		sa = sa4
	}

	fd, err := unix.Socket(domain, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_UDP)
	if err != nil {
		return newRegistrationError(RegistrationCreation, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		_ = unix.Close(fd)
		return newRegistrationError(RegistrationNewSocketServerListener, err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return newRegistrationError(RegistrationNewSocketServerListener, err)
	}
	return registerDatagram(ep, arena, id, fd, visitor)
}

// RegisterUnixDatagramSocket registers a Unix domain datagram socket bound
// to path (listener) or connected to path (client).
func RegisterUnixDatagramSocket(ep *EventPoll, arena *Arena[DatagramReactor], id CompressedTypeIdentifier, path string, listen bool, visitor DatagramVisitor) error {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return newRegistrationError(RegistrationCreation, err)
	}
	sa := &unix.SockaddrUnix{Name: path}
	if listen {
		err = unix.Bind(fd, sa)
	} else {
		err = unix.Connect(fd, sa)
	}
	if err != nil {
		_ = unix.Close(fd)
		return newRegistrationError(RegistrationCreation, err)
	}
	return registerDatagram(ep, arena, id, fd, visitor)
}

func registerDatagram(ep *EventPoll, arena *Arena[DatagramReactor], id CompressedTypeIdentifier, fd int, visitor DatagramVisitor) error {
	if err := Register(ep, arena, id, fd, EdgeTriggeredInput, func(slot *DatagramReactor, fd int) error {
		slot.visitor = visitor
		slot.fd = fd
		return nil
	}); err != nil {
		_ = unix.Close(fd)
		return err
	}
	return nil
}
