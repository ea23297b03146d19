//go:build linux

package reactor

import (
	"net/netip"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ListenerSocketSettings are the socket-level options applied once at
// bind/listen time to a streaming server listener and inherited by accepted
// connections.
type ListenerSocketSettings struct {
	// SendBufferSizeInBytes is SO_SNDBUF.
	SendBufferSizeInBytes int

	// ReceiveBufferSizeInBytes is SO_RCVBUF.
	ReceiveBufferSizeInBytes int

	// IdlesBeforeKeepAliveSeconds is TCP_KEEPIDLE.
	IdlesBeforeKeepAliveSeconds int

	// KeepAliveIntervalSeconds is TCP_KEEPINTVL.
	KeepAliveIntervalSeconds int

	// MaximumKeepAliveProbes is TCP_KEEPCNT.
	MaximumKeepAliveProbes int

	// LingerSeconds is SO_LINGER.
	LingerSeconds int

	// LingerInFinWait2Seconds is TCP_LINGER2.
	LingerInFinWait2Seconds int

	// MaximumSynTransmits is TCP_SYNCNT; zero is rounded up to one.
	MaximumSynTransmits int

	// BackLog is the listen(2) backlog, typically capped by the kernel at
	// 128.
	BackLog int
}

// DefaultListenerSocketSettings returns the production defaults.
func DefaultListenerSocketSettings() ListenerSocketSettings {
	return ListenerSocketSettings{
		SendBufferSizeInBytes:       64 * 1024,
		ReceiveBufferSizeInBytes:    64 * 1024,
		IdlesBeforeKeepAliveSeconds: 60,
		KeepAliveIntervalSeconds:    5,
		MaximumKeepAliveProbes:      5,
		LingerSeconds:               60,
		LingerInFinWait2Seconds:     0,
		MaximumSynTransmits:         1,
		BackLog:                     128,
	}
}

// NewStreamingServerListenerSocket creates, configures, binds and listens a
// TCP listener for address. SO_REUSEPORT is always set so every worker in
// the fleet can bind the same port and accept with exclusive wake-ups.
func NewStreamingServerListenerSocket(address netip.AddrPort, settings ListenerSocketSettings) (int, error) {
	domain := unix.AF_INET
	if address.Addr().Is6() {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, newRegistrationError(RegistrationCreation, err)
	}

	if err := configureStreamingListener(fd, settings); err != nil {
		_ = unix.Close(fd)
		return -1, newRegistrationError(RegistrationNewSocketServerListener, err)
	}

	var sa unix.Sockaddr
	if domain == unix.AF_INET {
		sa4 := &unix.SockaddrInet4{Port: int(address.Port())}
		sa4.Addr = address.Addr().As4()
		sa = sa4
	} else {
		sa6 := &unix.SockaddrInet6{Port: int(address.Port())}
		sa6.Addr = address.Addr().As16()
		sa = sa6
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, newRegistrationError(RegistrationNewSocketServerListener, err)
	}
	if err := unix.Listen(fd, settings.BackLog); err != nil {
		_ = unix.Close(fd)
		return -1, newRegistrationError(RegistrationNewSocketServerListener, err)
	}
	return fd, nil
}

// NewUnixStreamingServerListenerSocket creates, binds and listens a Unix
// domain stream listener at path. Only the send buffer and backlog settings
// apply.
func NewUnixStreamingServerListenerSocket(path string, settings ListenerSocketSettings) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, newRegistrationError(RegistrationCreation, err)
	}
	if settings.SendBufferSizeInBytes != 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, settings.SendBufferSizeInBytes); err != nil {
			_ = unix.Close(fd)
			return -1, newRegistrationError(RegistrationNewSocketServerListener, err)
		}
	}
	_ = os.Remove(path)
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return -1, newRegistrationError(RegistrationNewSocketServerListener, err)
	}
	if err := unix.Listen(fd, settings.BackLog); err != nil {
		_ = unix.Close(fd)
		return -1, newRegistrationError(RegistrationNewSocketServerListener, err)
	}
	return fd, nil
}

func configureStreamingListener(fd int, settings ListenerSocketSettings) error {
	synTransmits := settings.MaximumSynTransmits
	if synTransmits == 0 {
		synTransmits = 1
	}

	type option struct {
		level, name, value int
	}
	options := []option{
		{unix.SOL_SOCKET, unix.SO_REUSEADDR, 1},
		{unix.SOL_SOCKET, unix.SO_REUSEPORT, 1},
		{unix.SOL_SOCKET, unix.SO_SNDBUF, settings.SendBufferSizeInBytes},
		{unix.SOL_SOCKET, unix.SO_RCVBUF, settings.ReceiveBufferSizeInBytes},
		{unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1},
		{unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, settings.IdlesBeforeKeepAliveSeconds},
		{unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, settings.KeepAliveIntervalSeconds},
		{unix.IPPROTO_TCP, unix.TCP_KEEPCNT, settings.MaximumKeepAliveProbes},
		{unix.IPPROTO_TCP, unix.TCP_LINGER2, settings.LingerInFinWait2Seconds},
		{unix.IPPROTO_TCP, unix.TCP_SYNCNT, synTransmits},
	}
	for _, o := range options {
		if err := unix.SetsockoptInt(fd, o.level, o.name, o.value); err != nil {
			return err
		}
	}
	return unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{
		Onoff:  1,
		Linger: int32(settings.LingerSeconds),
	})
}

// LocalAddrPort reports the bound address of a TCP socket, for listeners
// bound to port 0.
func LocalAddrPort(fd int) (netip.AddrPort, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return sockaddrToAddrPort(sa), nil
}

func sockaddrToAddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port))
	default:
		return netip.AddrPort{}
	}
}

// incomingCPU reads the kernel's SO_INCOMING_CPU steering hint for an
// accepted socket. Returns -1 when unavailable.
func incomingCPU(fd int) int {
	cpu, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_INCOMING_CPU)
	if err != nil {
		return -1
	}
	return cpu
}

// currentCPU reports the CPU the calling thread is running on. Returns -1
// when unavailable.
func currentCPU() int {
	var cpu, node uint32
	_, _, errno := unix.Syscall(unix.SYS_GETCPU, uintptr(unsafe.Pointer(&cpu)), uintptr(unsafe.Pointer(&node)), 0)
	if errno != 0 {
		return -1
	}
	return int(cpu)
}
