//go:build linux

package reactor

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func inet4Peer(a, b, c, d byte) *unix.SockaddrInet4 {
	return &unix.SockaddrInet4{Addr: [4]byte{a, b, c, d}, Port: 12345}
}

func TestAccessControlDenyThenAllow(t *testing.T) {
	control := &RemotePeerAddressBasedAccessControl{
		DeniedVersion4Subnets: []netip.Prefix{
			netip.MustParsePrefix("10.0.0.0/8"),
			netip.MustParsePrefix("192.168.1.0/24"),
		},
		PermittedVersion4Subnets: []netip.Prefix{
			netip.MustParsePrefix("192.168.0.0/16"),
		},
	}

	// Denied beats permitted.
	assert.False(t, control.IsRemotePeerAllowed(inet4Peer(10, 1, 2, 3), -1))
	assert.False(t, control.IsRemotePeerAllowed(inet4Peer(192, 168, 1, 9), -1))

	// Permitted, not denied.
	assert.True(t, control.IsRemotePeerAllowed(inet4Peer(192, 168, 2, 9), -1))

	// Neither denied nor permitted.
	assert.False(t, control.IsRemotePeerAllowed(inet4Peer(8, 8, 8, 8), -1))
}

func TestAccessControlNilPermittedListAdmitsEverything(t *testing.T) {
	control := &RemotePeerAddressBasedAccessControl{
		DeniedVersion4Subnets: []netip.Prefix{netip.MustParsePrefix("127.0.0.0/8")},
	}
	assert.False(t, control.IsRemotePeerAllowed(inet4Peer(127, 0, 0, 1), -1))
	assert.True(t, control.IsRemotePeerAllowed(inet4Peer(1, 1, 1, 1), -1))
}

func TestAccessControlVersion6(t *testing.T) {
	control := &RemotePeerAddressBasedAccessControl{
		DeniedVersion6Subnets:    []netip.Prefix{netip.MustParsePrefix("fd00::/8")},
		PermittedVersion6Subnets: []netip.Prefix{netip.MustParsePrefix("2001:db8::/32")},
	}

	denied := &unix.SockaddrInet6{Addr: netip.MustParseAddr("fd00::1").As16()}
	permitted := &unix.SockaddrInet6{Addr: netip.MustParseAddr("2001:db8::1").As16()}
	other := &unix.SockaddrInet6{Addr: netip.MustParseAddr("2606:4700::1").As16()}

	assert.False(t, control.IsRemotePeerAllowed(denied, -1))
	assert.True(t, control.IsRemotePeerAllowed(permitted, -1))
	assert.False(t, control.IsRemotePeerAllowed(other, -1))
}

func TestAccessControlUnixDomainCredentials(t *testing.T) {
	control := &RemotePeerAddressBasedAccessControl{
		DeniedUnixDomainUserIdentifiers: map[uint32]struct{}{0: {}},
	}

	// A real socketpair provides SO_PEERCRED for the current process.
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	assert.NoError(t, err)
	defer func() { _ = unix.Close(fds[0]) }()
	defer func() { _ = unix.Close(fds[1]) }()

	peer := &unix.SockaddrUnix{Name: "@test"}
	allowed := control.IsRemotePeerAllowed(peer, fds[0])
	if unix.Getuid() == 0 {
		assert.False(t, allowed, "uid 0 is on the deny list")
	} else {
		assert.True(t, allowed)
	}
}

func TestAllowAllAccessControl(t *testing.T) {
	assert.True(t, AllowAllAccessControl{}.IsRemotePeerAllowed(inet4Peer(0, 0, 0, 0), -1))
}
