//go:build linux

package reactor

import (
	"net/netip"

	"golang.org/x/sys/unix"
)

// AccessControl decides whether a freshly accepted remote peer may proceed.
// Rejected peers are closed immediately, before any handoff.
type AccessControl interface {
	IsRemotePeerAllowed(peer unix.Sockaddr, fd int) bool
}

// AllowAllAccessControl admits every peer.
type AllowAllAccessControl struct{}

// IsRemotePeerAllowed implements AccessControl.
func (AllowAllAccessControl) IsRemotePeerAllowed(unix.Sockaddr, int) bool { return true }

// RemotePeerAddressBasedAccessControl holds deny and permitted lists for
// remote Internet Protocol version 4 and version 6 subnets; the deny list
// is checked first, and, if the address is not present, the permitted list
// is then checked. This allows generic white-listing rules (eg all of the
// regular internet) and then explicit exemptions (eg these networks in this
// country).
//
// For Unix domain sockets there is a deny list of user identifiers and a
// permitted list of (primary) group identifiers, checked the same way.
//
// A nil permitted list admits everything the deny list does not refuse.
//
// Read-only after construction; shared across listeners.
type RemotePeerAddressBasedAccessControl struct {
	DeniedVersion4Subnets    []netip.Prefix
	PermittedVersion4Subnets []netip.Prefix
	DeniedVersion6Subnets    []netip.Prefix
	PermittedVersion6Subnets []netip.Prefix

	DeniedUnixDomainUserIdentifiers     map[uint32]struct{}
	PermittedUnixDomainGroupIdentifiers map[uint32]struct{}
}

// IsRemotePeerAllowed implements AccessControl.
func (c *RemotePeerAddressBasedAccessControl) IsRemotePeerAllowed(peer unix.Sockaddr, fd int) bool {
	switch peer := peer.(type) {
	case *unix.SockaddrInet4:
		return allowedBySubnets(netip.AddrFrom4(peer.Addr), c.DeniedVersion4Subnets, c.PermittedVersion4Subnets)
	case *unix.SockaddrInet6:
		return allowedBySubnets(netip.AddrFrom16(peer.Addr), c.DeniedVersion6Subnets, c.PermittedVersion6Subnets)
	case *unix.SockaddrUnix:
		credentials, err := unix.GetsockoptUcred(fd, unix.SOL_SOCKET, unix.SO_PEERCRED)
		if err != nil {
			return false
		}
		if _, denied := c.DeniedUnixDomainUserIdentifiers[credentials.Uid]; denied {
			return false
		}
		if c.PermittedUnixDomainGroupIdentifiers == nil {
			return true
		}
		_, permitted := c.PermittedUnixDomainGroupIdentifiers[credentials.Gid]
		return permitted
	default:
		return false
	}
}

func allowedBySubnets(address netip.Addr, denied, permitted []netip.Prefix) bool {
	for _, prefix := range denied {
		if prefix.Contains(address) {
			return false
		}
	}
	if permitted == nil {
		return true
	}
	for _, prefix := range permitted {
		if prefix.Contains(address) {
			return true
		}
	}
	return false
}
