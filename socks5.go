//go:build linux

package reactor

import (
	"fmt"
	"net/netip"
)

const (
	socks5Version        = 5
	socks5CommandConnect = 0x01

	socks5MethodNoAuthentication   = 0x00
	socks5MethodUserNamePassword   = 0x02
	socks5NoAcceptableMethods      = 0xFF
	socks5UserNamePasswordVersion  = 0x01
	socks5MaximumHostName          = 253
	socks5AddressTypeIPv4          = 0x01
	socks5AddressTypeHostName      = 0x03
	socks5AddressTypeIPv6          = 0x04
)

// Socks5ProtocolFailureKind classifies SOCKS5 failures, covering every
// reply code plus the malformed-reply cases.
type Socks5ProtocolFailureKind uint8

const (
	Socks5VersionInvalid Socks5ProtocolFailureKind = iota
	Socks5GeneralSocksServerFailure
	Socks5ConnectionNotAllowedByRuleset
	Socks5NetworkUnreachable
	Socks5HostUnreachable
	Socks5ConnectionRefused
	Socks5TimeToLiveExpired
	Socks5CommandNotSupported
	Socks5AddressTypeNotSupported
	Socks5UnassignedError
	Socks5ReplyRsvFieldWasNotZero
	Socks5ReplyContainedAnUnrecognisedAddressType
	Socks5EmptyUserName
	Socks5EmptyPassword
	Socks5NoAcceptableAuthenticationMethodsSupplied
	Socks5CredentialCodeInReplyWasNeverSentByClient
	Socks5UserNamePasswordVersionInvalid
	Socks5UserNamePasswordAuthenticationFailed
	Socks5HostNameInReplyWasEmpty
	Socks5HostNameInReplyWasTooLarge
)

func (k Socks5ProtocolFailureKind) String() string {
	switch k {
	case Socks5VersionInvalid:
		return "VersionInvalid"
	case Socks5GeneralSocksServerFailure:
		return "GeneralSocksServerFailure"
	case Socks5ConnectionNotAllowedByRuleset:
		return "ConnectionNotAllowedByRuleset"
	case Socks5NetworkUnreachable:
		return "NetworkUnreachable"
	case Socks5HostUnreachable:
		return "HostUnreachable"
	case Socks5ConnectionRefused:
		return "ConnectionRefused"
	case Socks5TimeToLiveExpired:
		return "TimeToLiveExpired"
	case Socks5CommandNotSupported:
		return "CommandNotSupported"
	case Socks5AddressTypeNotSupported:
		return "AddressTypeNotSupported"
	case Socks5UnassignedError:
		return "UnassignedError"
	case Socks5ReplyRsvFieldWasNotZero:
		return "ReplyRsvFieldWasNotZero"
	case Socks5ReplyContainedAnUnrecognisedAddressType:
		return "ReplyContainedAnUnrecognisedAddressType"
	case Socks5EmptyUserName:
		return "EmptyUserName"
	case Socks5EmptyPassword:
		return "EmptyPassword"
	case Socks5NoAcceptableAuthenticationMethodsSupplied:
		return "NoAcceptableAuthenticationMethodsSupplied"
	case Socks5CredentialCodeInReplyWasNeverSentByClient:
		return "CredentialCodeInReplyWasNeverSentByClient"
	case Socks5UserNamePasswordVersionInvalid:
		return "UserNamePasswordVersionInvalid"
	case Socks5UserNamePasswordAuthenticationFailed:
		return "UserNamePasswordAuthenticationFailed"
	case Socks5HostNameInReplyWasEmpty:
		return "HostNameInReplyWasEmpty"
	case Socks5HostNameInReplyWasTooLarge:
		return "HostNameInReplyWasTooLarge"
	default:
		return fmt.Sprintf("Socks5ProtocolFailureKind(%d)", k)
	}
}

// Socks5ProtocolFailureError is a typed SOCKS5 protocol failure. Value
// carries the offending wire byte where the kind has one.
type Socks5ProtocolFailureError struct {
	Kind  Socks5ProtocolFailureKind
	Value uint8
}

func (e *Socks5ProtocolFailureError) Error() string {
	switch e.Kind {
	case Socks5VersionInvalid, Socks5UnassignedError, Socks5ReplyContainedAnUnrecognisedAddressType,
		Socks5UserNamePasswordAuthenticationFailed, Socks5HostNameInReplyWasTooLarge:
		return fmt.Sprintf("reactor: socks5 %s (0x%02X)", e.Kind, e.Value)
	default:
		return fmt.Sprintf("reactor: socks5 %s", e.Kind)
	}
}

func socks5Error(kind Socks5ProtocolFailureKind) error {
	return completeProtocolViolation(&Socks5ProtocolFailureError{Kind: kind})
}

func socks5ErrorValue(kind Socks5ProtocolFailureKind, value uint8) error {
	return completeProtocolViolation(&Socks5ProtocolFailureError{Kind: kind, Value: value})
}

// Socks5AuthenticationCredentials selects the methods offered in the
// version-identifier exchange. A nil value offers only no-authentication.
type Socks5AuthenticationCredentials struct {
	UserName string
	Password string
}

func (c *Socks5AuthenticationCredentials) methods() []byte {
	if c == nil {
		return []byte{socks5MethodNoAuthentication}
	}
	return []byte{socks5MethodNoAuthentication, socks5MethodUserNamePassword}
}

func (c *Socks5AuthenticationCredentials) offered(method byte) bool {
	for _, m := range c.methods() {
		if m == method {
			return true
		}
	}
	return false
}

// negotiate runs the RFC 1929 username/password sub-negotiation.
func (c *Socks5AuthenticationCredentials) negotiate(stream *UnencryptedStream) error {
	if c == nil {
		return socks5Error(Socks5CredentialCodeInReplyWasNeverSentByClient)
	}
	if c.UserName == "" {
		return socks5Error(Socks5EmptyUserName)
	}
	if c.Password == "" {
		return socks5Error(Socks5EmptyPassword)
	}
	if len(c.UserName) > 255 || len(c.Password) > 255 {
		return completeInvalidData("socks5 user name and password are limited to 255 octets each")
	}

	packet := make([]byte, 0, 3+len(c.UserName)+len(c.Password))
	packet = append(packet, socks5UserNamePasswordVersion, byte(len(c.UserName)))
	packet = append(packet, c.UserName...)
	packet = append(packet, byte(len(c.Password)))
	packet = append(packet, c.Password...)
	if err := stream.writeAll(packet); err != nil {
		return err
	}

	var reply [2]byte
	if err := stream.readFull(reply[:]); err != nil {
		return err
	}
	if reply[0] != socks5UserNamePasswordVersion {
		return socks5Error(Socks5UserNamePasswordVersionInvalid)
	}
	if reply[1] != 0 {
		return socks5ErrorValue(Socks5UserNamePasswordAuthenticationFailed, reply[1])
	}
	return nil
}

// Socks5Connect is the data required to establish a SOCKS5 client CONNECT:
// a destination IPv4/IPv6 address or a host name, plus the destination
// port.
type Socks5Connect struct {
	HostName           string
	DestinationAddress netip.Addr
	DestinationPort    uint16
}

// writePacket encodes the CONNECT request:
// VER CMD RSV ATYP DSTADDR DSTPORT(2).
func (c *Socks5Connect) writePacket() ([]byte, error) {
	packet := make([]byte, 0, 4+1+socks5MaximumHostName+2)
	packet = append(packet, socks5Version, socks5CommandConnect, 0x00)

	switch {
	case c.DestinationAddress.Is4():
		ip := c.DestinationAddress.As4()
		packet = append(packet, socks5AddressTypeIPv4)
		packet = append(packet, ip[:]...)
	case c.DestinationAddress.Is6():
		ip := c.DestinationAddress.As16()
		packet = append(packet, socks5AddressTypeIPv6)
		packet = append(packet, ip[:]...)
	default:
		if c.HostName == "" {
			return nil, completeInvalidData("the host name is empty")
		}
		if len(c.HostName) > socks5MaximumHostName {
			return nil, completeInvalidData("the host name exceeds 253 bytes, the maximum for a DNS fully qualified domain name (FQDN)")
		}
		packet = append(packet, socks5AddressTypeHostName, byte(len(c.HostName)))
		packet = append(packet, c.HostName...)
	}

	packet = append(packet, byte(c.DestinationPort>>8), byte(c.DestinationPort))
	return packet, nil
}

// Socks5BoundSocketAddress is the server-side bound address returned in the
// CONNECT reply. Exactly one of Address and HostName is meaningful.
type Socks5BoundSocketAddress struct {
	HostName string
	Address  netip.Addr
	Port     uint16
}

// readSocks5ConnectReply parses VER REP RSV ATYP BNDADDR BNDPORT(2),
// mapping every reply code to its typed error.
func readSocks5ConnectReply(stream *UnencryptedStream) (Socks5BoundSocketAddress, error) {
	var bound Socks5BoundSocketAddress
	var fixed [4]byte
	if err := stream.readFull(fixed[:1]); err != nil {
		return bound, err
	}
	if fixed[0] != socks5Version {
		return bound, socks5ErrorValue(Socks5VersionInvalid, fixed[0])
	}

	if err := stream.readFull(fixed[1:2]); err != nil {
		return bound, err
	}
	switch fixed[1] {
	case 0x00:
	case 0x01:
		return bound, socks5Error(Socks5GeneralSocksServerFailure)
	case 0x02:
		return bound, socks5Error(Socks5ConnectionNotAllowedByRuleset)
	case 0x03:
		return bound, socks5Error(Socks5NetworkUnreachable)
	case 0x04:
		return bound, socks5Error(Socks5HostUnreachable)
	case 0x05:
		return bound, socks5Error(Socks5ConnectionRefused)
	case 0x06:
		return bound, socks5Error(Socks5TimeToLiveExpired)
	case 0x07:
		return bound, socks5Error(Socks5CommandNotSupported)
	case 0x08:
		return bound, socks5Error(Socks5AddressTypeNotSupported)
	default:
		return bound, socks5ErrorValue(Socks5UnassignedError, fixed[1])
	}

	if err := stream.readFull(fixed[2:4]); err != nil {
		return bound, err
	}
	if fixed[2] != 0x00 {
		return bound, socks5Error(Socks5ReplyRsvFieldWasNotZero)
	}

	switch fixed[3] {
	case socks5AddressTypeIPv4:
		var address [4]byte
		if err := stream.readFull(address[:]); err != nil {
			return bound, err
		}
		bound.Address = netip.AddrFrom4(address)
	case socks5AddressTypeIPv6:
		var address [16]byte
		if err := stream.readFull(address[:]); err != nil {
			return bound, err
		}
		bound.Address = netip.AddrFrom16(address)
	case socks5AddressTypeHostName:
		var length [1]byte
		if err := stream.readFull(length[:]); err != nil {
			return bound, err
		}
		if length[0] == 0 {
			return bound, socks5Error(Socks5HostNameInReplyWasEmpty)
		}
		if int(length[0]) > socks5MaximumHostName {
			return bound, socks5ErrorValue(Socks5HostNameInReplyWasTooLarge, length[0])
		}
		hostName := make([]byte, length[0])
		if err := stream.readFull(hostName); err != nil {
			return bound, err
		}
		bound.HostName = string(hostName)
	default:
		return bound, socks5ErrorValue(Socks5ReplyContainedAnUnrecognisedAddressType, fixed[3])
	}

	var port [2]byte
	if err := stream.readFull(port[:]); err != nil {
		return bound, err
	}
	bound.Port = uint16(port[0])<<8 | uint16(port[1])
	return bound, nil
}

// Socks5Arguments parameterizes one connection through a
// Socks5StreamFactory.
type Socks5Arguments struct {
	Connect Socks5Connect

	// Credentials enables the username/password method; nil offers only
	// no-authentication.
	Credentials *Socks5AuthenticationCredentials

	// Inner is handed to the inner factory once the CONNECT succeeds.
	Inner any
}

// Socks5StreamFactory drives a SOCKS5 negotiation (version-identifier
// exchange, per-method sub-negotiation, CONNECT) over the raw socket, then
// hands the socket and yielder to Inner. args must be a *Socks5Arguments.
type Socks5StreamFactory struct {
	Inner StreamFactory
}

// NewStreamAndHandshake implements StreamFactory.
func (f *Socks5StreamFactory) NewStreamAndHandshake(generic *GenericStream, args any) (Stream, error) {
	arguments, ok := args.(*Socks5Arguments)
	if !ok {
		return nil, completeInvalidData("socks5 factory requires *Socks5Arguments")
	}

	stream := NewUnencryptedStream(generic)

	methods := arguments.Credentials.methods()
	greeting := make([]byte, 0, 2+len(methods))
	greeting = append(greeting, socks5Version, byte(len(methods)))
	greeting = append(greeting, methods...)
	if err := stream.writeAll(greeting); err != nil {
		return nil, err
	}

	var methodReply [2]byte
	if err := stream.readFull(methodReply[:]); err != nil {
		return nil, err
	}
	if methodReply[0] != socks5Version {
		return nil, socks5ErrorValue(Socks5VersionInvalid, methodReply[0])
	}
	switch chosen := methodReply[1]; {
	case chosen == socks5NoAcceptableMethods:
		return nil, socks5Error(Socks5NoAcceptableAuthenticationMethodsSupplied)
	case !arguments.Credentials.offered(chosen):
		return nil, socks5ErrorValue(Socks5CredentialCodeInReplyWasNeverSentByClient, chosen)
	case chosen == socks5MethodUserNamePassword:
		if err := arguments.Credentials.negotiate(stream); err != nil {
			return nil, err
		}
	}

	packet, err := arguments.Connect.writePacket()
	if err != nil {
		return nil, err
	}
	if err := stream.writeAll(packet); err != nil {
		return nil, err
	}
	if _, err := readSocks5ConnectReply(stream); err != nil {
		return nil, err
	}

	return f.Inner.NewStreamAndHandshake(generic, arguments.Inner)
}
