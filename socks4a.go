//go:build linux

package reactor

import (
	"fmt"
	"net/netip"
)

const (
	socks4Version        = 4
	socks4CommandConnect = 1

	// socks4aMaximumHostName is the longest host name accepted, the DNS
	// limit for a fully qualified domain name.
	socks4aMaximumHostName = 253
)

// Socks4aProtocolFailureKind classifies SOCKS4a failures.
type Socks4aProtocolFailureKind uint8

const (
	Socks4aVersionInvalid Socks4aProtocolFailureKind = iota
	Socks4aCommandCodeWasInvalid
	Socks4aRequestRejectedOrFailed
	Socks4aRequestRejectedBecauseSocksServerCanNotConnectToIdentdOnTheClient
	Socks4aRequestRejectedBecauseTheClientProgramAndIdentdReportDifferentUserIdentifiers
)

func (k Socks4aProtocolFailureKind) String() string {
	switch k {
	case Socks4aVersionInvalid:
		return "VersionInvalid"
	case Socks4aCommandCodeWasInvalid:
		return "CommandCodeWasInvalid"
	case Socks4aRequestRejectedOrFailed:
		return "RequestRejectedOrFailed"
	case Socks4aRequestRejectedBecauseSocksServerCanNotConnectToIdentdOnTheClient:
		return "RequestRejectedBecauseSocksServerCanNotConnectToIdentdOnTheClient"
	case Socks4aRequestRejectedBecauseTheClientProgramAndIdentdReportDifferentUserIdentifiers:
		return "RequestRejectedBecauseTheClientProgramAndIdentdReportDifferentUserIdentifiers"
	default:
		return fmt.Sprintf("Socks4aProtocolFailureKind(%d)", k)
	}
}

// Socks4aProtocolFailureError is a typed SOCKS4a protocol failure. Value
// carries the offending wire byte for the *Invalid kinds.
type Socks4aProtocolFailureError struct {
	Kind  Socks4aProtocolFailureKind
	Value uint8
}

func (e *Socks4aProtocolFailureError) Error() string {
	switch e.Kind {
	case Socks4aVersionInvalid, Socks4aCommandCodeWasInvalid:
		return fmt.Sprintf("reactor: socks4a %s (0x%02X)", e.Kind, e.Value)
	default:
		return fmt.Sprintf("reactor: socks4a %s", e.Kind)
	}
}

// Socks4aConnect is the data required to establish a SOCKS4a client
// CONNECT: either a destination IPv4 address or a host name (the 4a
// extension), plus the destination port and the optional user identifier.
//
// HostName is used when DestinationAddress is not a valid IPv4 address.
type Socks4aConnect struct {
	HostName           string
	UserIdentifier     string
	DestinationAddress netip.Addr
	DestinationPort    uint16
}

// writePacket encodes the CONNECT request:
// VN CD DSTPORT(2) DSTIP(4) USERID NUL [HOSTNAME NUL].
// The 4a host-name form puts 0.0.0.1 in DSTIP.
func (c *Socks4aConnect) writePacket() ([]byte, error) {
	useHostName := !c.DestinationAddress.Is4()
	if useHostName {
		if c.HostName == "" {
			return nil, completeInvalidData("the host name is empty")
		}
		if len(c.HostName) > socks4aMaximumHostName {
			return nil, completeInvalidData("the host name exceeds 253 bytes, the maximum for a DNS fully qualified domain name (FQDN)")
		}
	}

	packet := make([]byte, 0, 8+len(c.UserIdentifier)+1+len(c.HostName)+1)
	packet = append(packet, socks4Version, socks4CommandConnect)
	packet = append(packet, byte(c.DestinationPort>>8), byte(c.DestinationPort))
	if useHostName {
		packet = append(packet, 0, 0, 0, 1)
	} else {
		ip := c.DestinationAddress.As4()
		packet = append(packet, ip[:]...)
	}
	packet = append(packet, c.UserIdentifier...)
	packet = append(packet, 0)
	if useHostName {
		packet = append(packet, c.HostName...)
		packet = append(packet, 0)
	}
	return packet, nil
}

// readSocks4aConnectReply consumes the 8-byte reply: a zero version byte, a
// command byte, and 6 junk bytes (nominally DSTPORT and DSTIP; see the
// OpenSSH socks4.protocol notes). Command 0x5A is success.
func readSocks4aConnectReply(stream *UnencryptedStream) error {
	var reply [8]byte
	if err := stream.readFull(reply[:1]); err != nil {
		return err
	}
	if reply[0] != 0 {
		return completeProtocolViolation(&Socks4aProtocolFailureError{Kind: Socks4aVersionInvalid, Value: reply[0]})
	}

	if err := stream.readFull(reply[1:2]); err != nil {
		return err
	}
	switch reply[1] {
	case 90:
	case 91:
		return completeProtocolViolation(&Socks4aProtocolFailureError{Kind: Socks4aRequestRejectedOrFailed})
	case 92:
		return completeProtocolViolation(&Socks4aProtocolFailureError{Kind: Socks4aRequestRejectedBecauseSocksServerCanNotConnectToIdentdOnTheClient})
	case 93:
		return completeProtocolViolation(&Socks4aProtocolFailureError{Kind: Socks4aRequestRejectedBecauseTheClientProgramAndIdentdReportDifferentUserIdentifiers})
	default:
		return completeProtocolViolation(&Socks4aProtocolFailureError{Kind: Socks4aCommandCodeWasInvalid, Value: reply[1]})
	}

	return stream.readFull(reply[2:])
}

// Socks4aArguments parameterizes one connection through a
// Socks4aStreamFactory.
type Socks4aArguments struct {
	Connect Socks4aConnect

	// Inner is handed to the inner factory once the CONNECT succeeds.
	Inner any
}

// Socks4aStreamFactory drives a SOCKS4a CONNECT over the raw socket, then
// hands the socket and yielder to Inner (which may itself layer TLS on
// top). args must be a *Socks4aArguments.
type Socks4aStreamFactory struct {
	Inner StreamFactory
}

// NewStreamAndHandshake implements StreamFactory.
func (f *Socks4aStreamFactory) NewStreamAndHandshake(generic *GenericStream, args any) (Stream, error) {
	arguments, ok := args.(*Socks4aArguments)
	if !ok {
		return nil, completeInvalidData("socks4a factory requires *Socks4aArguments")
	}

	stream := NewUnencryptedStream(generic)

	packet, err := arguments.Connect.writePacket()
	if err != nil {
		return nil, err
	}
	if err := stream.writeAll(packet); err != nil {
		return nil, err
	}
	if err := readSocks4aConnectReply(stream); err != nil {
		return nil, err
	}

	return f.Inner.NewStreamAndHandshake(generic, arguments.Inner)
}
