//go:build linux

package reactor

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"time"
)

// yieldingConn adapts a GenericStream to net.Conn so the TLS session can
// drive the transport; reads and writes yield inside the coroutine exactly
// like every other stream operation. Deadlines are unsupported and ignored:
// the readiness loop is the only timer.
type yieldingConn struct {
	generic *GenericStream
}

type streamAddr struct{}

func (streamAddr) Network() string { return "tcp" }
func (streamAddr) String() string  { return "reactor-stream" }

func (c *yieldingConn) Read(p []byte) (int, error) {
	n, err := c.generic.readRaw(p)
	if err != nil {
		if errors.Is(err, ErrRemotePeerClosed) {
			return n, io.EOF
		}
		return n, err
	}
	return n, nil
}

func (c *yieldingConn) Write(p []byte) (int, error) {
	n, err := c.generic.writeRaw(p)
	if err != nil {
		return n, err
	}
	return n, nil
}

// Close implements net.Conn without closing the descriptor: the reactor
// owns the fd, and it is closed by arena reclamation.
func (c *yieldingConn) Close() error { return nil }

func (c *yieldingConn) LocalAddr() net.Addr  { return streamAddr{} }
func (c *yieldingConn) RemoteAddr() net.Addr { return streamAddr{} }

func (c *yieldingConn) SetDeadline(time.Time) error      { return nil }
func (c *yieldingConn) SetReadDeadline(time.Time) error  { return nil }
func (c *yieldingConn) SetWriteDeadline(time.Time) error { return nil }

// tlsStream is the shared shape of client and server TLS streams: a TLS
// session whose transport reads and writes run through the coroutine.
type tlsStream struct {
	generic *GenericStream
	session *tls.Conn
}

func (s *tlsStream) handshake() error {
	if err := s.session.Handshake(); err != nil {
		return completeTls(classifyTlsError(err))
	}
	return nil
}

// classifyTlsError maps a crypto/tls failure to the TLS error taxonomy.
func classifyTlsError(err error) *TlsInputOutputError {
	var complete *CompleteError
	if errors.As(err, &complete) {
		switch complete.Kind {
		case CompleteSocketRead:
			return &TlsInputOutputError{Kind: TlsSocketRead, Cause: complete}
		case CompleteSocketWrite, CompleteSocketVectoredWrite:
			return &TlsInputOutputError{Kind: TlsSocketVectoredWrite, Cause: complete}
		}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &TlsInputOutputError{Kind: TlsEndOfFileWhilstHandshaking, Cause: err}
	}
	return &TlsInputOutputError{Kind: TlsProcessNewPackets, Cause: err}
}

// ReadData implements Stream.
func (s *tlsStream) ReadData(p []byte) (int, error) {
	n, err := s.session.Read(p)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, completeTls(&TlsInputOutputError{Kind: TlsCloseNotifyAlertReceived, Cause: ErrRemotePeerClosed})
		}
		var complete *CompleteError
		if errors.As(err, &complete) {
			return n, complete
		}
		return n, completeTls(&TlsInputOutputError{Kind: TlsProcessNewPackets, Cause: err})
	}
	return n, nil
}

// WriteData implements Stream.
func (s *tlsStream) WriteData(p []byte) (int, error) {
	n, err := s.session.Write(p)
	if err != nil {
		var complete *CompleteError
		if errors.As(err, &complete) {
			return n, complete
		}
		return n, completeTls(&TlsInputOutputError{Kind: TlsProcessNewPackets, Cause: err})
	}
	return n, nil
}

// FlushWrittenData implements Stream; the session writes through.
func (s *tlsStream) FlushWrittenData() error { return nil }

// Finish implements Stream by sending a close_notify alert. The descriptor
// stays open; it belongs to the reactor.
func (s *tlsStream) Finish() error {
	if err := s.session.CloseWrite(); err != nil {
		var complete *CompleteError
		if errors.As(err, &complete) {
			return complete
		}
		return completeTls(&TlsInputOutputError{Kind: TlsSocketVectoredWrite, Cause: err})
	}
	return nil
}

// PostHandshakeInformation implements Stream.
func (s *tlsStream) PostHandshakeInformation() PostHandshakeInformation {
	state := s.session.ConnectionState()
	return PostHandshakeInformation{
		PeerCertificates:      state.PeerCertificates,
		AlpnProtocol:          state.NegotiatedProtocol,
		ServerNameIndication:  state.ServerName,
		NegotiatedTlsVersion:  state.Version,
		NegotiatedCipherSuite: state.CipherSuite,
	}
}

// Counter implements Stream.
func (s *tlsStream) Counter() *ByteCounter {
	return s.generic.Counter()
}

// TlsClientStream is a client-side TLS session over a streaming socket.
type TlsClientStream struct {
	tlsStream
}

// TlsServerStream is a server-side TLS session over a streaming socket.
type TlsServerStream struct {
	tlsStream
}

// TlsClientStreamFactory layers a client TLS session over the raw socket
// and completes the handshake before handing the stream to the user. args
// may be a string overriding the configured server name, or nil.
type TlsClientStreamFactory struct {
	// Configuration is the read-only client TLS configuration, shared
	// across connections.
	Configuration *tls.Config
}

// NewStreamAndHandshake implements StreamFactory.
func (f *TlsClientStreamFactory) NewStreamAndHandshake(generic *GenericStream, args any) (Stream, error) {
	configuration := f.Configuration
	if serverName, ok := args.(string); ok && serverName != "" {
		configuration = configuration.Clone()
		configuration.ServerName = serverName
	}
	stream := &TlsClientStream{tlsStream{
		generic: generic,
		session: tls.Client(&yieldingConn{generic: generic}, configuration),
	}}
	if err := stream.handshake(); err != nil {
		return nil, err
	}
	return stream, nil
}

// TlsServerStreamFactory layers a server TLS session over the raw socket
// and completes the handshake before handing the stream to the user. args
// is ignored.
type TlsServerStreamFactory struct {
	// Configuration is the read-only server TLS configuration, shared
	// across connections.
	Configuration *tls.Config
}

// NewStreamAndHandshake implements StreamFactory.
func (f *TlsServerStreamFactory) NewStreamAndHandshake(generic *GenericStream, _ any) (Stream, error) {
	stream := &TlsServerStream{tlsStream{
		generic: generic,
		session: tls.Server(&yieldingConn{generic: generic}, f.Configuration),
	}}
	if err := stream.handshake(); err != nil {
		return nil, err
	}
	return stream, nil
}
