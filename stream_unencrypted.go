//go:build linux

package reactor

// UnencryptedStream is a raw stream with a no-op handshake. Useful directly
// for plaintext protocols, and as the transport the SOCKS factories run
// their negotiation over before handing off to an inner factory.
type UnencryptedStream struct {
	generic *GenericStream
}

// NewUnencryptedStream wraps a raw socket.
func NewUnencryptedStream(generic *GenericStream) *UnencryptedStream {
	return &UnencryptedStream{generic: generic}
}

// ReadData implements Stream.
func (s *UnencryptedStream) ReadData(p []byte) (int, error) {
	n, err := s.generic.readRaw(p)
	if err != nil {
		return n, err
	}
	return n, nil
}

// WriteData implements Stream.
func (s *UnencryptedStream) WriteData(p []byte) (int, error) {
	n, err := s.generic.writeRaw(p)
	if err != nil {
		return n, err
	}
	return n, nil
}

// FlushWrittenData implements Stream. Raw sockets buffer nothing here.
func (s *UnencryptedStream) FlushWrittenData() error {
	return nil
}

// Finish implements Stream.
func (s *UnencryptedStream) Finish() error {
	return nil
}

// PostHandshakeInformation implements Stream. No handshaking occurs, so
// nothing useful is available.
func (s *UnencryptedStream) PostHandshakeInformation() PostHandshakeInformation {
	return PostHandshakeInformation{}
}

// Counter implements Stream.
func (s *UnencryptedStream) Counter() *ByteCounter {
	return s.generic.Counter()
}

// writeAll writes the whole of p, looping short writes. Handshake packets
// are written with this.
func (s *UnencryptedStream) writeAll(p []byte) error {
	for len(p) > 0 {
		n, err := s.WriteData(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// readFull reads exactly len(p) bytes.
func (s *UnencryptedStream) readFull(p []byte) error {
	for read := 0; read < len(p); {
		n, err := s.ReadData(p[read:])
		if err != nil {
			return err
		}
		read += n
	}
	return nil
}

// StreamFactory adapts a raw accepted or connected socket into a completed
// Stream, driving any handshake through the coroutine's yielder. Factories
// compose by layering: a SOCKS factory negotiates over an unencrypted
// stream, then hands the raw socket and yielder to its inner factory, which
// may itself layer TLS on top.
//
// The args value is factory-specific; see each factory's documentation.
type StreamFactory interface {
	NewStreamAndHandshake(generic *GenericStream, args any) (Stream, error)
}

// UnencryptedStreamFactory produces UnencryptedStreams. args is ignored.
type UnencryptedStreamFactory struct{}

// NewStreamAndHandshake implements StreamFactory. The handshake is a no-op.
func (UnencryptedStreamFactory) NewStreamAndHandshake(generic *GenericStream, _ any) (Stream, error) {
	return NewUnencryptedStream(generic), nil
}
