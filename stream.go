//go:build linux

package reactor

import (
	"crypto/x509"

	"golang.org/x/sys/unix"
)

// ByteCounter tracks bytes moved through a stream. Observability only; it
// never affects control flow.
type ByteCounter struct {
	BytesRead    uint64
	BytesWritten uint64
}

func (c *ByteCounter) bytesRead(n int)    { c.BytesRead += uint64(n) }
func (c *ByteCounter) bytesWritten(n int) { c.BytesWritten += uint64(n) }

// PostHandshakeInformation is what a stream can report once handshaking has
// completed. For an unencrypted stream every field is zero.
type PostHandshakeInformation struct {
	PeerCertificates      []*x509.Certificate
	AlpnProtocol          string
	ServerNameIndication  string
	NegotiatedTlsVersion  uint16
	NegotiatedCipherSuite uint16
}

// Stream is the coroutine's view of its socket: blocking-looking reads and
// writes that internally yield on EAGAIN and resume when the kernel reports
// readiness. This is what makes handshakes and application protocols
// expressible as straight-line code.
//
// A Stream must only be used from within the coroutine it was created in.
type Stream interface {
	// ReadData reads into p. Never returns (0, nil) unless p is empty; a
	// clean close by the peer is reported as an error wrapping
	// ErrRemotePeerClosed.
	ReadData(p []byte) (int, error)

	// WriteData writes from p, returning the number of bytes accepted.
	WriteData(p []byte) (int, error)

	// FlushWrittenData flushes buffered writes. ReadData, WriteData and
	// Finish are self-flushing, so calling it is rarely necessary.
	FlushWrittenData() error

	// Finish indicates the user is done with the stream. Unencrypted
	// streams do nothing; TLS streams send a close_notify alert.
	Finish() error

	// PostHandshakeInformation reports negotiated handshake facts.
	// Constructing it is slightly expensive; call it once.
	PostHandshakeInformation() PostHandshakeInformation

	// Counter exposes the stream's byte counter.
	Counter() *ByteCounter
}

// GenericStream is the raw socket + yielder pair every concrete stream is
// built over.
type GenericStream struct {
	yielder *Yielder
	counter ByteCounter
	fd      int
}

func newGenericStream(fd int, yielder *Yielder) *GenericStream {
	return &GenericStream{fd: fd, yielder: yielder}
}

// readRaw loops the non-blocking read syscall, yielding on EAGAIN until the
// kernel reports read readiness.
func (g *GenericStream) readRaw(p []byte) (int, *CompleteError) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(g.fd, p)
		switch err {
		case nil:
			if n == 0 {
				return 0, &CompleteError{Kind: CompleteSocketRead, Cause: ErrRemotePeerClosed}
			}
			g.counter.bytesRead(n)
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			if cerr := g.awaitReadable(); cerr != nil {
				return 0, cerr
			}
		default:
			return 0, completeSocketRead(err)
		}
	}
}

// writeRaw loops the non-blocking write syscall, yielding on EAGAIN until
// the kernel reports write readiness.
func (g *GenericStream) writeRaw(p []byte) (int, *CompleteError) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Write(g.fd, p)
		switch err {
		case nil:
			g.counter.bytesWritten(n)
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			if cerr := g.awaitWritable(); cerr != nil {
				return 0, cerr
			}
		default:
			return 0, completeSocketWrite(err)
		}
	}
}

// awaitReadable yields until a resume reports read readiness. A resume that
// reports only the other direction yields again without retrying.
func (g *GenericStream) awaitReadable() *CompleteError {
	for {
		status := g.yielder.Yields()
		if g.yielder.killed() {
			return completeKilled()
		}
		switch status.Kind {
		case StatusClosedWithError:
			return completeSocketRead(unix.ECONNRESET)
		case StatusRemotePeerClosedCleanly:
			return &CompleteError{Kind: CompleteSocketRead, Cause: ErrRemotePeerClosed}
		default:
			if status.ReadNowReady {
				return nil
			}
		}
	}
}

// awaitWritable yields until a resume reports write readiness. A clean
// close by the peer does not stop writes; the next attempt reports any
// failure itself.
func (g *GenericStream) awaitWritable() *CompleteError {
	for {
		status := g.yielder.Yields()
		if g.yielder.killed() {
			return completeKilled()
		}
		switch status.Kind {
		case StatusClosedWithError:
			return completeSocketWrite(unix.EPIPE)
		case StatusRemotePeerClosedCleanly, StatusInputOrOutputNowAvailable:
			if status.Kind == StatusRemotePeerClosedCleanly || status.WriteNowReady {
				return nil
			}
		}
	}
}

// Counter exposes the byte counter shared by every stream layered over
// this socket.
func (g *GenericStream) Counter() *ByteCounter {
	return &g.counter
}
