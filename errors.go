package reactor

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrArenaExhausted is returned by Arena.Allocate when no slot is free.
	ErrArenaExhausted = errors.New("reactor: arena exhausted")

	// ErrInterrupted is returned by InterestList.Wait when the wait syscall
	// was interrupted by a signal (EINTR).
	ErrInterrupted = errors.New("reactor: wait interrupted")

	// ErrKilled is returned by stream operations resumed after termination
	// has begun.
	ErrKilled = errors.New("reactor: killed by termination")

	// ErrRemotePeerClosed is returned by stream reads when the peer closed
	// its end cleanly (EOF or TLS close_notify).
	ErrRemotePeerClosed = errors.New("reactor: remote peer closed cleanly")
)

// RegistrationErrorKind classifies why EventPoll registration failed.
type RegistrationErrorKind uint8

const (
	// RegistrationCreation means the file descriptor could not be created.
	RegistrationCreation RegistrationErrorKind = iota

	// RegistrationAllocation means the reactor arena was exhausted.
	RegistrationAllocation

	// RegistrationAdd means the interest-list add syscall failed.
	RegistrationAdd

	// RegistrationNewSocketServerListener means bind or listen failed.
	RegistrationNewSocketServerListener
)

func (k RegistrationErrorKind) String() string {
	switch k {
	case RegistrationCreation:
		return "Creation"
	case RegistrationAllocation:
		return "Allocation"
	case RegistrationAdd:
		return "Add"
	case RegistrationNewSocketServerListener:
		return "NewSocketServerListener"
	default:
		return fmt.Sprintf("RegistrationErrorKind(%d)", k)
	}
}

// RegistrationError is returned by EventPoll registration paths.
type RegistrationError struct {
	Cause error
	Kind  RegistrationErrorKind
}

func (e *RegistrationError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("reactor: registration failed (%s)", e.Kind)
	}
	return fmt.Sprintf("reactor: registration failed (%s): %v", e.Kind, e.Cause)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *RegistrationError) Unwrap() error {
	return e.Cause
}

func newRegistrationError(kind RegistrationErrorKind, cause error) *RegistrationError {
	return &RegistrationError{Kind: kind, Cause: cause}
}

// CompleteErrorKind classifies how a streaming-socket coroutine failed.
type CompleteErrorKind uint8

const (
	// CompleteSocketRead wraps a socket read failure.
	CompleteSocketRead CompleteErrorKind = iota

	// CompleteSocketWrite wraps a socket write failure.
	CompleteSocketWrite

	// CompleteSocketVectoredRead wraps a vectored socket read failure.
	CompleteSocketVectoredRead

	// CompleteSocketVectoredWrite wraps a vectored socket write failure.
	CompleteSocketVectoredWrite

	// CompleteTls wraps a TLS session failure.
	CompleteTls

	// CompleteInvalidData means peer data was syntactically unusable.
	CompleteInvalidData

	// CompleteProtocolViolation wraps a typed protocol failure (eg SOCKS).
	CompleteProtocolViolation

	// CompleteKilled means the coroutine observed termination mid-operation.
	CompleteKilled

	// CompleteUndifferentiated wraps an otherwise unclassified I/O failure.
	CompleteUndifferentiated
)

func (k CompleteErrorKind) String() string {
	switch k {
	case CompleteSocketRead:
		return "SocketRead"
	case CompleteSocketWrite:
		return "SocketWrite"
	case CompleteSocketVectoredRead:
		return "SocketVectoredRead"
	case CompleteSocketVectoredWrite:
		return "SocketVectoredWrite"
	case CompleteTls:
		return "Tls"
	case CompleteInvalidData:
		return "InvalidData"
	case CompleteProtocolViolation:
		return "ProtocolViolation"
	case CompleteKilled:
		return "Killed"
	case CompleteUndifferentiated:
		return "Undifferentiated"
	default:
		return fmt.Sprintf("CompleteErrorKind(%d)", k)
	}
}

// CompleteError is the error type a streaming-socket coroutine completes
// with. Completion with a non-nil CompleteError disposes the reactor; the
// error never propagates past the owning connection.
type CompleteError struct {
	Cause   error
	Message string
	Kind    CompleteErrorKind
}

func (e *CompleteError) Error() string {
	switch {
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("reactor: %s: %s: %v", e.Kind, e.Message, e.Cause)
	case e.Message != "":
		return fmt.Sprintf("reactor: %s: %s", e.Kind, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("reactor: %s: %v", e.Kind, e.Cause)
	default:
		return fmt.Sprintf("reactor: %s", e.Kind)
	}
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *CompleteError) Unwrap() error {
	return e.Cause
}

func completeSocketRead(cause error) *CompleteError {
	return &CompleteError{Kind: CompleteSocketRead, Cause: cause}
}

func completeSocketWrite(cause error) *CompleteError {
	return &CompleteError{Kind: CompleteSocketWrite, Cause: cause}
}

func completeInvalidData(message string) *CompleteError {
	return &CompleteError{Kind: CompleteInvalidData, Message: message}
}

func completeProtocolViolation(cause error) *CompleteError {
	return &CompleteError{Kind: CompleteProtocolViolation, Cause: cause}
}

func completeKilled() *CompleteError {
	return &CompleteError{Kind: CompleteKilled, Cause: ErrKilled}
}

func completeTls(cause *TlsInputOutputError) *CompleteError {
	return &CompleteError{Kind: CompleteTls, Cause: cause}
}

// TlsInputOutputErrorKind classifies TLS transport failures.
type TlsInputOutputErrorKind uint8

const (
	// TlsSocketRead wraps a transport read failure during TLS progress.
	TlsSocketRead TlsInputOutputErrorKind = iota

	// TlsSocketVectoredWrite wraps a transport write failure during TLS
	// progress.
	TlsSocketVectoredWrite

	// TlsEndOfFileWhilstHandshaking means the peer vanished mid-handshake.
	TlsEndOfFileWhilstHandshaking

	// TlsCloseNotifyAlertReceived means the peer sent close_notify.
	TlsCloseNotifyAlertReceived

	// TlsProcessNewPackets wraps a TLS protocol failure from the session.
	TlsProcessNewPackets
)

func (k TlsInputOutputErrorKind) String() string {
	switch k {
	case TlsSocketRead:
		return "SocketRead"
	case TlsSocketVectoredWrite:
		return "SocketVectoredWrite"
	case TlsEndOfFileWhilstHandshaking:
		return "EndOfFileWhilstHandshaking"
	case TlsCloseNotifyAlertReceived:
		return "CloseNotifyAlertReceived"
	case TlsProcessNewPackets:
		return "ProcessNewPackets"
	default:
		return fmt.Sprintf("TlsInputOutputErrorKind(%d)", k)
	}
}

// TlsInputOutputError is the TLS-specific error carried by CompleteError.
type TlsInputOutputError struct {
	Cause error
	Kind  TlsInputOutputErrorKind
}

func (e *TlsInputOutputError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("reactor: tls %s", e.Kind)
	}
	return fmt.Sprintf("reactor: tls %s: %v", e.Kind, e.Cause)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *TlsInputOutputError) Unwrap() error {
	return e.Cause
}
