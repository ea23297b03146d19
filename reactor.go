package reactor

import "github.com/joeycumines/go-reactor/dispatch"

// CompressedTypeIdentifier is the one-byte dense index shared by the
// reactor dispatch table, event-poll tokens, and the cross-core message
// format.
type CompressedTypeIdentifier = dispatch.CompressedTypeIdentifier

// Reactor is implemented once per descriptor kind. Every reactor owns its
// file descriptor; when React returns dispose=true ownership passes to the
// arena reclamation path, which closes it.
//
// React is called when the kernel reports readiness for the reactor's
// descriptor. Returning (true, nil) requests disposal; (false, nil) stays
// registered; a non-nil error aborts the worker.
type Reactor interface {
	React(flags EventFlags, terminate *Terminate) (dispose bool, err error)
}

// ReactorKind distinguishes the descriptor kinds the runtime ships reactors
// for. Kinds are a naming convention for arena setup; dispatch uses the
// dense CompressedTypeIdentifier assigned at attach time, not this value.
type ReactorKind uint8

const (
	KindCharacterDevice ReactorKind = iota
	KindEventPoll
	KindEvent
	KindFANotify
	KindINotify
	KindReceivePipe
	KindSendPipe
	KindReceivePosixMessageQueue
	KindSendPosixMessageQueue
	KindSendAndReceivePosixMessageQueue
	KindSignal
	KindTerminal
	KindTimer
	KindDatagramClientSocketInternetProtocolVersion4
	KindDatagramClientSocketInternetProtocolVersion6
	KindDatagramClientSocketUnixDomain
	KindDatagramServerListenerSocketInternetProtocolVersion4
	KindDatagramServerListenerSocketInternetProtocolVersion6
	KindDatagramServerListenerSocketUnixDomain
	KindStreamingSocketInternetProtocolVersion4
	KindStreamingSocketInternetProtocolVersion6
	KindStreamingSocketUnixDomain
	KindStreamingServerListenerSocketInternetProtocolVersion4
	KindStreamingServerListenerSocketInternetProtocolVersion6
	KindStreamingServerListenerSocketUnixDomain

	kindCount
)

func (k ReactorKind) String() string {
	switch k {
	case KindCharacterDevice:
		return "CharacterDevice"
	case KindEventPoll:
		return "EventPoll"
	case KindEvent:
		return "Event"
	case KindFANotify:
		return "FANotify"
	case KindINotify:
		return "INotify"
	case KindReceivePipe:
		return "ReceivePipe"
	case KindSendPipe:
		return "SendPipe"
	case KindReceivePosixMessageQueue:
		return "ReceivePosixMessageQueue"
	case KindSendPosixMessageQueue:
		return "SendPosixMessageQueue"
	case KindSendAndReceivePosixMessageQueue:
		return "SendAndReceivePosixMessageQueue"
	case KindSignal:
		return "Signal"
	case KindTerminal:
		return "Terminal"
	case KindTimer:
		return "Timer"
	case KindDatagramClientSocketInternetProtocolVersion4:
		return "DatagramClientSocketInternetProtocolVersion4"
	case KindDatagramClientSocketInternetProtocolVersion6:
		return "DatagramClientSocketInternetProtocolVersion6"
	case KindDatagramClientSocketUnixDomain:
		return "DatagramClientSocketUnixDomain"
	case KindDatagramServerListenerSocketInternetProtocolVersion4:
		return "DatagramServerListenerSocketInternetProtocolVersion4"
	case KindDatagramServerListenerSocketInternetProtocolVersion6:
		return "DatagramServerListenerSocketInternetProtocolVersion6"
	case KindDatagramServerListenerSocketUnixDomain:
		return "DatagramServerListenerSocketUnixDomain"
	case KindStreamingSocketInternetProtocolVersion4:
		return "StreamingSocketInternetProtocolVersion4"
	case KindStreamingSocketInternetProtocolVersion6:
		return "StreamingSocketInternetProtocolVersion6"
	case KindStreamingSocketUnixDomain:
		return "StreamingSocketUnixDomain"
	case KindStreamingServerListenerSocketInternetProtocolVersion4:
		return "StreamingServerListenerSocketInternetProtocolVersion4"
	case KindStreamingServerListenerSocketInternetProtocolVersion6:
		return "StreamingServerListenerSocketInternetProtocolVersion6"
	case KindStreamingServerListenerSocketUnixDomain:
		return "StreamingServerListenerSocketUnixDomain"
	default:
		return "Unknown"
	}
}
