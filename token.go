//go:build linux

package reactor

import "golang.org/x/sys/unix"

// Token is the 64-bit opaque value stored with each interest-list entry and
// echoed back verbatim by the kernel on readiness. It packs the reactor-type
// index (the dense dispatch-table identifier) with the arena index of the
// owning reactor instance, so event dispatch is a single indexed jump.
//
// Layout: bits 56..63 reactor type index; bits 0..31 arena index. The middle
// bits are reserved and zero.
type Token uint64

const (
	tokenTypeShift = 56
	tokenIndexMask = Token(^uint32(0))
)

// NewToken packs a reactor-type index and an arena index.
func NewToken(reactorType CompressedTypeIdentifier, index ArenaIndex) Token {
	return Token(reactorType)<<tokenTypeShift | Token(index)
}

// ReactorType extracts the reactor-type index.
func (t Token) ReactorType() CompressedTypeIdentifier {
	return CompressedTypeIdentifier(t >> tokenTypeShift)
}

// ArenaIndex extracts the arena index.
func (t Token) ArenaIndex() ArenaIndex {
	return ArenaIndex(t & tokenIndexMask)
}

// The x/sys epoll event type splits the kernel's 64-bit data union into two
// 32-bit fields; these helpers keep the packing in one place.

func tokenToEpollEvent(token Token, events uint32) unix.EpollEvent {
	return unix.EpollEvent{
		Events: events,
		Fd:     int32(uint32(token)),
		Pad:    int32(uint32(token >> 32)),
	}
}

func tokenFromEpollEvent(event *unix.EpollEvent) Token {
	return Token(uint32(event.Fd)) | Token(uint32(event.Pad))<<32
}
