// Package reactor provides a per-CPU-core event-driven reactor runtime
// built around Linux's edge-triggered readiness interface (epoll).
//
// # Architecture
//
// One worker thread per logical core, each pinned and each owning a private
// [EventPoll]: an interest list, a set of freelist [Arena] pools holding
// reactor state by stable index, a compressed 256-entry dispatch table, and
// a per-iteration filter suppressing spurious events for descriptors closed
// earlier in the same batch. Kernel tokens pack the reactor-type identifier
// with the arena index, so event dispatch is a direct indexed jump with no
// allocation and no map lookup.
//
// Workers cooperate only through lock-free single-consumer rings
// ([github.com/joeycumines/go-reactor/dispatch]) used to hand off accepted
// connections and cross-core control messages.
//
// # Streaming sockets
//
// Each TCP or Unix stream runs as a cooperative coroutine
// ([StreamingSocketReactor]): reads and writes look blocking but yield on
// EAGAIN and resume when readiness is reported, which keeps TLS
// handshakes, SOCKS4a/SOCKS5 negotiation and application protocols as
// straight-line code. Stream factories compose by layering
// ([UnencryptedStreamFactory], [TlsClientStreamFactory],
// [TlsServerStreamFactory], [Socks4aStreamFactory], [Socks5StreamFactory]).
//
// # Thread Safety
//
// Within a worker there is no concurrency: exactly one reactor's React or
// one coroutine runs at a time, and the only suspension points are the
// interest-list wait and [Yielder.Yields]. Arenas, interest lists, dispatch
// tables and TLS sessions are strictly thread-local. The only shared
// mutable state is the cross-core rings and the [Terminate] flag.
//
// # Usage
//
//	process := reactor.NewProcess(reactor.ProcessConfiguration{}, func(w *reactor.Worker) error {
//		streams := reactor.NewStreamingSocketArena(128)
//		streamID := reactor.AttachArena[reactor.StreamingSocketReactor](w.EventPoll, streams)
//		// register listeners, message handlers, ...
//		_ = streamID
//		return nil
//	})
//	if err := process.Execute(); err != nil {
//		os.Exit(1)
//	}
//
// # Error Types
//
// Per-connection failures are [CompleteError] values that close only their
// connection. Registration failures are [RegistrationError]. A kernel
// error from the readiness loop, or an error from a non-coroutine
// reactor's React, is fatal: it flips [Terminate] and takes the process
// down with it.
package reactor
