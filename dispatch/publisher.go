package dispatch

import "errors"

// Standard errors.
var (
	// ErrNoSuchCore is returned when publishing to a core outside the
	// worker set and no fallback resolves.
	ErrNoSuchCore = errors.New("dispatch: no ring for logical core")
)

// Continuer is the subset of the runtime's termination flag the dispatcher
// consults while draining.
type Continuer interface {
	ShouldContinue() bool
}

// Publisher fans messages out to per-core rings. It assumes a
// thread-per-logical-core model: one ring per worker, indexed by logical
// core identifier, with nil holes for cores outside the worker set.
//
// Publisher is safe for concurrent use: each ring accepts multiple
// producers.
type Publisher struct {
	rings []*Ring
}

// NewPublisher allocates one ring of ringCapacity bytes per identifier in
// cores. The slice is indexed by logical core identifier, so it is as long
// as the largest identifier plus one.
func NewPublisher(cores []int, ringCapacity int) (*Publisher, error) {
	highest := -1
	for _, core := range cores {
		if core > highest {
			highest = core
		}
	}
	p := &Publisher{rings: make([]*Ring, highest+1)}
	for _, core := range cores {
		ring, err := NewRing(ringCapacity)
		if err != nil {
			return nil, err
		}
		p.rings[core] = ring
	}
	return p, nil
}

// Ring returns the ring for a logical core, or nil when the core is outside
// the worker set.
func (p *Publisher) Ring(core int) *Ring {
	if core < 0 || core >= len(p.rings) {
		return nil
	}
	return p.rings[core]
}

// PublishMessage publishes value to the ring of core, falling back to
// fallbackCore when core is outside the worker set (SO_INCOMING_CPU can
// name a CPU this process does not run on).
func PublishMessage[T any](p *Publisher, core, fallbackCore int, id CompressedTypeIdentifier, value T) error {
	ring := p.Ring(core)
	if ring == nil {
		ring = p.Ring(fallbackCore)
	}
	if ring == nil {
		return ErrNoSuchCore
	}
	return Publish(ring, id, value)
}

// PerThreadSubscriber is the consumer side of one worker's ring. It drains
// messages through a handler table between event-loop iterations.
//
// Not safe for concurrent use; it belongs to exactly one worker.
type PerThreadSubscriber struct {
	ring     *Ring
	handlers *HandlerTable
}

// NewPerThreadSubscriber binds the ring for this worker's core to its
// handler table.
func NewPerThreadSubscriber(ring *Ring, handlers *HandlerTable) *PerThreadSubscriber {
	return &PerThreadSubscriber{ring: ring, handlers: handlers}
}

// Handlers returns the subscriber's handler table, for registration.
func (s *PerThreadSubscriber) Handlers() *HandlerTable {
	return s.handlers
}

// ReceiveAndHandleMessages drains the ring through the handler table.
// It short-circuits when terminate trips or a handler returns an error.
// The messages-available hint elides the drain entirely when the ring is
// idle.
func (s *PerThreadSubscriber) ReceiveAndHandleMessages(terminate Continuer) error {
	if s.ring.MessagesAvailableHint() == 0 {
		return nil
	}
	var keepGoing func() bool
	if terminate != nil {
		keepGoing = terminate.ShouldContinue
	}
	_, err := s.ring.Consume(s.handlers.Call, keepGoing)
	return err
}

// Close drains any remaining messages through their drop routines, so
// payloads owning resources (accepted descriptors, above all) are released
// on worker shutdown.
func (s *PerThreadSubscriber) Close() {
	_, _ = s.ring.Consume(func(id CompressedTypeIdentifier, payload []byte) error {
		s.handlers.Drop(id, payload)
		return nil
	}, nil)
}
