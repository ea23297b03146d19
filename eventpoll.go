//go:build linux

package reactor

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/joeycumines/go-reactor/dispatch"
	"github.com/joeycumines/logiface"
)

// DefaultTimeoutMilliseconds is the default interest-list wait timeout. It
// sets the maximum latency between cross-core message arrival and
// processing, since the ring is drained between iterations.
const DefaultTimeoutMilliseconds = 1

// reactorEntry is one slot of the compressed reactor dispatch table: a
// direct index from the token's type byte to the handler for that reactor
// type's arena. Entries, once written, are never overwritten.
type reactorEntry struct {
	react func(token Token, flags EventFlags, terminate *Terminate) (bool, error)
	close func()
	name  string
}

// EventPoll owns one worker's interest list, its reactor arenas (through
// the dispatch table), and the per-iteration closed-this-batch filter.
//
// Thread Safety: an EventPoll belongs to exactly one worker thread. Only
// one instance per worker is normally required.
type EventPoll struct {
	interestList    *InterestList
	entries         []reactorEntry
	attachedArenas  map[any]CompressedTypeIdentifier
	closedThisBatch map[Token]struct{}
	logger          *logiface.Logger[logiface.Event]
	timeout         int
}

// EventPollOption configures an EventPoll.
type EventPollOption interface {
	applyEventPoll(*EventPoll)
}

type eventPollOptionImpl struct {
	fn func(*EventPoll)
}

func (o *eventPollOptionImpl) applyEventPoll(ep *EventPoll) { o.fn(ep) }

// WithTimeoutMilliseconds sets the interest-list wait timeout.
func WithTimeoutMilliseconds(timeout int) EventPollOption {
	return &eventPollOptionImpl{func(ep *EventPoll) { ep.timeout = timeout }}
}

// WithLogger sets the structured logger. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) EventPollOption {
	return &eventPollOptionImpl{func(ep *EventPoll) { ep.logger = logger }}
}

// NewEventPoll creates a worker's event poll.
func NewEventPoll(opts ...EventPollOption) (*EventPoll, error) {
	interestList, err := NewInterestList()
	if err != nil {
		return nil, err
	}
	ep := &EventPoll{
		interestList:    interestList,
		entries:         make([]reactorEntry, 0, dispatch.TableCapacity),
		attachedArenas:  make(map[any]CompressedTypeIdentifier, dispatch.TableCapacity),
		closedThisBatch: make(map[Token]struct{}, MaximumEvents),
		timeout:         DefaultTimeoutMilliseconds,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyEventPoll(ep)
		}
	}
	return ep, nil
}

// AttachArena registers a reactor arena with the event poll and returns
// the compressed type identifier that tokens for its occupants carry.
// Identifiers are assigned in attach order; the first attach gets 0. A
// worker may attach several arenas of the same reactor type (eg separate
// datagram client and listener pools); each gets its own identifier.
//
// Attaching the same arena twice, or a 257th arena, panics: both are
// wiring bugs, and they are hard errors in every build mode. Arenas must
// all be attached before the first event-loop iteration; hot attach is not
// supported.
func AttachArena[R any, PR interface {
	*R
	Reactor
}](ep *EventPoll, arena *Arena[R]) CompressedTypeIdentifier {
	typ := reflect.TypeFor[R]()
	if _, ok := ep.attachedArenas[arena]; ok {
		panic(fmt.Errorf("%w: %v", dispatch.ErrDuplicateRegistration, typ))
	}
	if len(ep.entries) == dispatch.TableCapacity {
		panic(fmt.Errorf("%w: attaching %v", dispatch.ErrTableFull, typ))
	}

	id := CompressedTypeIdentifier(len(ep.entries))
	ep.entries = append(ep.entries, reactorEntry{
		react: func(token Token, flags EventFlags, terminate *Terminate) (bool, error) {
			index := token.ArenaIndex()
			reactor := PR(arena.Get(index))
			dispose, err := reactor.React(flags, terminate)
			if err != nil {
				return false, err
			}
			if dispose {
				ep.markClosedThisBatch(token)
				arena.Reclaim(index)
			}
			return dispose, nil
		},
		close: arena.Close,
		name:  typ.Name(),
	})
	ep.attachedArenas[arena] = id
	return id
}

// Register allocates an arena slot for a new reactor of the type identified
// by id, computes the token, and adds fd to the interest list. On a failed
// add the slot is released and a RegistrationAdd error returned. On success
// the initializer runs with the uninitialized slot; it is the only safe
// point to move fd (and any payload) into the slot, and it must either
// succeed and take ownership, or fail having already cleaned up.
func Register[R any](ep *EventPoll, arena *Arena[R], id CompressedTypeIdentifier, fd int, flags AddFlags, initializer func(slot *R, fd int) error) error {
	slot, index, err := arena.Allocate()
	if err != nil {
		return newRegistrationError(RegistrationAllocation, err)
	}

	token := NewToken(id, index)
	if err := ep.interestList.Add(fd, flags, token); err != nil {
		arena.abandon(index)
		return newRegistrationError(RegistrationAdd, err)
	}

	return initializer(slot, fd)
}

// EventLoopIteration performs one iteration: wait on the interest list,
// route each ready token through the reactor dispatch table, suppress
// tokens whose reactor was disposed earlier in the same batch.
//
// An interrupted wait re-waits while terminate permits, else returns nil.
// Any other wait error, or an error from a react call, flips terminate and
// is returned: kernel and reactor errors are fatal to the worker.
func (ep *EventPoll) EventLoopIteration(terminate *Terminate) error {
	clear(ep.closedThisBatch)

	events, err := ep.interestList.Wait(ep.timeout)
	for err != nil {
		if !errors.Is(err, ErrInterrupted) {
			terminate.BeginTerminationWithError(err)
			return err
		}
		if !terminate.ShouldContinue() {
			return nil
		}
		events, err = ep.interestList.Wait(ep.timeout)
	}

	for i := range events {
		token := tokenFromEpollEvent(&events[i])
		if _, closed := ep.closedThisBatch[token]; closed {
			continue
		}

		entry := ep.entry(token.ReactorType())
		if _, err := entry.react(token, EventFlags(events[i].Events), terminate); err != nil {
			ep.logger.Err().
				Str("reactor", entry.name).
				Err(err).
				Log("reactor failed; beginning termination")
			terminate.BeginTerminationWithError(err)
			return err
		}
	}
	return nil
}

// markClosedThisBatch records a disposed reactor's token so later events
// for the same descriptor within this batch are suppressed. A token can
// only be disposed once per batch; a second insertion means a double close
// slipped through.
func (ep *EventPoll) markClosedThisBatch(token Token) {
	if _, present := ep.closedThisBatch[token]; present {
		panic("reactor: spurious event not captured; double close of file descriptor")
	}
	ep.closedThisBatch[token] = struct{}{}
}

func (ep *EventPoll) entry(id CompressedTypeIdentifier) *reactorEntry {
	if int(id) >= len(ep.entries) {
		panic(fmt.Sprintf("reactor: token names reactor type %d beyond table of %d entries", id, len(ep.entries)))
	}
	return &ep.entries[id]
}

// Close disposes every attached arena's occupants, then releases the
// interest list. Used at worker shutdown.
func (ep *EventPoll) Close() error {
	for i := range ep.entries {
		ep.entries[i].close()
	}
	return ep.interestList.Close()
}
