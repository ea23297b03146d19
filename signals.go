//go:build linux

package reactor

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// SignalHandler is invoked once per signal drained from the aggregate
// signalfd. An error is fatal to the worker.
type SignalHandler func(info *unix.SignalfdSiginfo) error

// AllSignalsReactor forces all signals to be handled through the readiness
// loop: one signalfd carries the full signal mask, and signals arrive as
// ordinary readable events instead of asynchronous interrupts.
type AllSignalsReactor struct {
	handler SignalHandler
	fd      int
}

const signalfdSiginfoSize = int(unsafe.Sizeof(unix.SignalfdSiginfo{}))

// React implements Reactor: drain the signalfd, invoking the handler per
// signal. Would-block ends the drain; any read failure beyond that is
// fatal, since a blocked-signal-mask thread should never see EINTR here.
func (r *AllSignalsReactor) React(_ EventFlags, terminate *Terminate) (bool, error) {
	buffer := make([]byte, signalfdSiginfoSize*32)
	for terminate.ShouldContinue() {
		n, err := unix.Read(r.fd, buffer)
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			return false, fmt.Errorf("reactor: signalfd read failed: %w", err)
		}
		for offset := 0; offset+signalfdSiginfoSize <= n; offset += signalfdSiginfoSize {
			if !terminate.ShouldContinue() {
				break
			}
			info := (*unix.SignalfdSiginfo)(unsafe.Pointer(&buffer[offset]))
			if err := r.handler(info); err != nil {
				return false, fmt.Errorf("reactor: could not handle signal %d: %w", info.Signo, err)
			}
		}
	}
	return false, nil
}

func disposeAllSignalsReactor(r *AllSignalsReactor) {
	if r.fd > 0 {
		_ = unix.Close(r.fd)
	}
}

// NewAllSignalsArena creates an arena for signal reactors; one occupant per
// worker is typical.
func NewAllSignalsArena(capacity int) *Arena[AllSignalsReactor] {
	return NewArena[AllSignalsReactor](capacity, disposeAllSignalsReactor)
}

// RegisterAllSignalsReactor creates a signalfd covering the full signal
// mask and registers it. Signal delivery via the fd only works because
// workers block all signals; BlockAllSignals must already have run on the
// calling thread.
func RegisterAllSignalsReactor(ep *EventPoll, arena *Arena[AllSignalsReactor], id CompressedTypeIdentifier, handler SignalHandler) error {
	var mask unix.Sigset_t
	fillSigset(&mask)
	fd, err := unix.Signalfd(-1, &mask, unix.SFD_NONBLOCK|unix.SFD_CLOEXEC)
	if err != nil {
		return newRegistrationError(RegistrationCreation, err)
	}

	if err := Register(ep, arena, id, fd, EdgeTriggeredInput, func(slot *AllSignalsReactor, fd int) error {
		slot.handler = handler
		slot.fd = fd
		return nil
	}); err != nil {
		_ = unix.Close(fd)
		return err
	}
	return nil
}

// fillSigset sets every signal in the set. 64 covers the real-time range
// on every Linux architecture Go supports.
func fillSigset(set *unix.Sigset_t) {
	for signal := 1; signal <= 64; signal++ {
		sigaddset(set, signal)
	}
}

func sigaddset(set *unix.Sigset_t, signal int) {
	signal--
	set.Val[signal/64] |= 1 << (uint(signal) % 64)
}

// BlockAllSignals blocks every signal on the calling thread. Workers call
// it first thing: signals of interest are delivered via signalfd, never as
// asynchronous interrupts.
func BlockAllSignals() error {
	var mask unix.Sigset_t
	fillSigset(&mask)
	return unix.PthreadSigmask(unix.SIG_BLOCK, &mask, nil)
}
