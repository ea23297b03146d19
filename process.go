//go:build linux

package reactor

import (
	"os"
	"os/signal"
	"runtime"
	"sync"
	"time"

	"github.com/joeycumines/go-reactor/dispatch"
	"github.com/joeycumines/logiface"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sys/unix"
)

// DefaultRingCapacityBytes is the per-worker cross-core ring size.
const DefaultRingCapacityBytes = 1 << 20

// ProcessConfiguration configures the per-core worker fleet.
type ProcessConfiguration struct {
	// Logger is the structured logger shared by the orchestrator and the
	// workers. Nil disables logging.
	Logger *logiface.Logger[logiface.Event]

	// LogicalCores are the cores to run workers on, one worker per core.
	// Empty means one worker per schedulable CPU (respecting any cgroup
	// quota).
	LogicalCores []int

	// RingCapacityBytes sizes each worker's inbound cross-core ring.
	RingCapacityBytes int

	// TimeoutMilliseconds is the interest-list wait timeout per iteration.
	TimeoutMilliseconds int

	// RunningInteractively additionally treats SIGHUP, SIGINT and SIGQUIT
	// as shutdown requests (SIGTERM always is).
	RunningInteractively bool
}

// Worker is one per-core scheduler: an event poll, the subscriber end of
// this core's ring, and the publisher reaching every other core. The setup
// callback attaches arenas and registers initial reactors; the worker then
// alternates event-loop iterations with ring drains until termination.
type Worker struct {
	EventPoll   *EventPoll
	Subscriber  *dispatch.PerThreadSubscriber
	Publisher   *dispatch.Publisher
	Terminate   *Terminate
	Logger      *logiface.Logger[logiface.Event]
	LogicalCore int
}

// WorkerSetup runs on the worker's own pinned thread before its first
// event-loop iteration.
type WorkerSetup func(worker *Worker) error

// Process spawns one worker per configured logical core and supervises
// them until a shutdown signal or a fatal worker error.
type Process struct {
	configuration ProcessConfiguration
	setup         WorkerSetup
	terminate     *Terminate
}

var maxprocsOnce sync.Once

// NewProcess creates a process orchestrator. setup is invoked once per
// worker.
func NewProcess(configuration ProcessConfiguration, setup WorkerSetup) *Process {
	maxprocsOnce.Do(func() {
		// Respect container CPU quota when defaulting the worker count.
		_, _ = maxprocs.Set()
	})
	if len(configuration.LogicalCores) == 0 {
		n := runtime.GOMAXPROCS(0)
		configuration.LogicalCores = make([]int, n)
		for i := range configuration.LogicalCores {
			configuration.LogicalCores[i] = i
		}
	}
	if configuration.RingCapacityBytes == 0 {
		configuration.RingCapacityBytes = DefaultRingCapacityBytes
	}
	if configuration.TimeoutMilliseconds == 0 {
		configuration.TimeoutMilliseconds = DefaultTimeoutMilliseconds
	}
	return &Process{
		configuration: configuration,
		setup:         setup,
		terminate:     &Terminate{},
	}
}

// Terminate exposes the shared termination flag, for embedding the process
// into a larger lifecycle.
func (p *Process) Terminate() *Terminate {
	return p.terminate
}

// Execute spawns the workers, waits for a shutdown signal (or a fatal
// worker error), then joins the workers. The returned error is the first
// irrecoverable failure, or nil for an orderly signal-driven shutdown.
func (p *Process) Execute() error {
	publisher, err := dispatch.NewPublisher(p.configuration.LogicalCores, p.configuration.RingCapacityBytes)
	if err != nil {
		return err
	}

	var waitGroup sync.WaitGroup
	for _, core := range p.configuration.LogicalCores {
		waitGroup.Add(1)
		go p.runWorker(&waitGroup, publisher, core)
	}

	p.waitForShutdownSignal()
	p.terminate.BeginTermination()
	waitGroup.Wait()

	if err := p.terminate.TerminationReason(); err != nil {
		p.configuration.Logger.Err().
			Err(err).
			Log("terminated due to irrecoverable error")
		return err
	}
	p.configuration.Logger.Info().Log("terminated")
	return nil
}

// waitForShutdownSignal parks until a shutdown signal arrives or a worker
// flips the terminate flag. The Go runtime owns process signal
// disposition, so this is the runtime's equivalent of waiting on a blocked
// signal set; workers still block every signal so descriptor-level signal
// handling (signalfd reactors) behaves as on a plain kernel thread.
func (p *Process) waitForShutdownSignal() {
	signals := []os.Signal{unix.SIGTERM}
	if p.configuration.RunningInteractively {
		signals = append(signals, unix.SIGHUP, unix.SIGINT, unix.SIGQUIT)
	}
	notifications := make(chan os.Signal, 1)
	signal.Notify(notifications, signals...)
	defer signal.Stop(notifications)

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case received := <-notifications:
			p.configuration.Logger.Info().
				Str("signal", received.String()).
				Log("shutdown signal received")
			return
		case <-ticker.C:
			if p.terminate.HasTerminated() {
				return
			}
		}
	}
}

func (p *Process) runWorker(waitGroup *sync.WaitGroup, publisher *dispatch.Publisher, core int) {
	defer waitGroup.Done()

	// The worker owns its OS thread for the lifetime of the process: the
	// interest list, arenas and coroutine handshakes are all thread-local.
	runtime.LockOSThread()

	if err := pinToCore(core); err != nil {
		p.configuration.Logger.Warning().
			Int("core", core).
			Err(err).
			Log("could not pin worker to core")
	}
	if err := BlockAllSignals(); err != nil {
		p.configuration.Logger.Warning().
			Int("core", core).
			Err(err).
			Log("could not block signals on worker")
	}

	eventPoll, err := NewEventPoll(
		WithTimeoutMilliseconds(p.configuration.TimeoutMilliseconds),
		WithLogger(p.configuration.Logger),
	)
	if err != nil {
		p.terminate.BeginTerminationWithError(err)
		return
	}
	defer func() { _ = eventPoll.Close() }()

	subscriber := dispatch.NewPerThreadSubscriber(publisher.Ring(core), dispatch.NewHandlerTable())
	defer subscriber.Close()

	worker := &Worker{
		EventPoll:   eventPoll,
		Subscriber:  subscriber,
		Publisher:   publisher,
		Terminate:   p.terminate,
		Logger:      p.configuration.Logger,
		LogicalCore: core,
	}
	if err := p.setup(worker); err != nil {
		p.terminate.BeginTerminationWithError(err)
		return
	}

	p.configuration.Logger.Info().
		Int("core", core).
		Log("worker started")

	for p.terminate.ShouldContinue() {
		if err := eventPoll.EventLoopIteration(p.terminate); err != nil {
			return
		}
		if err := subscriber.ReceiveAndHandleMessages(p.terminate); err != nil {
			p.terminate.BeginTerminationWithError(err)
			return
		}
	}
}

func pinToCore(core int) error {
	var cpuSet unix.CPUSet
	cpuSet.Zero()
	cpuSet.Set(core)
	return unix.SchedSetaffinity(0, &cpuSet)
}
