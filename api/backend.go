// File: api/backend.go
// Author: momentics <momentics@gmail.com>
//
// Backend is the narrow (~20 method), uniform contract implemented by all
// three concrete strategies (READY/epoll, AIO/linux-aio, URING/io_uring).
// Exactly one instance exists per pinned core, for the lifetime of the
// runtime on that core.

package api

import "time"

// Variant names a concrete backend strategy.
type Variant int

const (
	VariantReady Variant = iota
	VariantAIO
	VariantURing
)

func (v Variant) String() string {
	switch v {
	case VariantReady:
		return "epoll"
	case VariantAIO:
		return "linux-aio"
	case VariantURing:
		return "io_uring"
	default:
		return "unknown"
	}
}

// SignalSink is the external collaborator that owns the signal action
// table; Backend.SignalReceived forwards to it. Go cannot run arbitrary
// code inside a real signal handler, so SignalReceived is an ordinary
// method: this module installs no signal handler of its own, and
// SignalReceived runs on whichever goroutine calls it.
type SignalSink interface {
	Action(signo int)
}

// Backend is the per-core kernel I/O multiplexer contract.
type Backend interface {
	// Variant reports which concrete strategy this instance implements.
	Variant() Variant

	// ReapKernelCompletions delivers all ready completions without
	// blocking; returns true iff any were delivered.
	ReapKernelCompletions() bool

	// KernelSubmitWork drains the pending storage-request IOSink into the
	// kernel, rearms timer/wakeup interest, and returns true iff any
	// submission occurred.
	KernelSubmitWork() bool

	// KernelEventsCanSleep is a safety question: false if there are
	// in-flight kernel operations that would not themselves wake the loop.
	KernelEventsCanSleep() bool

	// WaitAndProcessEvents blocks until at least one completion, timer,
	// signal, or cross-core wakeup is available, and processes everything
	// ready. sigmask may be nil to use the backend's default mask.
	WaitAndProcessEvents(sigmask *SignalMask)

	// Readable/Writeable/ReadableOrWriteable return a one-shot readiness
	// future for the requested edge(s) of fd.
	Readable(fd *PollableFDState) *Future
	Writeable(fd *PollableFDState) *Future
	ReadableOrWriteable(fd *PollableFDState) *Future

	// Forget guarantees that after it returns, no further completion for
	// fd will ever fire and every future previously handed out for fd has
	// resolved (aborted). The caller guarantees no new operation on fd.
	Forget(fd *PollableFDState)

	// MakePollableFDState constructs backend-specific per-descriptor state.
	MakePollableFDState(fd uintptr, speculation Speculation) *PollableFDState

	// ArmHighresTimer sets the absolute deadline of the single high
	// resolution timer. A zero deadline disarms it.
	ArmHighresTimer(deadline time.Time)

	// ResetPreemptionMonitor drains already-arrived preempt events and
	// re-arms both the task-quota and high-resolution completions.
	ResetPreemptionMonitor()
	// RequestPreemption makes NeedPreempt observably nonzero before
	// returning, bounded in time.
	RequestPreemption()
	// StartTick/StopTick are strict inverses switching NeedPreempt between
	// the ring-head trick (or sibling thread, for READY) and the private
	// monitor.
	StartTick()
	StopTick()

	// SignalReceived forwards a received signal to the SignalSink.
	SignalReceived(signo int)

	// Close tears the backend down. The READY and AIO backends drain
	// outstanding storage completions before destroying their rings; the
	// URING backend cancels its own wakeup and timer polls and closes the
	// ring without waiting for storage requests still in flight.
	Close() error
}

// SignalMask is a minimal stand-in for a pending signal mask argument; nil
// means "use the backend's default blocked-signal set".
type SignalMask struct {
	Block []int
}
