//go:build linux
// +build linux

// File: backend/aiobackend/wait.go
// Author: momentics <momentics@gmail.com>
//
// WaitAndProcessEvents services the preempt ring non-blockingly, re-arms
// the self-rearming completions, then blocks on the general ring's
// get_events(min=1, ...). Loops while a full batch returns so bursts
// drain within one wait.

package aiobackend

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/ioreactor/api"
)

// wakeupCompletion is the self-rearming poll completion for the cross-core
// wakeup eventfd: it drains the 8-byte counter and resubmits itself.
type wakeupCompletion struct{ b *Backend }

func (w *wakeupCompletion) CompleteWith(res int64) {
	var discard [8]byte
	unix.Read(w.b.wakeupFD, discard[:])
	w.b.wakeupIdx = -1
	w.b.armWakeupPoll()
}

func (w *wakeupCompletion) Abort(error) {
	w.b.wakeupIdx = -1
}

func (b *Backend) armWakeupPoll() error {
	idx, err := b.general.submitPoll(b.wakeupFD, pollIn, &wakeupCompletion{b: b})
	if err != nil {
		return err
	}
	b.wakeupIdx = idx
	return nil
}

// hrtimerPollCompletion is the self-rearming poll completion that mirrors
// the preempt ring's own hrtimer poll onto the general context, so a
// deadline armed via ArmHighresTimer wakes the general ring's blocking
// get_events the same way the wakeup eventfd does. On completion it services
// the preempt context (which drains the timerfd and records the firing),
// dispatches ServiceHighresTimer if HighresFired reports a firing, and then
// rearms its own poll.
type hrtimerPollCompletion struct{ b *Backend }

func (h *hrtimerPollCompletion) CompleteWith(res int64) {
	h.b.hrtimerIdx = -1
	h.b.preempt.ServicePreemptingIO()
	if h.b.preempt.HighresFired() && h.b.highresSink != nil {
		h.b.highresSink.ServiceHighresTimer()
	}
	h.b.armHighresPoll()
}

func (h *hrtimerPollCompletion) Abort(error) {
	h.b.hrtimerIdx = -1
}

func (b *Backend) armHighresPoll() error {
	idx, err := b.general.submitPoll(b.preempt.HighresFD(), pollIn, &hrtimerPollCompletion{b: b})
	if err != nil {
		return err
	}
	b.hrtimerIdx = idx
	return nil
}

func (b *Backend) ReapKernelCompletions() bool {
	return b.storage.ReapCompletions(true)
}

func (b *Backend) KernelSubmitWork() bool {
	return b.storage.SubmitWork()
}

func (b *Backend) KernelEventsCanSleep() bool {
	return b.storage.CanSleep()
}

// WaitAndProcessEvents drains the preempt ring non-blockingly, then blocks
// on the general ring until at least one readiness/wakeup/timer event is
// ready. Repeats while a full batch comes back, so bursts drain in one call.
func (b *Backend) WaitAndProcessEvents(sigmask *api.SignalMask) {
	b.preempt.ServicePreemptingIO()
	b.preempt.ResetPreemptionMonitor()
	if b.preempt.HighresFired() && b.highresSink != nil {
		b.highresSink.ServiceHighresTimer()
	}

	for {
		full := b.general.blockingDrain(-1)
		if !full {
			return
		}
	}
}

func (b *Backend) ArmHighresTimer(deadline time.Time) {
	if deadline.IsZero() {
		b.preempt.ArmHighres(unix.Timespec{})
		return
	}
	d := time.Until(deadline)
	if d <= 0 {
		d = time.Nanosecond
	}
	b.preempt.ArmHighres(unix.NsecToTimespec(d.Nanoseconds()))
}

func (b *Backend) ResetPreemptionMonitor() { b.preempt.ResetPreemptionMonitor() }
func (b *Backend) RequestPreemption()      { b.preempt.RequestPreemption() }
func (b *Backend) StartTick()              { b.preempt.StartTick() }
func (b *Backend) StopTick()               { b.preempt.StopTick() }

func (b *Backend) SignalReceived(signo int) {
	if b.signalSink != nil {
		b.signalSink.Action(signo)
	}
}

func (b *Backend) Close() error {
	if b.wakeupIdx >= 0 {
		b.general.cancel(b.wakeupIdx)
		b.general.drain()
	}
	if b.hrtimerIdx >= 0 {
		b.general.cancel(b.hrtimerIdx)
		b.general.drain()
	}
	unix.Close(b.wakeupFD)
	b.preempt.Close()
	b.general.close()
	return b.storage.Close()
}
