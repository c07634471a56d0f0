//go:build linux
// +build linux

// File: backend/uring/wait.go
// Author: momentics <momentics@gmail.com>
//
// WaitAndProcessEvents rearms the self-rearming timer/eventfd completions,
// submits, then either returns immediately (if the preempt ring had work)
// or blocks in a single cqe-wait with the signal mask.
package uring

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/momentics/ioreactor/api"
)

// sigsetAdd adds signal sig to set, mirroring the C sigaddset macro; x/sys/unix
// does not wrap sigaddset, so the bit is set directly in the little-endian
// byte representation of unix.Sigset_t.
func sigsetAdd(set *unix.Sigset_t, sig int) {
	b := unsafe.Slice((*byte)(unsafe.Pointer(set)), unsafe.Sizeof(*set))
	idx := (sig - 1) / 8
	if idx < 0 || idx >= len(b) {
		return
	}
	b[idx] |= 1 << uint((sig-1)%8)
}

// wakeupCompletion is the self-rearming poll completion for the cross-core
// wakeup eventfd: it drains the 8-byte counter and resubmits itself.
type wakeupCompletion struct{ b *Backend }

func (w *wakeupCompletion) CompleteWith(res int64) {
	if res < 0 {
		w.b.wakeupIdx = -1
		return
	}
	var discard [8]byte
	unix.Read(w.b.wakeupFD, discard[:])
	w.b.wakeupIdx = -1
	w.b.armWakeupPoll()
}

func (w *wakeupCompletion) Abort(error) {
	w.b.wakeupIdx = -1
}

func (b *Backend) armWakeupPoll() error {
	idx, ok := b.slots.take(&wakeupCompletion{b: b})
	if !ok {
		return api.ErrResourceExhausted
	}
	e, _ := b.getSQEOrRetry()
	if e == nil {
		b.slots.release(idx)
		return api.ErrResourceExhausted
	}
	e.Opcode = IORingOpPollAdd
	e.Fd = int32(b.wakeupFD)
	e.UserData = uint64(idx)
	e.OpFlags = pollIn
	b.r.flush(0, false)
	b.wakeupIdx = idx
	return nil
}

// hrtimerCompletion is the self-rearming IORING_OP_POLL_ADD completion for
// the preempt context's high-resolution timerfd, queued directly on this
// ring so a deadline armed via ArmHighresTimer wakes waitForCQE's ppoll the
// same way the wakeup eventfd does; the preempt ring's own poll of the same
// fd still owns draining it and flipping HighresFired.
type hrtimerCompletion struct{ b *Backend }

func (h *hrtimerCompletion) CompleteWith(res int64) {
	h.b.hrtimerIdx = -1
	if res < 0 {
		return
	}
	h.b.preempt.ServicePreemptingIO()
	if h.b.preempt.HighresFired() && h.b.highresSink != nil {
		h.b.highresSink.ServiceHighresTimer()
	}
	h.b.armHighresPoll()
}

func (h *hrtimerCompletion) Abort(error) {
	h.b.hrtimerIdx = -1
}

func (b *Backend) armHighresPoll() error {
	idx, ok := b.slots.take(&hrtimerCompletion{b: b})
	if !ok {
		return api.ErrResourceExhausted
	}
	e, _ := b.getSQEOrRetry()
	if e == nil {
		b.slots.release(idx)
		return api.ErrResourceExhausted
	}
	e.Opcode = IORingOpPollAdd
	e.Fd = int32(b.preempt.HighresFD())
	e.UserData = uint64(idx)
	e.OpFlags = pollIn
	b.r.flush(0, false)
	b.hrtimerIdx = idx
	return nil
}

// waitForCQE blocks, honoring sigmask, until the ring fd itself is
// readable, then drains whatever landed. The legacy io_uring_enter ABI
// this backend targets has no sigmask argument, so the signal-mask-aware
// wait is done the same way backend/ready does it: ppoll on the fd, then a
// flush of pending submissions. No GETEVENTS enter is issued; the caller
// collects the CQEs from the mapped CQ ring via ReapKernelCompletions.
func (b *Backend) waitForCQE(sigmask *api.SignalMask) {
	fds := []unix.PollFd{{Fd: int32(b.r.fd), Events: unix.POLLIN}}
	var set *unix.Sigset_t
	if sigmask != nil {
		var s unix.Sigset_t
		for _, sig := range sigmask.Block {
			sigsetAdd(&s, sig)
		}
		set = &s
	}
	unix.Ppoll(fds, nil, set)
	b.r.flush(0, true)
}

func (b *Backend) WaitAndProcessEvents(sigmask *api.SignalMask) {
	hadPreemptWork := b.preempt.ServicePreemptingIO()
	b.preempt.ResetPreemptionMonitor()
	if b.preempt.HighresFired() && b.highresSink != nil {
		b.highresSink.ServiceHighresTimer()
	}

	if hadPreemptWork {
		b.ReapKernelCompletions()
		return
	}

	b.waitForCQE(sigmask)
	b.ReapKernelCompletions()
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
		b.cancelSlot(b.wakeupIdx)
		b.reapOne(false)
	}
	if b.hrtimerIdx >= 0 {
		b.cancelSlot(b.hrtimerIdx)
		b.reapOne(false)
	}
	unix.Close(b.wakeupFD)
	b.preempt.Close()
	return b.r.close()
}
