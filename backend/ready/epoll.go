//go:build linux
// +build linux

// File: backend/ready/epoll.go
// Author: momentics <momentics@gmail.com>
//
// get_epoll_future / forget / the ADD-MOD-DEL interest dance.

package ready

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/ioreactor/api"
)

func (b *Backend) MakePollableFDState(fd uintptr, speculation api.Speculation) *api.PollableFDState {
	pub := &api.PollableFDState{FD: fd, Speculation: speculation}
	b.states[fd] = &pfdPrivate{pub: pub}
	return pub
}

func (b *Backend) Readable(fd *api.PollableFDState) *api.Future {
	return b.getEpollFuture(fd, api.EdgeRead)
}

func (b *Backend) Writeable(fd *api.PollableFDState) *api.Future {
	return b.getEpollFuture(fd, api.EdgeWrite)
}

func (b *Backend) ReadableOrWriteable(fd *api.PollableFDState) *api.Future {
	return b.getEpollFuture(fd, api.EdgeRead|api.EdgeWrite)
}

// getEpollFuture mirrors reactor_backend_epoll::get_epoll_future: a cached
// edge resolves immediately; otherwise the edge is marked requested and,
// if not already installed, CTL_ADD/CTL_MOD installs it.
func (b *Backend) getEpollFuture(pub *api.PollableFDState, event api.Edge) *api.Future {
	priv := b.states[pub.FD]

	if pub.EventsKnown&event == event {
		pub.EventsKnown &^= event
		return readyFuture()
	}

	isRW := event == (api.EdgeRead | api.EdgeWrite)
	pub.EventsRW = isRW
	pub.EventsRequested |= event

	if priv.installed&event != event {
		ctl := unix.EPOLL_CTL_ADD
		if priv.installed != 0 {
			ctl = unix.EPOLL_CTL_MOD
		}
		priv.installed |= event
		ev := unix.EpollEvent{Events: epollBitsFor(priv.installed), Fd: int32(pub.FD)}
		if err := unix.EpollCtl(b.epfd, ctl, int(pub.FD), &ev); err != nil {
			b.log.Printf("ready: epoll_ctl(%d, fd=%d) failed: %v", ctl, pub.FD, err)
		}
	}

	fut := api.NewFuture()
	if isRW {
		priv.rwFut = fut
	} else if event == api.EdgeRead {
		priv.readFut = fut
	} else {
		priv.writeFut = fut
	}
	return fut
}

func readyFuture() *api.Future {
	f := api.NewFuture()
	f.CompleteWith(0)
	return f
}

func epollBitsFor(edge api.Edge) uint32 {
	var bits uint32
	if edge&api.EdgeRead != 0 {
		bits |= unix.EPOLLIN
	}
	if edge&api.EdgeWrite != 0 {
		bits |= unix.EPOLLOUT
	}
	return bits
}

// Forget: CTL_DEL the descriptor, abort both completion slots, free the
// state, and guarantee no further completion for fd fires afterward.
func (b *Backend) Forget(pub *api.PollableFDState) {
	priv, ok := b.states[pub.FD]
	if !ok {
		return
	}
	priv.inForget = true
	if priv.installed != 0 {
		unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, int(pub.FD), nil)
	}
	abortFuture(priv.readFut)
	abortFuture(priv.writeFut)
	abortFuture(priv.rwFut)
	delete(b.states, pub.FD)
}

func abortFuture(f *api.Future) {
	if f != nil && !f.Ready() {
		f.Abort(api.ErrFDAborted)
	}
}

// ReapKernelCompletions reaps the storage engine's ring non-blockingly.
// Readiness events arrive only via WaitAndProcessEvents's own epoll_wait,
// so this only concerns the storage ring, independent of the epoll one.
func (b *Backend) ReapKernelCompletions() bool {
	return b.storage.ReapCompletions(true)
}

func (b *Backend) KernelSubmitWork() bool {
	return b.storage.SubmitWork()
}

func (b *Backend) KernelEventsCanSleep() bool {
	return b.storage.CanSleep()
}

func (b *Backend) SignalReceived(signo int) {
	if b.signalSink != nil {
		b.signalSink.Action(signo)
	}
	// Receiving a signal requests preemption directly (mirrors
	// reactor_backend_epoll::start_handling_signal); the high-resolution
	// timer itself is timerfd-based and does not go through here.
	b.RequestPreemption()
}

func (b *Backend) RequestPreemption() {
	if b.metrics != nil {
		b.metrics.Incr("preempt.requests", 1)
	}
	atomic.StoreUint32(&b.needPreempt, 1)
}

func (b *Backend) ResetPreemptionMonitor() {
	atomic.StoreUint32(&b.needPreempt, 0)
}

func (b *Backend) ArmHighresTimer(deadline time.Time) {
	b.highresDeadline = deadline
	if b.ticking {
		if deadline.IsZero() {
			unix.TimerfdSettime(b.timerThread.HighresFD(), 0, &unix.ItimerSpec{}, nil)
			return
		}
		b.timerThread.ArmHighres(durationTimespec(time.Until(deadline)))
		return
	}
	b.rearmReactorTimer()
}

func (b *Backend) Close() error {
	b.timerThread.Stop()
	unix.Close(b.reactorTimerFD)
	unix.Close(b.epfd)
	return b.storage.Close()
}
