//go:build linux
// +build linux

// File: backend/ready/wait.go
// Author: momentics <momentics@gmail.com>
//
// WaitAndProcessEvents: blocking epoll_pwait with a deferred tick-state
// restore, dispatch of requested edges, and overshoot pruning.

package ready

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/momentics/ioreactor/api"
)

const maxEpollEvents = 128

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

// epollPwaitRaw invokes the epoll_pwait syscall directly; x/sys/unix does
// not wrap it.
func epollPwaitRaw(epfd int, events []unix.EpollEvent, msec int, sigmask *unix.Sigset_t) (int, error) {
	var evPtr unsafe.Pointer
	if len(events) > 0 {
		evPtr = unsafe.Pointer(&events[0])
	}
	r0, _, errno := unix.Syscall6(unix.SYS_EPOLL_PWAIT, uintptr(epfd), uintptr(evPtr), uintptr(len(events)), uintptr(msec), uintptr(unsafe.Pointer(sigmask)), unsafe.Sizeof(*sigmask))
	if errno != 0 {
		return 0, errno
	}
	return int(r0), nil
}

// epollPwait adapts api.SignalMask (the module's minimal signal-mask
// stand-in) to epollPwaitRaw's native unix.Sigset_t.
func epollPwait(epfd int, events []unix.EpollEvent, msec int, sigmask *api.SignalMask) (int, error) {
	if sigmask == nil || len(sigmask.Block) == 0 {
		return unix.EpollWait(epfd, events, msec)
	}
	var set unix.Sigset_t
	for _, s := range sigmask.Block {
		sigsetAdd(&set, s)
	}
	return epollPwaitRaw(epfd, events, msec, &set)
}

// WaitAndProcessEvents blocks in epoll_pwait, with StartTick/StopTick
// bracketing the wait so the preemption monitor tracks whether a task is
// currently running or the loop is parked.
func (b *Backend) WaitAndProcessEvents(sigmask *api.SignalMask) {
	b.StopTick()
	defer b.StartTick()

	var events [maxEpollEvents]unix.EpollEvent
	n, err := epollPwait(b.epfd, events[:], -1, sigmask)
	if err != nil {
		if err == unix.EINTR {
			return
		}
		b.log.Printf("ready: epoll_wait failed: %v", err)
		return
	}

	for i := 0; i < n; i++ {
		ev := events[i]
		fd := uintptr(ev.Fd)

		if int(fd) == b.reactorTimerFD {
			b.drainReactorTimer()
			continue
		}

		priv, ok := b.states[fd]
		if !ok || priv.inForget {
			continue
		}
		b.dispatchEvent(priv, ev.Events)
	}
}

func (b *Backend) dispatchEvent(priv *pfdPrivate, kernelBits uint32) {
	var observed api.Edge
	if kernelBits&unix.EPOLLIN != 0 {
		observed |= api.EdgeRead
	}
	if kernelBits&unix.EPOLLOUT != 0 {
		observed |= api.EdgeWrite
	}
	if kernelBits&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		observed |= api.EdgeErr | api.EdgeHup
	}

	requested := observed & priv.pub.EventsRequested

	if priv.rwFut != nil && requested&(api.EdgeRead|api.EdgeWrite) != 0 {
		priv.rwFut.CompleteWith(0)
		priv.rwFut = nil
		priv.pub.EventsRequested &^= api.EdgeRead | api.EdgeWrite
	} else {
		if requested&api.EdgeRead != 0 && priv.readFut != nil {
			priv.readFut.CompleteWith(0)
			priv.readFut = nil
			priv.pub.EventsRequested &^= api.EdgeRead
		}
		if requested&api.EdgeWrite != 0 && priv.writeFut != nil {
			priv.writeFut.CompleteWith(0)
			priv.writeFut = nil
			priv.pub.EventsRequested &^= api.EdgeWrite
		}
	}

	// Edges that arrived but were not requested are cached as "known" so a
	// future get_epoll_future call can resolve immediately (overshoot).
	priv.pub.EventsKnown |= observed &^ requested

	// Strip interest for edges no longer requested so a quiet descriptor
	// doesn't keep waking epoll_wait.
	stillWanted := priv.pub.EventsRequested
	if stillWanted != priv.installed {
		ctl := unix.EPOLL_CTL_MOD
		if stillWanted == 0 {
			ctl = unix.EPOLL_CTL_DEL
		}
		var ev unix.EpollEvent
		if stillWanted != 0 {
			ev = unix.EpollEvent{Events: epollBitsFor(stillWanted), Fd: int32(priv.pub.FD)}
		}
		unix.EpollCtl(b.epfd, ctl, int(priv.pub.FD), &ev)
		priv.installed = stillWanted
	}
}

func (b *Backend) drainReactorTimer() {
	var v uint64
	unix.Read(b.reactorTimerFD, (*[8]byte)(unsafe.Pointer(&v))[:])
	if b.highresSink != nil {
		b.highresSink.ServiceHighresTimer()
	}
}
