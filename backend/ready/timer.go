//go:build linux
// +build linux

// File: backend/ready/timer.go
// Author: momentics <momentics@gmail.com>
//
// The two-timerfd steady-clock dance: only one of the reactor-thread-side
// (on epoll) or timer-thread-side (on the sibling goroutine) high-
// resolution timer is armed at a time.

package ready

import (
	"time"

	"golang.org/x/sys/unix"
)

func durationTimespec(d time.Duration) unix.Timespec {
	if d <= 0 {
		d = time.Nanosecond
	}
	return unix.NsecToTimespec(d.Nanoseconds())
}

// installReactorTimer adds the reactor-thread-side timerfd to the epoll
// instance; it starts disarmed (no deadline set yet).
func (b *Backend) installReactorTimer() error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(b.reactorTimerFD)}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, b.reactorTimerFD, &ev); err != nil {
		return err
	}
	b.reactorInstalled = true
	return nil
}

// rearmReactorTimer arms the reactor-thread-side fd to the stored
// highresDeadline; a zero deadline disarms it.
func (b *Backend) rearmReactorTimer() {
	var spec unix.ItimerSpec
	if !b.highresDeadline.IsZero() {
		spec.Value = durationTimespec(time.Until(b.highresDeadline))
	}
	unix.TimerfdSettime(b.reactorTimerFD, 0, &spec, nil)
}

// StartTick switches the high-resolution timer over to the timer-thread
// side and hands need_preempt duties to the sibling goroutine: while
// running tasks, the reactor-side fd is not polled by anything, so
// the deadline must be re-armed on the thread-side fd instead.
func (b *Backend) StartTick() {
	if b.ticking {
		return
	}
	b.ticking = true
	var disarm unix.ItimerSpec
	unix.TimerfdSettime(b.reactorTimerFD, 0, &disarm, nil)
	if !b.highresDeadline.IsZero() {
		b.timerThread.ArmHighres(durationTimespec(time.Until(b.highresDeadline)))
	}
}

// StopTick is the strict inverse of StartTick: disarm the thread-side fd,
// re-arm the reactor-side fd from the same deadline.
func (b *Backend) StopTick() {
	if !b.ticking {
		return
	}
	b.ticking = false
	var disarm unix.ItimerSpec
	unix.TimerfdSettime(b.timerThread.HighresFD(), 0, &disarm, nil)
	b.rearmReactorTimer()
}
