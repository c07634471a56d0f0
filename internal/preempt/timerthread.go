//go:build linux
// +build linux

// File: internal/preempt/timerthread.go
// Author: momentics <momentics@gmail.com>
//
// TimerThread is the READY backend's substitute for the AIO ring trick: a
// dedicated SCHED_FIFO priority-1 goroutine that poll()s the task-quota and
// high-resolution timerfds and writes need_preempt directly.

package preempt

import (
	"fmt"
	"log"
	"runtime"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// schedParam mirrors the C struct sched_param, which golang.org/x/sys/unix
// does not wrap; sched_setscheduler is invoked directly via unix.Syscall.
type schedParam struct {
	Priority int32
}

func schedSetscheduler(pid int, policy int, param *schedParam) error {
	_, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER, uintptr(pid), uintptr(policy), uintptr(unsafe.Pointer(param)))
	if errno != 0 {
		return errno
	}
	return nil
}

// TimerThread polls the timer-thread-side timerfds and writes directly into
// a need_preempt word owned by the caller (the READY backend), rather than
// through a ring-head trick: READY writes 1 into a private word that it
// designates as need_preempt instead of using the AIO/URING ring-head
// technique.
type TimerThread struct {
	log *log.Logger

	quotaFD   int
	highresFD int

	needPreempt *uint32

	highresPending atomic.Bool
	dying          atomic.Bool
	done           chan struct{}
}

// NewTimerThread creates the two timer-thread-side timerfds; the
// task-quota one is armed by the caller via ArmQuota before Start, the
// high-resolution one is armed on demand via ArmHighres. needPreempt is the
// backend's shared preemption-monitor word; it must outlive the thread.
func NewTimerThread(needPreempt *uint32, logger *log.Logger) (*TimerThread, error) {
	if logger == nil {
		logger = log.Default()
	}
	quotaFD, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("preempt: timer-thread quota timerfd_create: %w", err)
	}
	highresFD, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC)
	if err != nil {
		unix.Close(quotaFD)
		return nil, fmt.Errorf("preempt: timer-thread hrtimer timerfd_create: %w", err)
	}
	return &TimerThread{log: logger, quotaFD: quotaFD, highresFD: highresFD, needPreempt: needPreempt, done: make(chan struct{})}, nil
}

func (t *TimerThread) ArmQuota(period unix.Timespec) error {
	return unix.TimerfdSettime(t.quotaFD, 0, &unix.ItimerSpec{Interval: period, Value: period}, nil)
}

func (t *TimerThread) ArmHighres(delay unix.Timespec) error {
	return unix.TimerfdSettime(t.highresFD, 0, &unix.ItimerSpec{Value: delay}, nil)
}

// HighresFD exposes the timer-thread-side high-resolution timerfd so the
// owning backend can disarm it directly on StopTick.
func (t *TimerThread) HighresFD() int {
	return t.highresFD
}

// HighresPending reports, and clears, whether the high-resolution timer
// specifically fired since the last check.
func (t *TimerThread) HighresPending() bool {
	return t.highresPending.Swap(false)
}

func (t *TimerThread) ClearNeedPreempt() {
	atomic.StoreUint32(t.needPreempt, 0)
}

// Start launches the SCHED_FIFO priority-1 sibling goroutine. It locks
// itself to its own OS thread for the lifetime of the thread, matching the
// source's dedicated pthread.
func (t *TimerThread) Start() {
	go t.run()
}

func (t *TimerThread) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(t.done)

	if err := schedSetscheduler(0, unix.SCHED_FIFO, &schedParam{Priority: 1}); err != nil {
		t.log.Printf("preempt: timer thread could not get SCHED_FIFO priority 1: %v (continuing at normal priority)", err)
	}

	fds := []unix.PollFd{
		{Fd: int32(t.quotaFD), Events: unix.POLLIN},
		{Fd: int32(t.highresFD), Events: unix.POLLIN},
	}
	var discard [8]byte
	for {
		n, err := unix.Poll(fds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			t.log.Printf("preempt: timer thread poll failed: %v", err)
			return
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&unix.POLLIN != 0 {
			unix.Read(t.quotaFD, discard[:])
			atomic.StoreUint32(t.needPreempt, 1)
		}
		if fds[1].Revents&unix.POLLIN != 0 {
			unix.Read(t.highresFD, discard[:])
			t.highresPending.Store(true)
			atomic.StoreUint32(t.needPreempt, 1)
		}
		if t.dying.Load() {
			return
		}
	}
}

// Stop sets the dying flag and arms the quota timer to fire immediately so
// the blocked poll() wakes up and the goroutine observes the flag, matching
// the source's shutdown handshake.
func (t *TimerThread) Stop() {
	t.dying.Store(true)
	unix.TimerfdSettime(t.quotaFD, 0, &unix.ItimerSpec{Value: unix.NsecToTimespec(1)}, nil)
	<-t.done
	unix.Close(t.quotaFD)
	unix.Close(t.highresFD)
}
