//go:build linux
// +build linux

// File: internal/preempt/ring.go
// Author: momentics <momentics@gmail.com>
//
// Context is the ring-based preemption monitor used by the AIO and URING
// backends, grounded on preempt_io_context in the source. It
// owns a task-quota timerfd and a high-resolution timerfd, each monitored
// via a self-rearming IOCB_CMD_POLL control block on an isolated AIO ring
// whose ring-head word doubles as need_preempt.

package preempt

import (
	"fmt"
	"log"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/momentics/ioreactor/control"
)

const pollIn = 0x0001

// Context is safe for concurrent StartTick/StopTick/RequestPreemption calls
// only from the single loop thread that owns it; NeedPreempt itself may be
// read from any thread without synchronization beyond the atomic pointer.
type Context struct {
	log *log.Logger

	ctx aioContext

	quotaFD   int
	highresFD int
	quotaCB   iocb
	highresCB iocb
	evBuf     [2]ioEvent

	// privateMonitor is the word need_preempt points at whenever the loop
	// is not actively "ticking" through this ring.
	privateMonitor uint32
	needPreempt    atomic.Pointer[uint32]

	quotaNeedsRequeue   bool
	highresNeedsRequeue bool
	highresFired        bool

	metrics *control.MetricsRegistry
}

// SetMetrics wires a registry that RequestPreemption increments a counter
// on each call. Passing nil (the default) disables metrics collection.
func (c *Context) SetMetrics(m *control.MetricsRegistry) {
	c.metrics = m
}

// NewContext creates an isolated 2-entry AIO ring, arms the task-quota
// timer to fire every quotaPeriod, and leaves the high-resolution timer
// disarmed until RequestPreemption needs it.
func NewContext(quotaPeriod unix.Timespec, logger *log.Logger) (*Context, error) {
	ctx, err := ioSetup(2)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	quotaFD, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		ioDestroy(ctx)
		return nil, fmt.Errorf("preempt: task-quota timerfd_create: %w", err)
	}
	highresFD, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		unix.Close(quotaFD)
		ioDestroy(ctx)
		return nil, fmt.Errorf("preempt: hrtimer timerfd_create: %w", err)
	}
	if err := unix.TimerfdSettime(quotaFD, 0, &unix.ItimerSpec{Interval: quotaPeriod, Value: quotaPeriod}, nil); err != nil {
		unix.Close(quotaFD)
		unix.Close(highresFD)
		ioDestroy(ctx)
		return nil, fmt.Errorf("preempt: timerfd_settime(quota): %w", err)
	}

	c := &Context{log: logger, ctx: ctx, quotaFD: quotaFD, highresFD: highresFD}
	c.needPreempt.Store(&c.privateMonitor)
	preparePollCB(&c.quotaCB, quotaFD, uint64(quotaData))
	preparePollCB(&c.highresCB, highresFD, uint64(highresData))
	if err := c.submitBoth(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

const (
	quotaData   = 1
	highresData = 2
)

func preparePollCB(cb *iocb, fd int, data uint64) {
	*cb = iocb{
		data:   data,
		opcode: uint16(iocbCmdPoll),
		fildes: uint32(fd),
		buf:    pollIn,
	}
}

func (c *Context) submitBoth() error {
	r, errno := ioSubmit(c.ctx, []*iocb{&c.quotaCB, &c.highresCB})
	if r != 2 {
		return fmt.Errorf("preempt: io_submit of poll control blocks failed, errno %d", errno)
	}
	return nil
}

// NeedPreempt reports whether the currently active monitor word is nonzero.
// Ordering is relaxed by design: preemption is advisory and a missed edge
// is caught by the next wait.
func (c *Context) NeedPreempt() bool {
	return atomic.LoadUint32(c.needPreempt.Load()) != 0
}

// StartTick repoints need_preempt at the ring-head word so any event that
// lands on this context (timer firing, or a signal routed through it)
// becomes visible as preemption without a syscall.
func (c *Context) StartTick() {
	c.needPreempt.Store(ringHeadPtr(c.ctx))
}

// StopTick repoints need_preempt back at the private monitor word; the
// strict inverse of StartTick.
func (c *Context) StopTick() {
	c.needPreempt.Store(&c.privateMonitor)
}

// RequestPreemption arms the high-resolution timer to fire in 1ns, ensures
// its poll is queued, and spins until the kernel delivers the completion.
// The spin is bounded in practice because the timer fires immediately and
// entirely in-kernel.
func (c *Context) RequestPreemption() {
	if c.metrics != nil {
		c.metrics.Incr("preempt.requests", 1)
	}
	expire := unix.ItimerSpec{Value: unix.NsecToTimespec(1)}
	if err := unix.TimerfdSettime(c.highresFD, 0, &expire, nil); err != nil {
		c.log.Printf("preempt: timerfd_settime(hrtimer) failed: %v", err)
		return
	}
	// request_preemption may run from poll_once, where the hrtimer poll
	// might already have completed and not be queued; resubmitting an
	// already-in-flight poll cb would be a kernel error, so only resubmit
	// if service_preempting_io last drained it.
	c.mayRequeueHighres()

	for !c.NeedPreempt() {
		// signal fence equivalent: nothing to reorder across in Go without cgo.
	}
}

func (c *Context) mayRequeueHighres() {
	if c.highresNeedsRequeue {
		r, _ := ioSubmit(c.ctx, []*iocb{&c.highresCB})
		if r == 1 {
			c.highresNeedsRequeue = false
		}
	}
}

// ResetPreemptionMonitor drains whatever already landed on the ring,
// re-arms both self-rearming completions, and clears the private monitor
// word so the next StartTick starts from a clean slate.
func (c *Context) ResetPreemptionMonitor() {
	c.ServicePreemptingIO()
	if c.quotaNeedsRequeue {
		if r, _ := ioSubmit(c.ctx, []*iocb{&c.quotaCB}); r == 1 {
			c.quotaNeedsRequeue = false
		}
	}
	c.mayRequeueHighres()
	atomic.StoreUint32(&c.privateMonitor, 0)
}

// ServicePreemptingIO is the non-blocking drain of this ring, used before
// and after the main reactor wait. Each IOCB_CMD_POLL completion is
// one-shot, so a fired control block is marked for requeue by
// ResetPreemptionMonitor. Returns true iff anything was reaped.
func (c *Context) ServicePreemptingIO() bool {
	r, errno := ioGetEvents(c.ctx, 0, c.evBuf[:], &unix.Timespec{})
	if r < 0 {
		if errno != eintr {
			c.log.Printf("preempt: io_getevents failed with errno %d", errno)
		}
		return false
	}
	var discard [8]byte
	for i := 0; i < r; i++ {
		switch c.evBuf[i].data {
		case quotaData:
			unix.Read(c.quotaFD, discard[:])
			c.quotaNeedsRequeue = true
		case highresData:
			unix.Read(c.highresFD, discard[:])
			c.highresNeedsRequeue = true
			c.highresFired = true
		}
	}
	return r > 0
}

// HighresFired reports, and clears, whether the high-resolution timer
// completion has landed since the last check. request_preemption's 1ns
// reprogram also sets this; the caller distinguishes the two only by
// whether it itself just called RequestPreemption.
func (c *Context) HighresFired() bool {
	fired := c.highresFired
	c.highresFired = false
	return fired
}

// HighresFD exposes the high-resolution timerfd so a backend whose
// blocking wait sleeps on a different ring than this context's own can
// also poll it there and be woken when a deadline fires.
func (c *Context) HighresFD() int { return c.highresFD }

// ArmHighres schedules the next legitimate external deadline, the dual
// purpose the source's hrtimer fd serves alongside RequestPreemption's
// immediate 1ns reprogram (preempt_io_context shares one fd for both).
func (c *Context) ArmHighres(delay unix.Timespec) error {
	return unix.TimerfdSettime(c.highresFD, 0, &unix.ItimerSpec{Value: delay}, nil)
}

const eintr = 4

func (c *Context) Close() error {
	ioCancel(c.ctx, &c.quotaCB)
	ioCancel(c.ctx, &c.highresCB)
	unix.Close(c.quotaFD)
	unix.Close(c.highresFD)
	return ioDestroy(c.ctx)
}
