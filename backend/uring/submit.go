//go:build linux
// +build linux

// File: backend/uring/submit.go
// Author: momentics <momentics@gmail.com>
//
// KernelSubmitWork/ReapKernelCompletions implement the storage half of
// this backend: one SQE per queued IORequest, formatted directly for
// IORING_OP_READ/WRITE/READV/WRITEV/FSYNC, sharing the same ring as every
// other operation this backend issues.
package uring

import (
	"github.com/momentics/ioreactor/api"
)

func (b *Backend) incr(key string, delta int64) {
	if b.metrics != nil {
		b.metrics.Incr(key, delta)
	}
}

func prepareSQE(e *sqe, req api.IORequest, idx int32) {
	e.UserData = uint64(idx)
	e.Fd = int32(req.FD)
	e.Off = uint64(req.Pos)
	switch req.Opcode {
	case api.OpRead:
		e.Opcode = IORingOpRead
		if len(req.Addr) > 0 {
			e.Addr = bytesAddr(req.Addr)
		}
		e.Len = uint32(len(req.Addr))
	case api.OpWrite:
		e.Opcode = IORingOpWrite
		if len(req.Addr) > 0 {
			e.Addr = bytesAddr(req.Addr)
		}
		e.Len = uint32(len(req.Addr))
	case api.OpReadV:
		e.Opcode = IORingOpReadv
		iov := makeIOVec(req.IOV)
		e.Addr = iovecAddr(iov)
		e.Len = uint32(len(iov))
	case api.OpWriteV:
		e.Opcode = IORingOpWritev
		iov := makeIOVec(req.IOV)
		e.Addr = iovecAddr(iov)
		e.Len = uint32(len(iov))
	case api.OpFdatasync:
		e.Opcode = IORingOpFsync
	}
}

// getSQEOrRetry is the get_sqe chokepoint: on exhaustion it flushes
// pending submissions, blocks for exactly one completion so the
// ring frees a slot without busy-waiting, reaps it, and retries once. It
// reports whether any work happened while waiting, so the caller can avoid
// telling the outer loop it is safe to sleep.
func (b *Backend) getSQEOrRetry() (*sqe, bool) {
	if e := b.r.getSQE(); e != nil {
		return e, false
	}
	b.incr("uring.sqe_retries", 1)
	b.r.flush(0, false)
	if !b.reapOne(true) {
		b.reapOne(false)
	}
	return b.r.getSQE(), true
}

// reapOne drains and dispatches every completion already queued
// (blocking==false), or blocks for at least one and dispatches exactly one
// (blocking==true). Returns true iff anything was reaped.
func (b *Backend) reapOne(blocking bool) bool {
	if blocking {
		b.r.flush(1, true)
	}
	reaped := false
	for {
		c, ok := b.r.peekCQE()
		if !ok {
			break
		}
		b.dispatch(c)
		b.r.advanceCQE()
		reaped = true
		if !blocking {
			continue
		}
		break
	}
	return reaped
}

func (b *Backend) dispatch(c cqe) {
	idx := int32(c.UserData)
	if idx < 0 || int(idx) >= len(b.slots.completions) {
		// Cancellation SQEs (IORING_OP_POLL_REMOVE/ASYNC_CANCEL) carry the
		// sentinel user_data and own no slot; the completion they targeted
		// is reaped separately, with -ECANCELED, under its own user_data.
		return
	}
	comp := b.slots.release(idx)
	if comp == nil {
		return
	}
	b.incr("uring.completions", 1)
	comp.CompleteWith(int64(c.Res))
}

// KernelSubmitWork drains the pending storage-request IOSink into SQEs on
// the shared ring, formats and queues each, and flushes. Returns true iff
// any submission (or held-over retry work) occurred.
func (b *Backend) KernelSubmitWork() bool {
	didWork := false
	b.sink.Drain(func(req api.IORequest, completion api.Completion) bool {
		idx, ok := b.slots.take(completion)
		if !ok {
			return false
		}
		e, heldOver := b.getSQEOrRetry()
		if heldOver {
			didWork = true
		}
		if e == nil {
			b.slots.release(idx)
			return false
		}
		prepareSQE(e, req, idx)
		b.incr("uring.submissions", 1)
		didWork = true
		return true
	})
	if b.r.pendingSubmissions() > 0 {
		b.r.flush(0, false)
		didWork = true
	}
	return didWork
}

// ReapKernelCompletions peeks every ready completion, invokes its user-data
// completion handle with the raw result, and advances past it.
func (b *Backend) ReapKernelCompletions() bool {
	reaped := false
	for {
		c, ok := b.r.peekCQE()
		if !ok {
			return reaped
		}
		b.dispatch(c)
		b.r.advanceCQE()
		reaped = true
	}
}

// KernelEventsCanSleep is always safe for uring: every in-flight operation,
// including the self-rearming wakeup/timer polls, completes on the same
// ring WaitAndProcessEvents blocks on, so there is nothing that would leave
// the loop asleep without a wakeup path, unlike the split rings of the
// AIO/READY backends.
func (b *Backend) KernelEventsCanSleep() bool {
	return true
}
