//go:build linux
// +build linux

// File: backend/uring/poll.go
// Author: momentics <momentics@gmail.com>
//
// Readiness polling via IORING_OP_POLL_ADD SQEs on the shared ring,
// cancelled via IORING_OP_POLL_REMOVE. The cached-edge and events_rw
// model is the same one backend/ready and backend/aiobackend use.
package uring

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/ioreactor/api"
)

const (
	pollIn  = 0x0001
	pollOut = 0x0004
)

func (b *Backend) MakePollableFDState(fd uintptr, speculation api.Speculation) *api.PollableFDState {
	pub := &api.PollableFDState{FD: fd, Speculation: speculation}
	b.states[fd] = &pfdPrivate{pub: pub, idx: -1}
	return pub
}

func (b *Backend) Readable(fd *api.PollableFDState) *api.Future {
	return b.poll(fd, api.EdgeRead)
}

func (b *Backend) Writeable(fd *api.PollableFDState) *api.Future {
	return b.poll(fd, api.EdgeWrite)
}

func (b *Backend) ReadableOrWriteable(fd *api.PollableFDState) *api.Future {
	return b.poll(fd, api.EdgeRead|api.EdgeWrite)
}

func (b *Backend) poll(pub *api.PollableFDState, event api.Edge) *api.Future {
	priv := b.states[pub.FD]

	if pub.EventsKnown&event == event {
		pub.EventsKnown &^= event
		return readyFuture()
	}

	isRW := event == (api.EdgeRead | api.EdgeWrite)
	pub.EventsRW = isRW
	pub.EventsRequested |= event

	fut := api.NewFuture()
	if isRW {
		priv.rwFut = fut
	} else if event == api.EdgeRead {
		priv.readFut = fut
	} else {
		priv.writeFut = fut
	}

	b.resubmitPoll(priv)
	return fut
}

// resubmitPoll cancels any outstanding poll SQE for priv and submits a new
// one covering the current union of requested edges; IORING_OP_POLL_ADD is
// one-shot by default on kernels without multishot support, so interest
// changes are cancel-then-resubmit rather than an in-place update.
func (b *Backend) resubmitPoll(priv *pfdPrivate) {
	if priv.idx >= 0 {
		b.cancelSlot(priv.idx)
		priv.idx = -1
	}
	bits := pollBitsFor(priv.pub.EventsRequested)
	if bits == 0 {
		return
	}
	idx, ok := b.slots.take(&pollCompletion{b: b, fd: priv.pub.FD})
	if !ok {
		b.log.Printf("uring: poll slot exhausted for fd=%d", priv.pub.FD)
		return
	}
	e, _ := b.getSQEOrRetry()
	if e == nil {
		b.slots.release(idx)
		b.log.Printf("uring: poll submit for fd=%d failed, ring full", priv.pub.FD)
		return
	}
	e.Opcode = IORingOpPollAdd
	e.Fd = int32(priv.pub.FD)
	e.UserData = uint64(idx)
	e.OpFlags = bits
	b.r.flush(0, false)
	priv.idx = idx
}

// cancelSlot issues an IORING_OP_POLL_REMOVE SQE addressed at the target
// slot's user_data; the original completion still fires, with -ECANCELED,
// once the cancellation lands.
func (b *Backend) cancelSlot(idx int32) {
	e, _ := b.getSQEOrRetry()
	if e == nil {
		return
	}
	e.Opcode = IORingOpPollRemove
	e.UserData = uint64(0xffffffff) // cancellation SQEs carry no completion of their own
	e.Addr = uint64(idx)
	b.r.flush(0, false)
}

func pollBitsFor(edge api.Edge) uint32 {
	var bits uint32
	if edge&api.EdgeRead != 0 {
		bits |= pollIn
	}
	if edge&api.EdgeWrite != 0 {
		bits |= pollOut
	}
	return bits
}

func readyFuture() *api.Future {
	f := api.NewFuture()
	f.CompleteWith(0)
	return f
}

// pollCompletion adapts a slot's completion back into edge dispatch on the
// owning pfdPrivate, looked up by fd since forget may already have deleted
// the state by the time a cancelled completion is reaped.
type pollCompletion struct {
	b  *Backend
	fd uintptr
}

// CompleteWith receives the raw CQE result; a negative value means the
// poll was cancelled (IORING_OP_POLL_REMOVE landed, or forget is in
// progress) rather than a revents bitmask, so it routes to abort instead
// of being misread as requested edges.
func (p *pollCompletion) CompleteWith(res int64) {
	if res < 0 {
		p.b.dispatchPollAbort(p.fd, resultError(int32(res)))
		return
	}
	p.b.dispatchPollResult(p.fd, res)
}

func (p *pollCompletion) Abort(err error) {
	p.b.dispatchPollAbort(p.fd, err)
}

func (b *Backend) dispatchPollResult(fd uintptr, res int64) {
	priv, ok := b.states[fd]
	if !ok || priv.inForget {
		return
	}
	priv.idx = -1

	var observed api.Edge
	revents := uint32(res)
	if revents&pollIn != 0 {
		observed |= api.EdgeRead
	}
	if revents&pollOut != 0 {
		observed |= api.EdgeWrite
	}
	if revents&(unix.POLLERR|unix.POLLHUP) != 0 {
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
	priv.pub.EventsKnown |= observed &^ requested

	if priv.pub.EventsRequested != 0 {
		b.resubmitPoll(priv)
	}
}

func (b *Backend) dispatchPollAbort(fd uintptr, err error) {
	priv, ok := b.states[fd]
	if !ok {
		return
	}
	priv.idx = -1
	abortFuture(priv.readFut)
	abortFuture(priv.writeFut)
	abortFuture(priv.rwFut)
	priv.readFut, priv.writeFut, priv.rwFut = nil, nil, nil
}

func abortFuture(f *api.Future) {
	if f != nil && !f.Ready() {
		f.Abort(api.ErrFDAborted)
	}
}

// Forget marks the state so any in-flight completion aborts rather than
// fulfills, cancels the outstanding poll SQE, and frees the state once the
// cancellation has been reaped.
func (b *Backend) Forget(pub *api.PollableFDState) {
	priv, ok := b.states[pub.FD]
	if !ok {
		return
	}
	priv.inForget = true
	if priv.idx >= 0 {
		b.cancelSlot(priv.idx)
	}
	for priv.idx >= 0 {
		if !b.reapOne(false) {
			break
		}
	}
	abortFuture(priv.readFut)
	abortFuture(priv.writeFut)
	abortFuture(priv.rwFut)
	delete(b.states, pub.FD)
}
