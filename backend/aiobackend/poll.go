//go:build linux
// +build linux

// File: backend/aiobackend/poll.go
// Author: momentics <momentics@gmail.com>
//
// poll(state, events) and forget: a poll-type control block formatted with
// the requested interest, queued on the general context, delivering its
// one-shot readiness edge to the caller's future.

package aiobackend

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/ioreactor/api"
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

// resubmitPoll cancels any outstanding poll control block for priv and
// submits a new one covering the current union of requested edges; a
// poll-type iocb is one-shot and cannot have its interest mask modified
// in place the way epoll_ctl(MOD) can.
func (b *Backend) resubmitPoll(priv *pfdPrivate) {
	if priv.idx >= 0 {
		b.general.cancel(priv.idx)
		priv.idx = -1
	}
	bits := pollBitsFor(priv.pub.EventsRequested)
	if bits == 0 {
		return
	}
	idx, err := b.general.submitPoll(int(priv.pub.FD), bits, &pollCompletion{b: b, fd: priv.pub.FD})
	if err != nil {
		b.log.Printf("aiobackend: poll submit for fd=%d failed: %v", priv.pub.FD, err)
		return
	}
	priv.idx = idx
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

// pollCompletion adapts a general-context slot's completion back into edge
// dispatch on the owning pfdPrivate, looked up by fd since forget may have
// already deleted the state by the time a cancelled completion is reaped.
type pollCompletion struct {
	b  *Backend
	fd uintptr
}

func (p *pollCompletion) CompleteWith(res int64) {
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
// fulfills, cancels the outstanding poll control block, and frees the
// state once the cancellation has been reaped.
func (b *Backend) Forget(pub *api.PollableFDState) {
	priv, ok := b.states[pub.FD]
	if !ok {
		return
	}
	priv.inForget = true
	if priv.idx >= 0 {
		b.general.cancel(priv.idx)
	}
	// Drain until the cancellation (or a last legitimate completion) has
	// been reaped, so every future handed out for fd resolves before
	// Forget returns.
	for priv.idx >= 0 {
		if !b.general.drain() {
			break
		}
	}
	abortFuture(priv.readFut)
	abortFuture(priv.writeFut)
	abortFuture(priv.rwFut)
	delete(b.states, pub.FD)
}
