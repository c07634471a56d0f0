//go:build linux
// +build linux

// File: backend/aiobackend/general.go
// Author: momentics <momentics@gmail.com>
//
// generalContext is the second, smaller AIO ring used only for readiness
// polls and the cross-core wakeup eventfd. Storage requests never touch it.

package aiobackend

import (
	"log"

	"github.com/eapache/queue"

	"github.com/momentics/ioreactor/api"
)

const defaultGeneralEntries = 256

type generalContext struct {
	log *log.Logger

	ctx aioContext

	blocks      []iocb
	completions []api.Completion
	free        *queue.Queue // holds int32 free indices

	evBuf []ioEvent
}

func newGeneralContext(maxEntries int, logger *log.Logger) (*generalContext, error) {
	if maxEntries <= 0 {
		maxEntries = defaultGeneralEntries
	}
	ctx, err := ioSetup(uint32(maxEntries))
	if err != nil {
		return nil, err
	}
	g := &generalContext{
		log:         logger,
		ctx:         ctx,
		blocks:      make([]iocb, maxEntries),
		completions: make([]api.Completion, maxEntries),
		free:        queue.New(),
		evBuf:       make([]ioEvent, maxEntries),
	}
	for i := maxEntries - 1; i >= 0; i-- {
		g.free.Add(int32(i))
	}
	return g, nil
}

// submitPoll queues a single IOCB_CMD_POLL control block for fd, interested
// in the given poll event bits, and returns the slot index so the caller
// can cancel it later. The completion fires exactly once.
func (g *generalContext) submitPoll(fd int, pollEvents uint32, comp api.Completion) (int32, error) {
	if g.free.Length() == 0 {
		return -1, api.ErrResourceExhausted
	}
	idx := g.free.Remove().(int32)
	g.blocks[idx] = iocb{
		data:   uint64(idx),
		opcode: uint16(iocbCmdPoll),
		fildes: uint32(fd),
		buf:    uint64(pollEvents),
	}
	g.completions[idx] = comp
	r, errno := ioSubmit(g.ctx, []*iocb{&g.blocks[idx]})
	if r != 1 {
		g.completions[idx] = nil
		g.free.Add(idx)
		return -1, apiSubmitError(errno)
	}
	return idx, nil
}

// cancel issues io_cancel for an outstanding poll entry. The completion, if
// any, still fires (with -ECANCELED) once the cancellation is reaped; the
// slot is freed there, not here.
func (g *generalContext) cancel(idx int32) {
	if idx < 0 {
		return
	}
	ioCancel(g.ctx, &g.blocks[idx])
}

// drain non-blockingly reaps ready completions, dispatches each, and frees
// its slot. Returns true iff anything was reaped.
func (g *generalContext) drain() bool {
	r, errno := ioGetEvents(g.ctx, 0, g.evBuf, zeroTimeout)
	if r < 0 {
		if errno != eintr {
			g.log.Printf("aiobackend: general context io_getevents failed with errno %d", errno)
		}
		return false
	}
	for i := 0; i < r; i++ {
		ev := g.evBuf[i]
		idx := int32(ev.data)
		comp := g.completions[idx]
		g.completions[idx] = nil
		g.free.Add(idx)
		if comp == nil {
			continue
		}
		if ev.res < 0 {
			comp.Abort(resultError(ev.res))
		} else {
			comp.CompleteWith(ev.res)
		}
	}
	return r > 0
}

// blockingDrain waits for at least one completion (get_events(min=1,...))
// with no timeout, dispatches everything that is ready, and reports whether
// a full batch came back so the caller can keep draining without blocking
// again.
func (g *generalContext) blockingDrain(minEvents int) bool {
	if minEvents <= 0 {
		minEvents = 1
	}
	r, errno := ioGetEvents(g.ctx, minEvents, g.evBuf, nil)
	if r < 0 {
		if errno != eintr {
			g.log.Printf("aiobackend: general context blocking io_getevents failed with errno %d", errno)
		}
		return false
	}
	for i := 0; i < r; i++ {
		ev := g.evBuf[i]
		idx := int32(ev.data)
		comp := g.completions[idx]
		g.completions[idx] = nil
		g.free.Add(idx)
		if comp == nil {
			continue
		}
		if ev.res < 0 {
			comp.Abort(resultError(ev.res))
		} else {
			comp.CompleteWith(ev.res)
		}
	}
	return r == len(g.evBuf)
}

func (g *generalContext) close() error {
	return ioDestroy(g.ctx)
}
