//go:build linux
// +build linux

// File: internal/storage/context.go
// Author: momentics <momentics@gmail.com>
//
// Context is the storage-AIO engine shared by the READY and AIO backends.
// It owns the legacy-AIO ring, the control-block pool, the
// submission/retry staging queues, and the background retry worker.

package storage

import (
	"log"
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/ioreactor/api"
	"github.com/momentics/ioreactor/control"
)

// DefaultMaxQueues is the default number of IO queues a core is assumed to
// run; MaxAIO must be at least its square.
const DefaultMaxQueues = 8

// DefaultMaxAIO is the default control-block pool size.
const DefaultMaxAIO = DefaultMaxQueues * DefaultMaxQueues * 2

// retryEntry is what travels through the eapache/queue-backed retry lists:
// the pool index of a staged-but-not-yet-submitted control block.
type retryEntry struct {
	idx int32
}

// Context is the shared Storage-AIO engine.
type Context struct {
	mu  sync.Mutex // guards pool + staging lists; loop-thread-only in practice, but retry worker touches activeRetry
	log *log.Logger

	ctx  aioContext
	pool *controlBlockPool

	sink             api.IOSink
	kernelPageCache  bool
	nowaitSupported  bool
	aioEventFD       int // >=0 if the reactor also polls this fd for wakeups
	submissionStage  []int32
	pendingRetry     *queue.Queue
	activeRetry      *queue.Queue
	retryInProgress  *api.Future
	submitToRetryWG  sync.WaitGroup
	evBuf            []ioEvent

	errorCount uint64
	metrics    *control.MetricsRegistry
}

// SetMetrics wires a registry that SubmitWork/ReapCompletions increment for
// submissions, completions, retries, and EAGAIN/EBADF dispositions. Passing
// nil (the default) disables metrics collection.
func (c *Context) SetMetrics(m *control.MetricsRegistry) {
	c.mu.Lock()
	c.metrics = m
	c.mu.Unlock()
}

func (c *Context) incr(key string, delta int64) {
	if c.metrics != nil {
		c.metrics.Incr(key, delta)
	}
}

// NewContext creates a storage context with a pool of maxAIO control
// blocks and submits through sink. kernelPageCache, when true, forces every
// request through the retry worker instead of the loop thread: this is
// required when the backing files may hit the page cache,
// because linux-aio is not actually asynchronous in that case.
func NewContext(sink api.IOSink, maxAIO int, kernelPageCache bool, logger *log.Logger) (*Context, error) {
	if maxAIO <= 0 {
		maxAIO = DefaultMaxAIO
	}
	ctx, err := ioSetup(uint32(maxAIO))
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Context{
		log:             logger,
		ctx:             ctx,
		pool:            newControlBlockPool(maxAIO),
		sink:            sink,
		kernelPageCache: kernelPageCache,
		nowaitSupported: true,
		aioEventFD:      -1,
		pendingRetry:    queue.New(),
		activeRetry:     queue.New(),
		evBuf:           make([]ioEvent, maxAIO),
	}, nil
}

// SetWakeupEventFD wires an eventfd that the reactor polls; when set,
// CanSleep no longer needs outstanding==0.
func (c *Context) SetWakeupEventFD(fd int) {
	c.aioEventFD = fd
}

// Outstanding returns the number of control blocks currently committed or
// retrying (the outstanding == max_aio-free_count invariant).
func (c *Context) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool.outstanding()
}

// RingHeadPtr exposes this ring's ring-head preemption word. Nothing in the
// module calls it; internal/preempt reads the word of its own ring through
// its own ringHeadPtr.
func (c *Context) RingHeadPtr() *uint32 {
	return ringHeadPtr(c.ctx)
}

// Close drains outstanding completions and destroys the ring, per this
// engine's at-exit lifecycle.
func (c *Context) Close() error {
	for c.Outstanding() > 0 {
		c.ReapCompletions(false)
	}
	return ioDestroy(c.ctx)
}

func prepareIOCB(req api.IORequest, idx int32, cb *iocb) {
	switch req.Opcode {
	case api.OpFdatasync:
		cb.opcode = uint16(iocbCmdFdSync)
		cb.fildes = uint32(req.FD)
	case api.OpWrite:
		cb.opcode = uint16(iocbCmdPWrite)
		cb.fildes = uint32(req.FD)
		cb.offset = req.Pos
		if len(req.Addr) > 0 {
			cb.buf = bytesAddr(req.Addr)
		}
		cb.nbytes = uint64(len(req.Addr))
		setNoWait(cb, req.NoWait)
	case api.OpWriteV:
		cb.opcode = uint16(iocbCmdPWriteV)
		cb.fildes = uint32(req.FD)
		cb.offset = req.Pos
		iov := makeIOVec(req.IOV)
		cb.buf = iovecAddr(iov)
		cb.nbytes = uint64(len(iov))
		setNoWait(cb, req.NoWait)
	case api.OpRead:
		cb.opcode = uint16(iocbCmdPRead)
		cb.fildes = uint32(req.FD)
		cb.offset = req.Pos
		if len(req.Addr) > 0 {
			cb.buf = bytesAddr(req.Addr)
		}
		cb.nbytes = uint64(len(req.Addr))
		setNoWait(cb, req.NoWait)
	case api.OpReadV:
		cb.opcode = uint16(iocbCmdPReadV)
		cb.fildes = uint32(req.FD)
		cb.offset = req.Pos
		iov := makeIOVec(req.IOV)
		cb.buf = iovecAddr(iov)
		cb.nbytes = uint64(len(iov))
		setNoWait(cb, req.NoWait)
	}
	cb.data = uint64(idx)
}

func setNoWait(cb *iocb, allowed bool) {
	if allowed {
		cb.rwFlags |= rwfNoWait
	} else {
		cb.rwFlags &^= rwfNoWait
	}
}

// setEventfdNotification asks the kernel to signal fd on completion, used
// when the reactor is wired to poll an eventfd instead of relying on
// outstanding==0 to decide CanSleep.
func setEventfdNotification(cb *iocb, fd int) {
	cb.flags |= iocbFlagResFD
	cb.resFD = uint32(fd)
}
