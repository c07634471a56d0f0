//go:build linux
// +build linux

// File: internal/storage/reap.go
// Author: momentics <momentics@gmail.com>
//
// ReapCompletions implements the non-blocking completion drain of spec
// §4.2: io_getevents(min_nr=0, nr=pool size, timeout=0), dispatching each
// event to the Completion that was staged alongside its control block.

package storage

import (
	"golang.org/x/sys/unix"
)

const (
	eintr  = 4
	eagain = 11
)

var zeroTimeout = &unix.Timespec{}

// ReapCompletions polls the ring for completed control blocks and resolves
// their Completion, returning them to the pool. When allowRetry is true and
// nothing was outstanding on the kernel ring but work remains staged on the
// retry lists, it nudges the retry worker awake by calling scheduleRetry if
// one is not already running. Returns true iff at least one event was
// reaped.
func (c *Context) ReapCompletions(allowRetry bool) bool {
	c.mu.Lock()
	outstanding := c.pool.outstanding() - c.pendingRetry.Length() - c.activeRetry.Length()
	if outstanding <= 0 {
		if allowRetry && c.needToRetry() && !c.retryInProgressLocked() {
			c.scheduleRetry()
		}
		c.mu.Unlock()
		return false
	}
	buf := c.evBuf
	if outstanding < len(buf) {
		buf = buf[:outstanding]
	}
	ctx := c.ctx
	c.mu.Unlock()

	n, errno := ioGetEvents(ctx, 0, buf, zeroTimeout)
	if n < 0 {
		if errno == eintr {
			return false
		}
		c.log.Printf("storage: io_getevents failed with errno %d", errno)
		return false
	}
	if n == 0 {
		return false
	}

	c.mu.Lock()
	c.incr("storage.completions", int64(n))
	for i := 0; i < n; i++ {
		ev := buf[i]
		idx := int32(ev.data)
		if ev.res == -eagain {
			c.incr("storage.eagain", 1)
			setNoWait(&c.pool.blocks[idx], false)
			c.pendingRetry.Add(retryEntry{idx: idx})
			continue
		}
		completion := c.pool.completions[idx]
		c.pool.putOne(idx)
		if completion == nil {
			continue
		}
		completion.CompleteWith(ev.res)
	}
	if allowRetry && c.needToRetry() && !c.retryInProgressLocked() {
		c.scheduleRetry()
	}
	c.mu.Unlock()
	return true
}
