//go:build linux
// +build linux

// File: internal/storage/retry.go
// Author: momentics <momentics@gmail.com>
//
// The retry worker runs on a dedicated goroutine (pinned to its own OS
// thread) so its blocking io_submit never holds up the reactor loop (spec
// §4.2/§5). When the worker exits normally both pendingRetry and
// activeRetry are empty; when its io_submit fails it exits with the
// unsubmitted entries still queued, and the next SubmitWork call restarts
// it if needed.

package storage

import (
	"runtime"

	"github.com/momentics/ioreactor/api"
)

// scheduleRetry must be called with c.mu held; it starts the background
// worker and records a Future the loop thread can poll via
// retryInProgressLocked.
func (c *Context) scheduleRetry() {
	fut := api.NewFuture()
	c.retryInProgress = fut
	c.incr("storage.retries", 1)
	go c.runRetryWorker(fut)
}

func (c *Context) runRetryWorker(fut *api.Future) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer fut.CompleteWith(0)

	for {
		c.mu.Lock()
		if c.activeRetry.Length() == 0 {
			if c.pendingRetry.Length() == 0 {
				c.mu.Unlock()
				return
			}
			c.activeRetry, c.pendingRetry = c.pendingRetry, c.activeRetry
		}
		batch := c.activeRetryBatchLocked()
		c.mu.Unlock()

		r, errno := ioSubmit(c.ctx, batch)
		if r == -1 {
			c.log.Printf("storage: retry io_submit failed with errno %d, aborting retry loop", errno)
			return
		}

		c.mu.Lock()
		for i := 0; i < r; i++ {
			c.activeRetry.Remove()
		}
		c.mu.Unlock()
	}
}

// activeRetryBatchLocked returns the current activeRetry contents as a
// []*iocb batch, in FIFO order, without draining the queue (entries are
// only removed once the kernel reports them consumed).
func (c *Context) activeRetryBatchLocked() []*iocb {
	n := c.activeRetry.Length()
	batch := make([]*iocb, 0, n)
	for i := 0; i < n; i++ {
		entry := c.activeRetry.Get(i).(retryEntry)
		batch = append(batch, &c.pool.blocks[entry.idx])
	}
	return batch
}

