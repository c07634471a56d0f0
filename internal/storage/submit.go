//go:build linux
// +build linux

// File: internal/storage/submit.go
// Author: momentics <momentics@gmail.com>
//
// SubmitWork implements the four-step submission path: stage, submit,
// handle errors, schedule retry.

package storage

import (
	"github.com/momentics/ioreactor/api"
)

// SubmitWork drains the IOSink into the control-block pool, submits the
// staged batch, and schedules a background retry if anything was deferred.
// It returns true iff any submission (or staging-for-retry) occurred.
func (c *Context) SubmitWork() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.submissionStage = c.submissionStage[:0]
	c.sink.Drain(func(req api.IORequest, completion api.Completion) bool {
		if !c.pool.hasCapacity() {
			return false
		}
		idx, cb := c.pool.getOne()
		prepareIOCB(req, idx, cb)
		if c.aioEventFD >= 0 {
			setEventfdNotification(cb, c.aioEventFD)
		}
		c.pool.completions[idx] = completion
		c.submissionStage = append(c.submissionStage, idx)
		return true
	})

	didWork := false
	toSubmit := len(c.submissionStage)

	if c.kernelPageCache && toSubmit > 0 {
		// linux-aio is not actually asynchronous against the page cache, so
		// submitting from the loop thread could block it. Route everything
		// through the retry worker instead.
		didWork = true
		for _, idx := range c.submissionStage {
			setNoWait(&c.pool.blocks[idx], false)
			c.pendingRetry.Add(retryEntry{idx: idx})
		}
		toSubmit = 0
	}

	submitted := 0
	for toSubmit > submitted {
		batch := c.iocbBatch(c.submissionStage[submitted:toSubmit])
		r, errno := ioSubmit(c.ctx, batch)
		var consumed int
		if r == -1 {
			consumed = c.handleAIOError(c.submissionStage[submitted], errno)
		} else {
			consumed = r
		}
		didWork = true
		if consumed == 0 {
			for _, idx := range c.submissionStage[submitted:toSubmit] {
				c.pendingRetry.Add(retryEntry{idx: idx})
			}
			break
		}
		submitted += consumed
	}
	if submitted > 0 {
		c.incr("storage.submissions", int64(submitted))
	}

	if c.needToRetry() && !c.retryInProgressLocked() {
		c.scheduleRetry()
	}
	return didWork
}

// iocbBatch returns pointers into the pool for the given indices, in order.
func (c *Context) iocbBatch(indices []int32) []*iocb {
	batch := make([]*iocb, len(indices))
	for i, idx := range indices {
		batch[i] = &c.pool.blocks[idx]
	}
	return batch
}

// handleAIOError disposes of the first control block in a failed submit:
// EAGAIN consumes nothing and the loop stops, moving the unsubmitted rest of
// the batch to pendingRetry; EBADF synthesizes an
// immediate -EBADF completion and consumes one
// block so the loop can advance; anything else is a fatal configuration bug.
func (c *Context) handleAIOError(idx int32, errno int) int {
	const (
		eagain = 11
		ebadf  = 9
	)
	switch errno {
	case eagain:
		c.incr("storage.eagain", 1)
		return 0
	case ebadf:
		c.incr("storage.ebadf", 1)
		completion := c.pool.completions[idx]
		c.pool.putOne(idx)
		if completion != nil {
			completion.CompleteWith(-int64(ebadf))
		}
		return 1
	default:
		c.errorCount++
		c.log.Printf("storage: io_submit failed with errno %d, aborting core", errno)
		panic(api.NewError(api.ErrCodeInternal, "io_submit failed").WithContext("errno", errno))
	}
}

func (c *Context) needToRetry() bool {
	return c.pendingRetry.Length() > 0 || c.activeRetry.Length() > 0
}

func (c *Context) retryInProgressLocked() bool {
	return c.retryInProgress != nil && !c.retryInProgress.Ready()
}
