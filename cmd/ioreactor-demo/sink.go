//go:build linux
// +build linux

// File: cmd/ioreactor-demo/sink.go
// Author: momentics <momentics@gmail.com>
//
// demoSink is a toy api.IOSink backed by pool.RingBuffer, standing in for
// the scheduler-owned storage queue this module only ever drains.

package main

import (
	"github.com/momentics/ioreactor/api"
	"github.com/momentics/ioreactor/pool"
)

type queuedRequest struct {
	req        api.IORequest
	completion api.Completion
}

type demoSink struct {
	buf *pool.RingBuffer[queuedRequest]
}

func newDemoSink(capacity uint64) *demoSink {
	return &demoSink{buf: pool.NewRingBuffer[queuedRequest](capacity)}
}

// Submit enqueues a request for the next KernelSubmitWork to drain.
func (s *demoSink) Submit(req api.IORequest, completion api.Completion) bool {
	return s.buf.Enqueue(queuedRequest{req: req, completion: completion})
}

// Drain implements api.IOSink: fn is called once per queued item until it
// returns false (no more submission capacity), at which point the item
// that was refused is pushed back for the next call.
func (s *demoSink) Drain(fn func(req api.IORequest, completion api.Completion) bool) int {
	n := 0
	for {
		item, ok := s.buf.Dequeue()
		if !ok {
			break
		}
		if !fn(item.req, item.completion) {
			s.buf.Enqueue(item)
			break
		}
		n++
	}
	return n
}
