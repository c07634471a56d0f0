//go:build linux
// +build linux

// File: backend/uring/slots.go
// Author: momentics <momentics@gmail.com>
//
// slotTable maps an SQE's user_data to the api.Completion that should be
// invoked when its CQE lands, the same role internal/storage's
// controlBlockPool plays for legacy AIO.
package uring

import (
	"github.com/eapache/queue"

	"github.com/momentics/ioreactor/api"
)

type slotTable struct {
	completions []api.Completion
	free        *queue.Queue
}

func newSlotTable(size int) *slotTable {
	t := &slotTable{
		completions: make([]api.Completion, size),
		free:        queue.New(),
	}
	for i := size - 1; i >= 0; i-- {
		t.free.Add(int32(i))
	}
	return t
}

func (t *slotTable) hasCapacity() bool {
	return t.free.Length() > 0
}

func (t *slotTable) take(comp api.Completion) (int32, bool) {
	if t.free.Length() == 0 {
		return -1, false
	}
	idx := t.free.Remove().(int32)
	t.completions[idx] = comp
	return idx, true
}

func (t *slotTable) release(idx int32) api.Completion {
	comp := t.completions[idx]
	t.completions[idx] = nil
	t.free.Add(idx)
	return comp
}

func (t *slotTable) outstanding() int {
	return len(t.completions) - t.free.Length()
}
