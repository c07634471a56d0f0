//go:build linux
// +build linux

// File: internal/storage/controlblock.go
// Author: momentics <momentics@gmail.com>
//
// controlBlockPool is the fixed-size pool of iocb and the Completion each is
// currently bound to (§3's "fixed-size pool of submission control blocks").
// The free list is a stack, matching the source's iocb_pool (a
// boost::container::static_vector used as a stack of pointers).

package storage

import "github.com/momentics/ioreactor/api"

// controlBlockPool owns exactly maxAIO control blocks. A control block is
// "outstanding" from the moment it is handed out by get() until it is
// returned by put(); outstanding() must always equal maxAIO-len(free).
type controlBlockPool struct {
	blocks      []iocb
	completions []api.Completion
	free        []int32
}

func newControlBlockPool(maxAIO int) *controlBlockPool {
	p := &controlBlockPool{
		blocks:      make([]iocb, maxAIO),
		completions: make([]api.Completion, maxAIO),
		free:        make([]int32, maxAIO),
	}
	for i := range p.free {
		p.free[i] = int32(maxAIO - 1 - i)
	}
	return p
}

func (p *controlBlockPool) hasCapacity() bool {
	return len(p.free) > 0
}

// getOne pops a free index and returns it along with the control block to
// populate. Caller must have checked hasCapacity().
func (p *controlBlockPool) getOne() (int32, *iocb) {
	n := len(p.free) - 1
	idx := p.free[n]
	p.free = p.free[:n]
	return idx, &p.blocks[idx]
}

func (p *controlBlockPool) putOne(idx int32) {
	p.blocks[idx] = iocb{}
	p.completions[idx] = nil
	p.free = append(p.free, idx)
}

func (p *controlBlockPool) outstanding() int {
	return len(p.blocks) - len(p.free)
}

func (p *controlBlockPool) maxAIO() int {
	return len(p.blocks)
}
