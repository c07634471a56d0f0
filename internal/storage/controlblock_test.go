//go:build linux
// +build linux

package storage

import "testing"

func TestControlBlockPoolOutstandingInvariant(t *testing.T) {
	p := newControlBlockPool(4)
	if p.outstanding() != 0 {
		t.Fatalf("fresh pool outstanding = %d, want 0", p.outstanding())
	}
	if !p.hasCapacity() {
		t.Fatal("fresh pool should have capacity")
	}

	idx1, _ := p.getOne()
	idx2, _ := p.getOne()
	if got := p.outstanding(); got != 2 {
		t.Fatalf("outstanding after 2 gets = %d, want 2", got)
	}

	p.putOne(idx1)
	if got := p.outstanding(); got != 1 {
		t.Fatalf("outstanding after 1 put = %d, want 1", got)
	}

	p.putOne(idx2)
	if got := p.outstanding(); got != 0 {
		t.Fatalf("outstanding after draining = %d, want 0", got)
	}
}

func TestControlBlockPoolExhaustion(t *testing.T) {
	p := newControlBlockPool(2)
	p.getOne()
	p.getOne()
	if p.hasCapacity() {
		t.Fatal("pool should report no capacity once every block is outstanding")
	}
	if p.outstanding() != p.maxAIO() {
		t.Fatalf("outstanding = %d, want maxAIO = %d", p.outstanding(), p.maxAIO())
	}
}

func TestControlBlockPoolReuseClearsState(t *testing.T) {
	p := newControlBlockPool(1)
	idx, cb := p.getOne()
	cb.fildes = 42
	p.completions[idx] = nil
	p.putOne(idx)

	idx2, cb2 := p.getOne()
	if idx2 != idx {
		t.Fatalf("single-block pool reused wrong index: got %d, want %d", idx2, idx)
	}
	if cb2.fildes != 0 {
		t.Fatalf("reused control block was not cleared: fildes = %d", cb2.fildes)
	}
}
