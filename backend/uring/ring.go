//go:build linux
// +build linux

// File: backend/uring/ring.go
// Author: momentics <momentics@gmail.com>
//
// ring owns the mmap'd submission and completion queues of a single,
// unified io_uring instance used for everything: storage, readiness, and
// timers alike.
package uring

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// byte offsets passed to mmap on the ring fd to select the SQ ring, the
	// CQ ring and the SQE array (linux/io_uring.h's IORING_OFF_* values).
	ioringOffSQRing = 0
	ioringOffCQRing = 0x8000000
	ioringOffSQEs   = 0x10000000
)

type ring struct {
	fd int

	features uint32

	sqMmap  []byte
	cqMmap  []byte
	sqeMmap []byte

	sqHead  *uint32
	sqTail  *uint32
	sqMask  uint32
	sqArray []uint32
	sqFlags *uint32

	cqHead  *uint32
	cqTail  *uint32
	cqMask  uint32
	cqes    []cqe

	sqes []sqe

	sqeTail uint32 // local shadow of the next sqe slot to fill, not yet published
}

func newRing(entries uint32) (*ring, error) {
	var p ioUringParams
	p.Flags = IORingSetupClamp

	fd, err := ioUringSetup(entries, &p)
	if err != nil {
		return nil, err
	}

	sqRingSize := uintptr(p.SQOff.Array) + uintptr(p.SQEntries)*4
	cqRingSize := uintptr(p.CQOff.CQEs) + uintptr(p.CQEntries)*cqeSize
	sqeRingSize := uintptr(p.SQEntries) * sqeSize

	sqMmap, err := unix.Mmap(fd, ioringOffSQRing, int(sqRingSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("uring: mmap SQ ring: %w", err)
	}
	cqMmap, err := unix.Mmap(fd, ioringOffCQRing, int(cqRingSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		unix.Munmap(sqMmap)
		unix.Close(fd)
		return nil, fmt.Errorf("uring: mmap CQ ring: %w", err)
	}
	sqeMmap, err := unix.Mmap(fd, ioringOffSQEs, int(sqeRingSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		unix.Munmap(cqMmap)
		unix.Munmap(sqMmap)
		unix.Close(fd)
		return nil, fmt.Errorf("uring: mmap SQEs: %w", err)
	}

	base := uintptr(unsafe.Pointer(&sqMmap[0]))
	r := &ring{
		fd:       fd,
		features: p.Features,
		sqMmap:   sqMmap,
		cqMmap:   cqMmap,
		sqeMmap:  sqeMmap,
		sqHead:   (*uint32)(unsafe.Pointer(base + uintptr(p.SQOff.Head))),
		sqTail:   (*uint32)(unsafe.Pointer(base + uintptr(p.SQOff.Tail))),
		sqMask:   *(*uint32)(unsafe.Pointer(base + uintptr(p.SQOff.RingMask))),
		sqFlags:  (*uint32)(unsafe.Pointer(base + uintptr(p.SQOff.Flags))),
	}
	sqArrayPtr := (*uint32)(unsafe.Pointer(base + uintptr(p.SQOff.Array)))
	r.sqArray = unsafe.Slice(sqArrayPtr, int(p.SQEntries))

	cqBase := uintptr(unsafe.Pointer(&cqMmap[0]))
	r.cqHead = (*uint32)(unsafe.Pointer(cqBase + uintptr(p.CQOff.Head)))
	r.cqTail = (*uint32)(unsafe.Pointer(cqBase + uintptr(p.CQOff.Tail)))
	r.cqMask = *(*uint32)(unsafe.Pointer(cqBase + uintptr(p.CQOff.RingMask)))
	cqesPtr := (*cqe)(unsafe.Pointer(cqBase + uintptr(p.CQOff.CQEs)))
	r.cqes = unsafe.Slice(cqesPtr, int(p.CQEntries))

	sqesPtr := (*sqe)(unsafe.Pointer(&sqeMmap[0]))
	r.sqes = unsafe.Slice(sqesPtr, int(p.SQEntries))

	r.sqeTail = atomic.LoadUint32(r.sqTail)
	return r, nil
}

// getSQE returns the next free submission queue entry, or nil if the ring
// is full, the transient-exhaustion case getSQEOrRetry resolves.
func (r *ring) getSQE() *sqe {
	head := atomic.LoadUint32(r.sqHead)
	if r.sqeTail-head >= uint32(len(r.sqes)) {
		return nil
	}
	idx := r.sqeTail & r.sqMask
	e := &r.sqes[idx]
	*e = sqe{}
	r.sqArray[idx] = idx
	r.sqeTail++
	return e
}

// pendingSubmissions reports how many SQEs have been filled since the last
// publish to the kernel-visible tail.
func (r *ring) pendingSubmissions() uint32 {
	return r.sqeTail - atomic.LoadUint32(r.sqTail)
}

// flush publishes every filled SQE and calls io_uring_enter to submit them,
// optionally also waiting for minComplete CQEs. Returns the number
// submitted.
func (r *ring) flush(minComplete uint32, wait bool) (int, int) {
	toSubmit := r.pendingSubmissions()
	if toSubmit == 0 && minComplete == 0 {
		return 0, 0
	}
	atomic.StoreUint32(r.sqTail, r.sqeTail)

	flags := uint32(0)
	if minComplete > 0 {
		flags |= IORingEnterGetevents
	}
	return ioUringEnter(r.fd, toSubmit, minComplete, flags)
}

// peekCQE returns a copy of the next unconsumed completion without
// advancing the ring, or ok=false if none is ready.
func (r *ring) peekCQE() (cqe, bool) {
	head := atomic.LoadUint32(r.cqHead)
	tail := atomic.LoadUint32(r.cqTail)
	if head == tail {
		return cqe{}, false
	}
	return r.cqes[head&r.cqMask], true
}

// advanceCQE consumes exactly one completion previously returned by peekCQE.
func (r *ring) advanceCQE() {
	atomic.AddUint32(r.cqHead, 1)
}

func (r *ring) close() error {
	unix.Munmap(r.sqeMmap)
	unix.Munmap(r.cqMmap)
	unix.Munmap(r.sqMmap)
	return unix.Close(r.fd)
}
