//go:build linux
// +build linux

// File: backend/uring/uring_linux.go
// Author: momentics <momentics@gmail.com>
//
// Raw io_uring bindings: io_uring_setup/io_uring_enter/io_uring_register are
// not wrapped by golang.org/x/sys/unix, so these follow the same raw
// Syscall6 pattern used elsewhere in this module for unwrapped syscalls,
// with the io_uring_params/SQE/CQE layouts matching the kernel's actual
// ABI field order rather than a simplified, fixed-size approximation.
package uring

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	sysIOUringSetup    = 425
	sysIOUringEnter    = 426
	sysIOUringRegister = 427
)

const (
	IORingSetupSQPoll = 1 << 1
	IORingSetupIOPoll = 1 << 0
	IORingSetupCQSize = 1 << 3
	IORingSetupClamp  = 1 << 4

	IORingFeatSingleMMap  = 1 << 0
	IORingFeatSubmitStable = 1 << 2
	IORingFeatNoDrop      = 1 << 1

	IORingEnterGetevents = 1 << 0
	IORingEnterSQWakeup  = 1 << 1
	IORingEnterExtArg    = 1 << 3

	IORingOpNop      = 0
	IORingOpReadv    = 1
	IORingOpWritev   = 2
	IORingOpFsync    = 3
	IORingOpPollAdd  = 6
	IORingOpPollRemove = 7
	IORingOpRead     = 22
	IORingOpWrite    = 23
	IORingOpAsyncCancel = 14

	sqeSize = 64
	cqeSize = 16

	ioringRegisterProbe = 8
	ioURingOpSupported  = 1 << 0
	probeMaxOps         = 64
)

// ioUringProbeOp/ioUringProbe mirror struct io_uring_probe_op/io_uring_probe
// from linux/io_uring.h, used by IORING_REGISTER_PROBE to discover which
// opcodes a running kernel actually implements.
type ioUringProbeOp struct {
	Op    uint8
	Resv  uint8
	Flags uint16
	Resv2 uint32
}

type ioUringProbe struct {
	LastOp uint8
	OpsLen uint8
	Resv   uint16
	Resv2  [3]uint32
	Ops    [probeMaxOps]ioUringProbeOp
}

// ioSqringOffsets/ioCqringOffsets mirror struct io_sqring_offsets/
// io_cqring_offsets from linux/io_uring.h.
type ioSqringOffsets struct {
	Head, Tail, RingMask, RingEntries, Flags, Dropped, Array, Resv1 uint32
	UserAddr                                                       uint64
}

type ioCqringOffsets struct {
	Head, Tail, RingMask, RingEntries, Overflow, CQEs, Flags, Resv1 uint32
	UserAddr                                                        uint64
}

// ioUringParams mirrors struct io_uring_params.
type ioUringParams struct {
	SQEntries    uint32
	CQEntries    uint32
	Flags        uint32
	SQThreadCPU  uint32
	SQThreadIdle uint32
	Features     uint32
	WQFd         uint32
	Resv         [3]uint32
	SQOff        ioSqringOffsets
	CQOff        ioCqringOffsets
}

// sqe mirrors struct io_uring_sqe's fixed-size prefix; the union tail is
// represented as raw padding since this backend never uses fixed buffers,
// splice, or provide-buffers opcodes.
type sqe struct {
	Opcode      uint8
	Flags       uint8
	IoPrio      uint16
	Fd          int32
	Off         uint64
	Addr        uint64
	Len         uint32
	OpFlags     uint32
	UserData    uint64
	BufIndex    uint16
	Personality uint16
	SpliceFDIn  int32
	Pad         [2]uint64
}

// cqe mirrors struct io_uring_cqe.
type cqe struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

func ioUringSetup(entries uint32, p *ioUringParams) (int, error) {
	fd, _, errno := unix.Syscall(sysIOUringSetup, uintptr(entries), uintptr(unsafe.Pointer(p)), 0)
	if errno != 0 {
		return -1, fmt.Errorf("io_uring_setup: %w", errno)
	}
	return int(fd), nil
}

func ioUringEnter(fd int, toSubmit, minComplete uint32, flags uint32) (int, int) {
	r, _, errno := unix.Syscall6(sysIOUringEnter, uintptr(fd), uintptr(toSubmit), uintptr(minComplete),
		uintptr(flags), 0, 0)
	if errno != 0 {
		return -1, int(errno)
	}
	return int(r), 0
}

func ioUringRegister(fd int, opcode uint32, arg unsafe.Pointer, nrArgs uint32) (int, int) {
	r, _, errno := unix.Syscall6(sysIOUringRegister, uintptr(fd), uintptr(opcode), uintptr(arg), uintptr(nrArgs), 0, 0)
	if errno != 0 {
		return -1, int(errno)
	}
	return int(r), 0
}
