//go:build linux
// +build linux

// File: internal/storage/aio_linux.go
// Author: momentics <momentics@gmail.com>
//
// Raw syscall bindings for the legacy Linux AIO facility (io_setup,
// io_submit, io_getevents, io_cancel, io_destroy). golang.org/x/sys/unix
// does not wrap these directly, so they are invoked the same way the
// teacher's uring transport invokes io_uring_setup: via unix.Syscall with
// the raw syscall numbers (internal/transport/transport_linux_uring.go).
package storage

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	sysIOSetup     = 206
	sysIODestroy   = 207
	sysIOGetEvents = 208
	sysIOSubmit    = 209
	sysIOCancel    = 210
)

// ioCmd names a legacy-AIO iocb opcode (linux/aio_abi.h IOCB_CMD_*).
type ioCmd uint16

const (
	iocbCmdPRead  ioCmd = 0
	iocbCmdPWrite ioCmd = 1
	iocbCmdFSync  ioCmd = 2
	iocbCmdFdSync ioCmd = 3
	iocbCmdPoll   ioCmd = 5
	iocbCmdNoop   ioCmd = 6
	iocbCmdPReadV ioCmd = 7
	iocbCmdPWriteV ioCmd = 8
)

const (
	iocbFlagResFD = 1 << 0
	// rwfNoWait is RWF_NOWAIT, set in aio_rw_flags to ask the kernel to fail
	// with EAGAIN instead of blocking when the op would otherwise wait on
	// the page cache.
	rwfNoWait = 0x8
)

// iocb mirrors struct iocb from linux/aio_abi.h on little-endian targets.
// Field order and sizes must match exactly: the kernel reads this memory
// directly.
type iocb struct {
	data      uint64
	key       uint32
	rwFlags   uint32
	opcode    uint16
	reqPrio   int16
	fildes    uint32
	buf       uint64
	nbytes    uint64
	offset    int64
	reserved2 uint64
	flags     uint32
	resFD     uint32
}

// ioEvent mirrors struct io_event from linux/aio_abi.h.
type ioEvent struct {
	data uint64
	obj  uint64
	res  int64
	res2 int64
}

// aioContext is the opaque context handle returned by io_setup. On Linux it
// is, by ABI accident, the address of the kernel-mmap'd completion ring
// living in this process's address space — the fact the ring-head trick of
// §4.3 exploits.
type aioContext uintptr

func ioSetup(nrEvents uint32) (aioContext, error) {
	var ctx aioContext
	_, _, errno := unix.Syscall(sysIOSetup, uintptr(nrEvents), uintptr(unsafe.Pointer(&ctx)), 0)
	if errno != 0 {
		return 0, fmt.Errorf("io_setup: %w", errno)
	}
	return ctx, nil
}

func ioDestroy(ctx aioContext) error {
	_, _, errno := unix.Syscall(sysIODestroy, uintptr(ctx), 0, 0)
	if errno != 0 {
		return fmt.Errorf("io_destroy: %w", errno)
	}
	return nil
}

// ioSubmit submits the first len(cbs) control blocks and returns the number
// actually consumed, or -1 with errno set on hard failure (including EAGAIN).
func ioSubmit(ctx aioContext, cbs []*iocb) (int, int) {
	if len(cbs) == 0 {
		return 0, 0
	}
	r, _, errno := unix.Syscall(sysIOSubmit, uintptr(ctx), uintptr(len(cbs)), uintptr(unsafe.Pointer(&cbs[0])))
	if errno != 0 {
		return -1, int(errno)
	}
	return int(r), 0
}

func ioCancel(ctx aioContext, cb *iocb) error {
	var discard ioEvent
	_, _, errno := unix.Syscall6(sysIOCancel, uintptr(ctx), uintptr(unsafe.Pointer(cb)), uintptr(unsafe.Pointer(&discard)), 0, 0, 0)
	if errno != 0 {
		return fmt.Errorf("io_cancel: %w", errno)
	}
	return nil
}

// ioGetEvents reaps between minNr and len(events) completions, waiting up to
// timeout (nil blocks indefinitely, &zero polls). It returns the number of
// events filled in, or -1/errno.
func ioGetEvents(ctx aioContext, minNr int, events []ioEvent, timeout *unix.Timespec) (int, int) {
	if len(events) == 0 {
		return 0, 0
	}
	r, _, errno := unix.Syscall6(sysIOGetEvents, uintptr(ctx), uintptr(minNr), uintptr(len(events)),
		uintptr(unsafe.Pointer(&events[0])), uintptr(unsafe.Pointer(timeout)), 0)
	if errno != 0 {
		return -1, int(errno)
	}
	return int(r), 0
}

// ringHeadPtr returns the address of the word 8 bytes into the context's
// completion ring, treated as the runtime's NeedPreempt word. This is
// inherently dependent on the kernel's current aio_ring layout; a missed
// edge is harmless because preemption is advisory and the next blocking
// wait will still observe real completions.
func ringHeadPtr(ctx aioContext) *uint32 {
	return (*uint32)(unsafe.Pointer(uintptr(ctx) + 8))
}
