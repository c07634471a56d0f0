//go:build linux
// +build linux

// File: backend/aiobackend/aio_linux.go
// Author: momentics <momentics@gmail.com>
//
// Raw legacy-AIO bindings for the general polling context: a second,
// smaller ring used for polling interest, kept separate from storage
// requests. Grounded the same way as internal/storage's copy: a raw
// Syscall6 pattern, since x/sys/unix does not wrap
// io_setup/io_submit/io_getevents.
package aiobackend

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

const iocbCmdPoll = 5

const (
	pollIn  = 0x0001
	pollOut = 0x0004
	// ecanceled is the errno value the kernel reports for a cancelled iocb's
	// completion result.
	ecanceled = 125
)

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

type ioEvent struct {
	data uint64
	obj  uint64
	res  int64
	res2 int64
}

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
