//go:build linux
// +build linux

// File: selector/aio_linux.go
// Author: momentics <momentics@gmail.com>
//
// Raw AIO bindings used only to run detect_aio_poll's capability probe
// ahead of backend construction; a fourth independent copy of the same
// io_setup/io_submit/io_getevents/io_destroy binding, kept package-local
// like every other copy in this module: each ring owner formats its own
// control blocks.
package selector

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

	iocbCmdPoll = 5
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

// detectAIOPoll mirrors original_source's detect_aio_poll: a poll-type
// control block against a fresh eventfd must submit and, once the fd is
// written, complete. Some container seccomp whitelists omit io_pgetevents
// while still allowing io_getevents, so this uses the latter like the rest
// of the module's AIO call sites.
func detectAIOPoll() bool {
	fd, err := unix.Eventfd(0, 0)
	if err != nil {
		return false
	}
	defer unix.Close(fd)

	ctx, err := ioSetup(1)
	if err != nil {
		return false
	}
	defer ioDestroy(ctx)

	cb := iocb{
		opcode: uint16(iocbCmdPoll),
		fildes: uint32(fd),
		buf:    0x0001 | 0x0004, // POLLIN|POLLOUT
	}
	if r, _ := ioSubmit(ctx, []*iocb{&cb}); r != 1 {
		return false
	}

	one := uint64(1)
	unix.Write(fd, (*(*[8]byte)(unsafe.Pointer(&one)))[:])

	events := make([]ioEvent, 1)
	r, _ := ioGetEvents(ctx, 1, events, &unix.Timespec{Sec: 1})
	return r == 1
}
