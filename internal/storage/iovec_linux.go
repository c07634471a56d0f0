//go:build linux
// +build linux

// File: internal/storage/iovec_linux.go
// Author: momentics <momentics@gmail.com>
//
// Small unsafe helpers converting Go byte slices into the raw addresses the
// kernel AIO ABI expects. Callers must keep the backing slices alive (via
// runtime.KeepAlive or, in this package, by holding them in the in-flight
// Completion) until the kernel has consumed the control block.

package storage

import "unsafe"

type rawIOVec struct {
	base uint64
	len  uint64
}

func bytesAddr(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

func makeIOVec(bufs [][]byte) []rawIOVec {
	iov := make([]rawIOVec, 0, len(bufs))
	for _, b := range bufs {
		iov = append(iov, rawIOVec{base: bytesAddr(b), len: uint64(len(b))})
	}
	return iov
}

func iovecAddr(iov []rawIOVec) uint64 {
	if len(iov) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&iov[0])))
}
