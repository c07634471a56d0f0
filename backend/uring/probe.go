//go:build linux
// +build linux

// File: backend/uring/probe.go
// Author: momentics <momentics@gmail.com>
//
// Probe reports whether the running kernel advertises the stable-submit
// and no-drop features plus the operation set this backend needs,
// grounded on original_source's try_create_uring/io_uring_opcode_supported
// check ahead of reactor_backend_uring construction.
package uring

import (
	"os"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// requiredOps is the operation set this backend issues: poll-add, read,
// write, readv, writev, fsync.
var requiredOps = []uint8{
	IORingOpPollAdd, IORingOpRead, IORingOpWrite, IORingOpReadv, IORingOpWritev, IORingOpFsync,
}

// Probe opens a minimal io_uring instance, checks IORING_FEAT_SUBMIT_STABLE
// and IORING_FEAT_NODROP, registers a probe for the required opcode set,
// and tears the instance down. It never returns an error to the caller
// beyond ok=false: a missing uring feature or opcode is reported as plain
// unavailability, not surfaced as an error.
func Probe() bool {
	r, err := newRing(1)
	if err != nil {
		return false
	}
	defer r.close()

	if r.features&IORingFeatSubmitStable == 0 || r.features&IORingFeatNoDrop == 0 {
		return false
	}

	var probe ioUringProbe
	if _, errno := ioUringRegister(r.fd, ioringRegisterProbe, unsafe.Pointer(&probe), probeMaxOps); errno != 0 {
		return false
	}
	for _, op := range requiredOps {
		if int(op) > int(probe.LastOp) {
			return false
		}
		if probe.Ops[op].Flags&ioURingOpSupported == 0 {
			return false
		}
	}
	return true
}

// raidSafeKernelMajor/Minor is the known-good threshold below which RAID
// (md) devices fall back to workqueues and destroy uring's latency
// advantage; original_source's detect_io_uring whitelists "5.17".
const (
	raidSafeKernelMajor = 5
	raidSafeKernelMinor = 17
)

// RAIDSafe reports whether uring is safe to select given the running
// kernel and the presence of md (software RAID) block devices: unsafe only
// when md devices exist AND the kernel predates the whitelisted version.
func RAIDSafe() bool {
	if !hasMDDevices() {
		return true
	}
	return kernelAtLeast(raidSafeKernelMajor, raidSafeKernelMinor)
}

func hasMDDevices() bool {
	entries, err := os.ReadDir("/sys/block")
	if err != nil {
		return false
	}
	for _, e := range entries {
		if _, err := os.Stat("/sys/block/" + e.Name() + "/md"); err == nil {
			return true
		}
	}
	return false
}

func kernelAtLeast(major, minor int) bool {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return false
	}
	release := unix.ByteSliceToString(u.Release[:])
	parts := strings.SplitN(release, ".", 3)
	if len(parts) < 2 {
		return false
	}
	gotMajor, err := strconv.Atoi(leadingDigits(parts[0]))
	if err != nil {
		return false
	}
	gotMinor, err := strconv.Atoi(leadingDigits(parts[1]))
	if err != nil {
		return false
	}
	if gotMajor != major {
		return gotMajor > major
	}
	return gotMinor >= minor
}

func leadingDigits(s string) string {
	for i, r := range s {
		if r < '0' || r > '9' {
			return s[:i]
		}
	}
	return s
}
