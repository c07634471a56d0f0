//go:build linux
// +build linux

// File: affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux implementation for setting thread CPU affinity, via
// sched_setaffinity rather than a cgo call into pthread_setaffinity_np:
// each reactor core pins its own loop goroutine, and the kernel syscall is
// the cheaper, toolchain-friendly way to say the same thing.

package affinity

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// setAffinityPlatform pins the calling OS thread to cpuID via
// sched_setaffinity(2). The caller must have already called
// runtime.LockOSThread, since Go may otherwise reschedule the goroutine
// onto a different OS thread between this call and the work it guards.
func setAffinityPlatform(cpuID int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: sched_setaffinity(cpu=%d): %w", cpuID, err)
	}
	return nil
}
