//go:build linux
// +build linux

// File: pool/numa_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux NUMA node counting, via sysfs rather than cgo/libnuma: per-node
// allocation itself (numa_alloc_onnode) has no portable non-cgo
// equivalent, so node-local buffers degrade to plain heap allocation, but
// the node count this module's scheduling ambient uses to pick a
// preferred node stays real.

package pool

import (
	"os"
	"strings"
)

// linuxNUMAAllocator reports real node counts off sysfs, but allocates
// from the regular heap: without cgo there is no portable way to ask the
// kernel for node-local pages, so "NUMA-aware" here means "NUMA-counted".
type linuxNUMAAllocator struct{}

func newLinuxNUMAAllocator() NUMAAllocator {
	return &linuxNUMAAllocator{}
}

func (l *linuxNUMAAllocator) Alloc(size int, node int) ([]byte, error) {
	return make([]byte, size), nil
}

func (l *linuxNUMAAllocator) Free(buf []byte) {
	// GC reclaims plain heap slices; nothing to release explicitly.
}

// Nodes counts nodeN entries under /sys/devices/system/node, falling back
// to a single node when the directory is absent (containers/VMs commonly
// lack it even on a NUMA-capable host kernel).
func (l *linuxNUMAAllocator) Nodes() (int, error) {
	entries, err := os.ReadDir("/sys/devices/system/node")
	if err != nil {
		return 1, nil
	}
	count := 0
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "node") && len(name) > 4 {
			if _, err := os.Stat("/sys/devices/system/node/" + name + "/cpulist"); err == nil {
				count++
			}
		}
	}
	if count == 0 {
		return 1, nil
	}
	return count, nil
}
