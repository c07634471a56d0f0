//go:build linux
// +build linux

// File: selector/capacity.go
// Author: momentics <momentics@gmail.com>
//
// hasEnoughAIONr implements the AIO-reservation capacity gate, grounded on
// original_source's reactor_backend_selector::has_enough_aio_nr.
package selector

import (
	"os"
	"strconv"
	"strings"
)

func readFirstLineAsUint(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	line := strings.TrimSpace(strings.SplitN(string(data), "\n", 2)[0])
	return strconv.ParseUint(line, 10, 64)
}

// hasEnoughAIONr reports whether system-wide AIO reservation headroom
// (aio-max-nr minus aio-nr) is at least maxAIO*workerCount.
func hasEnoughAIONr(maxAIO, workerCount int) bool {
	maxNr, err := readFirstLineAsUint("/proc/sys/fs/aio-max-nr")
	if err != nil {
		return false
	}
	curNr, err := readFirstLineAsUint("/proc/sys/fs/aio-nr")
	if err != nil {
		return false
	}
	if maxNr < curNr {
		return false
	}
	headroom := maxNr - curNr
	return headroom >= uint64(maxAIO)*uint64(workerCount)
}
