//go:build linux
// +build linux

// File: backend/aiobackend/errors.go
// Author: momentics <momentics@gmail.com>

package aiobackend

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/ioreactor/api"
)

const eintr = 4

var zeroTimeout = &unix.Timespec{}

func apiSubmitError(errno int) error {
	return api.NewError(api.ErrCodeInternal, "io_submit failed on the general polling context").WithContext("errno", errno)
}

// resultError turns a negative completion result into an error; -ECANCELED
// specifically means "aborted by forget".
func resultError(res int64) error {
	if res == -ecanceled {
		return api.ErrFDAborted
	}
	return api.NewError(api.ErrCodeIO, "general poll completion failed").WithContext("res", res)
}
