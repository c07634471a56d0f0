//go:build linux
// +build linux

// File: backend/uring/errors.go
// Author: momentics <momentics@gmail.com>

package uring

import (
	"github.com/momentics/ioreactor/api"
)

const ecanceled = 125

// resultError turns a negative CQE result into an error; -ECANCELED means
// "aborted by forget," not "failed".
func resultError(res int32) error {
	if res == -ecanceled {
		return api.ErrFDAborted
	}
	return api.NewError(api.ErrCodeIO, "uring completion failed").WithContext("res", res)
}
