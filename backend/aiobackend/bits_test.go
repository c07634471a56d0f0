//go:build linux
// +build linux

package aiobackend

import (
	"testing"

	"github.com/momentics/ioreactor/api"
)

func TestPollBitsForCombinesReadAndWrite(t *testing.T) {
	got := pollBitsFor(api.EdgeRead | api.EdgeWrite)
	want := uint32(pollIn | pollOut)
	if got != want {
		t.Fatalf("pollBitsFor(read|write) = %#x, want %#x", got, want)
	}
}

func TestPollBitsForNoEdgesIsZero(t *testing.T) {
	if got := pollBitsFor(0); got != 0 {
		t.Fatalf("pollBitsFor(0) = %#x, want 0", got)
	}
}

func TestReadyFutureResolvesImmediately(t *testing.T) {
	f := readyFuture()
	if !f.Ready() {
		t.Fatal("readyFuture() should already be resolved")
	}
	if err := f.Wait(); err != nil {
		t.Fatalf("readyFuture().Wait() = %v, want nil", err)
	}
}

func TestResultErrorMapsCanceledToAborted(t *testing.T) {
	err := resultError(-ecanceled)
	if err != api.ErrFDAborted {
		t.Fatalf("resultError(-ECANCELED) = %v, want api.ErrFDAborted", err)
	}
}

func TestResultErrorOtherNegativeIsStructured(t *testing.T) {
	err := resultError(-5)
	apiErr, ok := err.(*api.Error)
	if !ok {
		t.Fatalf("resultError(-5) = %T, want *api.Error", err)
	}
	if apiErr.Code != api.ErrCodeIO {
		t.Fatalf("resultError(-5).Code = %v, want ErrCodeIO", apiErr.Code)
	}
}
