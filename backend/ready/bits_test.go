//go:build linux
// +build linux

package ready

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/momentics/ioreactor/api"
)

func TestEpollBitsForCombinesReadAndWrite(t *testing.T) {
	got := epollBitsFor(api.EdgeRead | api.EdgeWrite)
	want := uint32(unix.EPOLLIN | unix.EPOLLOUT)
	if got != want {
		t.Fatalf("epollBitsFor(read|write) = %#x, want %#x", got, want)
	}
}

func TestEpollBitsForReadOnly(t *testing.T) {
	if got := epollBitsFor(api.EdgeRead); got != uint32(unix.EPOLLIN) {
		t.Fatalf("epollBitsFor(read) = %#x, want EPOLLIN", got)
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
